package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncRangeCmd replays a block range through the reconciler without
// starting the server.
func newSyncRangeCmd(rt *runtime) *cobra.Command {
	var from, to uint64

	cmd := &cobra.Command{
		Use:   "sync-range",
		Short: "Replay ledger records of a block range into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !cmd.Flags().Changed("to") {
				latest, err := rt.reader.LatestBlock(ctx)
				if err != nil {
					return fmt.Errorf("latest block: %w", err)
				}
				to = latest
			}
			if to < from {
				return fmt.Errorf("--to %d is lower than --from %d", to, from)
			}

			report, err := rt.reconciler.SyncRange(ctx, from, to)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "first block to replay")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block to replay (default: latest)")
	return cmd
}
