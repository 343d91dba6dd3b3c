package main

import (
	"log/slog"
	"os"

	"ticket-ledger/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
