package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"

	"github.com/shopspring/decimal"
)

// Outcome is what applying one ledger record did to the store.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Reconciler applies ledger records to the store. Every handler matches on
// natural keys and checks the status graph before writing, so records may be
// delivered more than once and by the watcher and a range sync at the same
// time.
type Reconciler struct {
	store     *store.Store
	reader    ledger.Reader
	addresses *AddressRegistry
	notifier  Notifier
	monitor   *monitoring.Monitor

	factory   string
	batchSize uint64

	newReference func() (string, error)
}

func NewReconciler(st *store.Store, reader ledger.Reader, addresses *AddressRegistry, factoryAddress string, batchSize uint64, notifier Notifier, monitor *monitoring.Monitor) *Reconciler {
	if batchSize == 0 {
		batchSize = 500
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Reconciler{
		store:        st,
		reader:       reader,
		addresses:    addresses,
		notifier:     notifier,
		monitor:      monitor,
		factory:      ledger.NormalizeAddress(factoryAddress),
		batchSize:    batchSize,
		newReference: utils.GenerateTicketReference,
	}
}

// ApplyRaw decodes and applies one raw record.
func (r *Reconciler) ApplyRaw(ctx context.Context, raw ledger.RawRecord) Outcome {
	rec, err := ledger.Decode(raw)
	if err != nil {
		// Decoding a stored record fails the same way on every read.
		outcome := OutcomeSkipped
		slog.Warn("Undecodable ledger record", "address", raw.Address, "block", raw.BlockNumber, "name", raw.Name, "error", err)
		r.monitor.TrackRecord(string(raw.Name), string(outcome))
		return outcome
	}
	return r.Apply(ctx, rec)
}

// Apply applies one decoded record. Errors and panics are contained and
// reported as OutcomeFailed.
func (r *Reconciler) Apply(ctx context.Context, rec ledger.Record) (outcome Outcome) {
	meta := rec.Meta()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Panic applying ledger record", "kind", rec.Kind(), "address", meta.Address, "block", meta.BlockNumber, "panic", p)
			outcome = OutcomeFailed
		}
		r.monitor.TrackRecord(string(rec.Kind()), string(outcome))
	}()

	var err error
	switch rec := rec.(type) {
	case ledger.Created:
		outcome, err = r.applyCreated(ctx, rec)
	case ledger.Minted:
		outcome, err = r.applyMinted(ctx, rec)
	case ledger.Priced:
		outcome, err = r.transitionSale(ctx, meta, rec.TokenID, models.SaleListed, saleChange{price: rec.Price, reason: "resale listed"})
	case ledger.ResaleCancelled:
		outcome, err = r.transitionSale(ctx, meta, rec.TokenID, models.SaleOpen, saleChange{reason: "resale cancelled"})
	case ledger.StatusChanged:
		outcome, err = r.applyStatusChanged(ctx, rec)
	case ledger.Transferred:
		outcome, err = r.transitionSale(ctx, meta, rec.TokenID, models.SaleTransferred, saleChange{account: rec.To, reason: "transferred"})
	default:
		slog.Warn("Unhandled ledger record", "kind", rec.Kind(), "address", meta.Address)
		return OutcomeSkipped
	}

	if err != nil {
		slog.Error("Failed to apply ledger record", "kind", rec.Kind(), "address", meta.Address, "block", meta.BlockNumber, "tx_hash", meta.TxHash, "error", err)
		return OutcomeFailed
	}
	return outcome
}

func (r *Reconciler) applyCreated(ctx context.Context, rec ledger.Created) (Outcome, error) {
	if r.factory != "" && rec.Meta().Address != r.factory {
		slog.Warn("Creation record from unknown factory", "address", rec.Meta().Address, "program_address", rec.ProgramAddress)
		return OutcomeSkipped, nil
	}

	ev, claimed, err := r.store.ClaimEventProgram(ctx, store.ProgramClaim{
		Name:           rec.Name,
		Owner:          rec.Owner,
		ProgramAddress: rec.ProgramAddress,
		MaxSupply:      int64(rec.MaxSupply),
		BlockNumber:    int64(rec.Meta().BlockNumber),
	})
	if errors.Is(err, status.ErrEventNotFound) {
		slog.Warn("No event matches creation record", "name", rec.Name, "owner", rec.Owner, "program_address", rec.ProgramAddress)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	r.addresses.Watch(ev.ProgramAddress)
	if !claimed {
		return OutcomeDuplicate, nil
	}

	slog.Info("Event linked to ticket registry", "event_id", ev.ID, "program_address", ev.ProgramAddress, "block", ev.BlockNumber)
	return OutcomeApplied, nil
}

func (r *Reconciler) applyMinted(ctx context.Context, rec ledger.Minted) (Outcome, error) {
	meta := rec.Meta()

	ev, err := r.store.EventByProgram(ctx, meta.Address)
	if errors.Is(err, status.ErrEventNotFound) {
		slog.Warn("Mint record for unknown program", "program_address", meta.Address, "token_id", rec.TokenID)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	if dup, err := r.tokenConfirmed(ctx, meta.Address, rec.TokenID); err != nil || dup {
		return OutcomeDuplicate, err
	}

	candidates, err := r.store.UnconfirmedOrders(ctx, ev.ID, rec.ExpectedTimestamp)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(candidates) == 0 {
		slog.Warn("No unconfirmed order matches mint record", "event_id", ev.ID, "token_id", rec.TokenID, "expected_timestamp", rec.ExpectedTimestamp)
		return OutcomeSkipped, nil
	}

	candidates, owned := ownedBy(candidates, rec.Owner)
	if !owned {
		slog.Warn("No order from the token owner, matching on timestamp only", "event_id", ev.ID, "token_id", rec.TokenID, "owner", rec.Owner)
	}

	link := models.LedgerLinkage{
		TokenID:        int64(rec.TokenID),
		ProgramAddress: meta.Address,
		TxHash:         meta.TxHash,
		BlockNumber:    int64(meta.BlockNumber),
		LogIndex:       int64(meta.LogIndex),
	}

	for _, order := range candidates {
		reference, err := r.newReference()
		if err != nil {
			return OutcomeFailed, fmt.Errorf("generate ticket reference: %w", err)
		}

		confirmed, err := r.store.ConfirmMint(ctx, order.ID, link, reference)
		if err != nil {
			// A concurrent apply of the same record wins the unique token key.
			if dup, dupErr := r.tokenConfirmed(ctx, meta.Address, rec.TokenID); dupErr == nil && dup {
				return OutcomeDuplicate, nil
			}
			return OutcomeFailed, err
		}
		if !confirmed {
			continue
		}

		slog.Info("Order confirmed by mint", "order_id", order.ID, "token_id", rec.TokenID, "program_address", meta.Address)
		r.notifier.Notify(ctx, userChannel(order.Account), map[string]any{
			"type":     "ticket_issued",
			"order_id": order.ID,
			"event_id": ev.ID,
			"token_id": rec.TokenID,
		})
		return OutcomeApplied, nil
	}

	if dup, err := r.tokenConfirmed(ctx, meta.Address, rec.TokenID); err != nil || dup {
		return OutcomeDuplicate, err
	}
	slog.Warn("Every matching order was confirmed concurrently", "event_id", ev.ID, "token_id", rec.TokenID)
	return OutcomeSkipped, nil
}

// ownedBy keeps the orders placed by owner, or all of them when there are none.
func ownedBy(orders []models.Order, owner string) ([]models.Order, bool) {
	owner = ledger.NormalizeAddress(owner)
	var owned []models.Order
	for _, o := range orders {
		if ledger.NormalizeAddress(o.Account) == owner {
			owned = append(owned, o)
		}
	}
	if len(owned) == 0 {
		return orders, false
	}
	return owned, true
}

func (r *Reconciler) tokenConfirmed(ctx context.Context, program string, tokenID uint64) (bool, error) {
	_, err := r.store.OrderByToken(ctx, program, int64(tokenID))
	if errors.Is(err, status.ErrOrderNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Reconciler) applyStatusChanged(ctx context.Context, rec ledger.StatusChanged) (Outcome, error) {
	var to models.SaleStatus
	switch rec.Status {
	case models.TokenOpen:
		to = models.SaleOpen
	case models.TokenSale:
		to = models.SaleListed
	case models.TokenClosed:
		to = models.SaleClosed
	default:
		return OutcomeSkipped, nil
	}
	return r.transitionSale(ctx, rec.Meta(), rec.TokenID, to, saleChange{reason: "status " + string(rec.Status)})
}

type saleChange struct {
	account string
	price   decimal.Decimal
	reason  string
}

// transitionSale moves the sale of a token to status to. Edges the status
// graph does not allow are treated as already applied.
func (r *Reconciler) transitionSale(ctx context.Context, meta ledger.RecordMeta, tokenID uint64, to models.SaleStatus, change saleChange) (Outcome, error) {
	sale, err := r.store.SaleByToken(ctx, meta.Address, int64(tokenID))
	if errors.Is(err, status.ErrSaleNotFound) {
		slog.Warn("Ledger record for unknown ticket", "program_address", meta.Address, "token_id", tokenID, "status", to)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	// Records at or before the last one applied are replays.
	pos := models.LedgerPosition{Block: int64(meta.BlockNumber), LogIndex: int64(meta.LogIndex)}
	if !pos.After(sale.Position()) {
		return OutcomeDuplicate, nil
	}
	if to == models.SaleTransferred && sale.Status == models.SaleTransferred && sale.Account == change.account {
		return OutcomeDuplicate, nil
	}
	if !sale.Status.CanTransition(to) {
		if sale.Status != to {
			slog.Debug("Ignoring ledger status change", "sale_id", sale.ID, "from", sale.Status, "to", to)
		}
		return OutcomeDuplicate, nil
	}

	applied, err := r.store.TransitionSale(ctx, store.SaleTransition{
		SaleID:      sale.ID,
		From:        sale.Status,
		To:          to,
		Account:     change.account,
		ResalePrice: change.price,
		Position:    &pos,
		History: &models.SaleHistory{
			Action: models.ActionLedgerSync,
			Reason: change.reason,
		},
	})
	if err != nil {
		return OutcomeFailed, err
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

// WatchDeployed registers the program of every event already linked in the
// store.
func (r *Reconciler) WatchDeployed(ctx context.Context) error {
	events, err := r.store.EventsWithProgram(ctx)
	if err != nil {
		return fmt.Errorf("load deployed events: %w", err)
	}
	for _, ev := range events {
		r.addresses.Watch(ev.ProgramAddress)
	}
	return nil
}

// SyncRange replays blocks from..to for the factory and then every program
// address known to the store or registered by the factory records.
func (r *Reconciler) SyncRange(ctx context.Context, from, to uint64) (models.SyncReport, error) {
	start := time.Now()
	defer func() { r.monitor.TrackSyncRange(time.Since(start)) }()

	report := models.SyncReport{FromBlock: from, ToBlock: to}
	if to < from {
		return report, fmt.Errorf("invalid range %d..%d", from, to)
	}
	if err := r.WatchDeployed(ctx); err != nil {
		return report, err
	}

	if r.factory != "" {
		if err := r.syncAddress(ctx, r.factory, from, to, &report); err != nil {
			return report, err
		}
		report.Addresses++
	}

	for _, address := range r.addresses.Addresses() {
		if address == r.factory {
			continue
		}
		if err := r.syncAddress(ctx, address, from, to, &report); err != nil {
			return report, err
		}
		report.Addresses++
	}

	slog.Info("Range sync finished",
		"from", from, "to", to,
		"addresses", report.Addresses,
		"records", report.Records,
		"applied", report.Applied,
		"failed", report.Failed,
		"duration", time.Since(start))
	return report, nil
}

func (r *Reconciler) syncAddress(ctx context.Context, address string, from, to uint64, report *models.SyncReport) error {
	for chunk := from; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := to
		if to-chunk >= r.batchSize {
			end = chunk + r.batchSize - 1
		}

		raws, err := r.reader.Records(ctx, address, chunk, end)
		if err != nil {
			return fmt.Errorf("records %s %d..%d: %w", address, chunk, end, err)
		}
		for _, raw := range raws {
			report.Records++
			switch r.ApplyRaw(ctx, raw) {
			case OutcomeApplied:
				report.Applied++
			case OutcomeFailed:
				report.Failed++
			default:
				report.Skipped++
			}
		}

		if end == to {
			return nil
		}
		chunk = end + 1
	}
}
