package store

import (
	"context"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	if sale.ID == "" {
		sale.ID = newID()
	}
	if sale.Created == 0 {
		sale.Created = now()
	}
	sale.Updated = sale.Created

	_, err := s.db.Insert("sales", dbx.Params{
		"id":              sale.ID,
		"order_id":        sale.OrderID,
		"event_id":        sale.EventID,
		"promoter_id":     sale.PromoterID,
		"account":         sale.Account,
		"status":          sale.Status,
		"qr_reference":    sale.QRReference,
		"token_id":        sale.TokenID,
		"program_address": sale.ProgramAddress,
		"resale_price":    sale.ResalePrice.String(),
		"created":         sale.Created,
		"updated":         sale.Updated,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (s *Store) SaleByID(ctx context.Context, id string) (*models.Sale, error) {
	return s.saleWhere(ctx, dbx.HashExp{"id": id})
}

// SaleByReference looks a ticket up by the reference encoded in its QR code.
func (s *Store) SaleByReference(ctx context.Context, reference string) (*models.Sale, error) {
	if reference == "" {
		return nil, status.ErrSaleNotFound
	}
	return s.saleWhere(ctx, dbx.HashExp{"qr_reference": reference})
}

func (s *Store) SaleByToken(ctx context.Context, programAddress string, tokenID int64) (*models.Sale, error) {
	return s.saleWhere(ctx, dbx.HashExp{"program_address": programAddress, "token_id": tokenID})
}

func (s *Store) SaleByOrder(ctx context.Context, orderID string) (*models.Sale, error) {
	return s.saleWhere(ctx, dbx.HashExp{"order_id": orderID})
}

func (s *Store) saleWhere(ctx context.Context, where dbx.Expression) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.Select().From("sales").
		Where(where).
		WithContext(ctx).
		One(&sale)
	if err != nil {
		return nil, notFound(err, status.ErrSaleNotFound)
	}
	return &sale, nil
}

// SaleTransition is a conditional status change on one sale. It only applies
// while the sale is still in From.
type SaleTransition struct {
	SaleID string
	From   models.SaleStatus
	To     models.SaleStatus

	// Account replaces the owning account when set.
	Account     string
	ResalePrice decimal.Decimal

	// Position, when set, is the ledger record behind the change. The change
	// only applies if it is newer than the last record applied to the sale.
	Position *models.LedgerPosition

	// History is appended in the same transaction when the change applies.
	History *models.SaleHistory
}

// TransitionSale applies t as a compare-and-set on the sale status. It
// reports false, writing nothing, when the status no longer equals t.From.
func (s *Store) TransitionSale(ctx context.Context, t SaleTransition) (bool, error) {
	changes := dbx.Params{
		"status":       t.To,
		"resale_price": t.ResalePrice.String(),
		"updated":      now(),
	}
	if t.Account != "" {
		changes["account"] = t.Account
	}

	var where dbx.Expression = dbx.HashExp{"id": t.SaleID, "status": t.From}
	if t.Position != nil {
		changes["synced_block"] = t.Position.Block
		changes["synced_log_index"] = t.Position.LogIndex
		where = dbx.And(where, dbx.NewExp(
			"(synced_block < {:block} OR (synced_block = {:block} AND synced_log_index < {:idx}))",
			dbx.Params{"block": t.Position.Block, "idx": t.Position.LogIndex},
		))
	}

	applied := false
	err := s.transactional(ctx, func(tx *dbx.Tx) error {
		res, err := tx.Update("sales", changes, where).
			WithContext(ctx).
			Execute()
		if err != nil {
			return fmt.Errorf("update sale %s: %w", t.SaleID, err)
		}
		if applied, err = affected(res); err != nil || !applied {
			return err
		}
		if t.History == nil {
			return nil
		}
		h := *t.History
		h.SaleID = t.SaleID
		h.PreviousStatus = t.From
		h.NewStatus = t.To
		return insertHistory(ctx, tx, &h)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// AppendHistory records an audit entry that does not change the sale.
func (s *Store) AppendHistory(ctx context.Context, h *models.SaleHistory) error {
	return insertHistory(ctx, s.db, h)
}

// History returns the audit trail of a sale in insertion order.
func (s *Store) History(ctx context.Context, saleID string) ([]models.SaleHistory, error) {
	var entries []models.SaleHistory
	err := s.db.Select().From("sale_history").
		Where(dbx.HashExp{"sale_id": saleID}).
		OrderBy("rowid ASC").
		WithContext(ctx).
		All(&entries)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

func insertHistory(ctx context.Context, b dbx.Builder, h *models.SaleHistory) error {
	if h.ID == "" {
		h.ID = newID()
	}
	if h.Created == 0 {
		h.Created = now()
	}

	_, err := b.Insert("sale_history", dbx.Params{
		"id":              h.ID,
		"sale_id":         h.SaleID,
		"action":          h.Action,
		"previous_status": h.PreviousStatus,
		"new_status":      h.NewStatus,
		"reason":          h.Reason,
		"operator":        h.Operator,
		"created":         h.Created,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}
