package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
)

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.ID == "" {
		o.ID = newID()
	}
	if o.Created == 0 {
		o.Created = now()
	}

	_, err := s.db.Insert("orders", dbx.Params{
		"id":                 o.ID,
		"event_id":           o.EventID,
		"account":            o.Account,
		"expected_timestamp": o.ExpectedTimestamp,
		"confirmed":          o.Confirmed,
		"processed":          o.Processed,
		"token_id":           o.TokenID,
		"program_address":    o.ProgramAddress,
		"tx_hash":            o.TxHash,
		"block_number":       o.BlockNumber,
		"created":            o.Created,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.Select().From("orders").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&o)
	if err != nil {
		return nil, notFound(err, status.ErrOrderNotFound)
	}
	return &o, nil
}

// OrderByToken returns the order already confirmed for a token, if any.
func (s *Store) OrderByToken(ctx context.Context, programAddress string, tokenID int64) (*models.Order, error) {
	var o models.Order
	err := s.db.Select().From("orders").
		Where(dbx.HashExp{"program_address": programAddress, "token_id": tokenID}).
		WithContext(ctx).
		One(&o)
	if err != nil {
		return nil, notFound(err, status.ErrOrderNotFound)
	}
	return &o, nil
}

// UnconfirmedOrders lists the unconfirmed orders of an event expecting a mint
// at the given timestamp, oldest first.
func (s *Store) UnconfirmedOrders(ctx context.Context, eventID string, expectedTimestamp int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Select().From("orders").
		Where(dbx.HashExp{
			"event_id":           eventID,
			"confirmed":          false,
			"expected_timestamp": expectedTimestamp,
		}).
		OrderBy("created ASC", "rowid ASC").
		WithContext(ctx).
		All(&orders)
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed orders: %w", err)
	}
	return orders, nil
}

// ConfirmMint stamps an unconfirmed order with its ledger linkage and opens
// the sale attached to it under qrReference. It reports false when the order
// had already been confirmed, in which case nothing is written.
func (s *Store) ConfirmMint(ctx context.Context, orderID string, link models.LedgerLinkage, qrReference string) (bool, error) {
	confirmed := false

	err := s.transactional(ctx, func(tx *dbx.Tx) error {
		res, err := tx.Update("orders", dbx.Params{
			"confirmed":       true,
			"processed":       true,
			"token_id":        link.TokenID,
			"program_address": link.ProgramAddress,
			"tx_hash":         link.TxHash,
			"block_number":    link.BlockNumber,
		}, dbx.HashExp{"id": orderID, "confirmed": false}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("confirm order %s: %w", orderID, err)
		}
		if confirmed, err = affected(res); err != nil || !confirmed {
			return err
		}

		var sale models.Sale
		err = tx.Select().From("sales").
			Where(dbx.HashExp{"order_id": orderID}).
			WithContext(ctx).
			One(&sale)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load sale for order %s: %w", orderID, err)
		}
		if !sale.Status.CanTransition(models.SaleOpen) {
			return nil
		}

		_, err = tx.Update("sales", dbx.Params{
			"status":           models.SaleOpen,
			"token_id":         link.TokenID,
			"program_address":  link.ProgramAddress,
			"qr_reference":     qrReference,
			"synced_block":     link.BlockNumber,
			"synced_log_index": link.LogIndex,
			"updated":          now(),
		}, dbx.HashExp{"id": sale.ID, "status": sale.Status}).WithContext(ctx).Execute()
		if err != nil {
			return fmt.Errorf("open sale %s: %w", sale.ID, err)
		}

		return insertHistory(ctx, tx, &models.SaleHistory{
			SaleID:         sale.ID,
			Action:         models.ActionLedgerSync,
			PreviousStatus: sale.Status,
			NewStatus:      models.SaleOpen,
			Reason:         "minted",
		})
	})
	if err != nil {
		return false, err
	}
	return confirmed, nil
}
