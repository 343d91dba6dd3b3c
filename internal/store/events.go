package store

import (
	"context"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/pocketbase/dbx"
)

func (s *Store) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.Created == 0 {
		ev.Created = now()
	}

	_, err := s.db.Insert("events", dbx.Params{
		"id":              ev.ID,
		"name":            ev.Name,
		"promoter_id":     ev.PromoterID,
		"program_address": ev.ProgramAddress,
		"max_supply":      ev.MaxSupply,
		"block_number":    ev.BlockNumber,
		"created":         ev.Created,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) EventByID(ctx context.Context, id string) (*models.Event, error) {
	var ev models.Event
	err := s.db.Select().From("events").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&ev)
	if err != nil {
		return nil, notFound(err, status.ErrEventNotFound)
	}
	return &ev, nil
}

func (s *Store) EventByProgram(ctx context.Context, programAddress string) (*models.Event, error) {
	var ev models.Event
	err := s.db.Select().From("events").
		Where(dbx.HashExp{"program_address": programAddress}).
		WithContext(ctx).
		One(&ev)
	if err != nil {
		return nil, notFound(err, status.ErrEventNotFound)
	}
	return &ev, nil
}

// EventsWithProgram returns every event whose registry has been deployed.
func (s *Store) EventsWithProgram(ctx context.Context) ([]models.Event, error) {
	var events []models.Event
	err := s.db.Select().From("events").
		Where(dbx.NewExp("program_address != ''")).
		OrderBy("block_number ASC", "created ASC").
		WithContext(ctx).
		All(&events)
	if err != nil {
		return nil, fmt.Errorf("list deployed events: %w", err)
	}
	return events, nil
}

// ProgramClaim is what a factory creation record says about an event.
type ProgramClaim struct {
	Name           string
	Owner          string
	ProgramAddress string
	MaxSupply      int64
	BlockNumber    int64
}

// ClaimEventProgram links a deployed registry to the oldest matching event
// that has no program yet. claimed is false when the address was already
// linked by an earlier delivery of the same record.
func (s *Store) ClaimEventProgram(ctx context.Context, c ProgramClaim) (*models.Event, bool, error) {
	if existing, err := s.EventByProgram(ctx, c.ProgramAddress); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, status.ErrEventNotFound) {
		return nil, false, err
	}

	var candidates []models.Event
	err := s.db.Select().From("events").
		Where(dbx.NewExp("program_address = '' AND name = {:name} AND lower(promoter_id) = {:owner}",
			dbx.Params{"name": c.Name, "owner": c.Owner})).
		OrderBy("created ASC", "rowid ASC").
		WithContext(ctx).
		All(&candidates)
	if err != nil {
		return nil, false, fmt.Errorf("find unclaimed event: %w", err)
	}

	for i := range candidates {
		res, err := s.db.Update("events", dbx.Params{
			"program_address": c.ProgramAddress,
			"max_supply":      c.MaxSupply,
			"block_number":    c.BlockNumber,
		}, dbx.HashExp{"id": candidates[i].ID, "program_address": ""}).WithContext(ctx).Execute()
		if err != nil {
			return nil, false, fmt.Errorf("claim event %s: %w", candidates[i].ID, err)
		}
		ok, err := affected(res)
		if err != nil {
			return nil, false, err
		}
		if ok {
			ev := candidates[i]
			ev.ProgramAddress = c.ProgramAddress
			ev.MaxSupply = c.MaxSupply
			ev.BlockNumber = c.BlockNumber
			return &ev, true, nil
		}
	}
	return nil, false, status.ErrEventNotFound
}
