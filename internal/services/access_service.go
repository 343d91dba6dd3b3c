package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
)

// CloseEnqueuer schedules the ledger side of a consumed ticket.
type CloseEnqueuer interface {
	EnqueueClose(ctx context.Context, programAddress string, tokenID uint64) error
}

type AccessConfig struct {
	// AllowTransferred admits tickets whose ownership changed after issue.
	AllowTransferred bool
}

// AccessService decides entry at the door. It reads and writes the store
// only; the ledger is updated afterwards through the settlement queue.
type AccessService struct {
	store      *store.Store
	settlement CloseEnqueuer
	notifier   Notifier
	monitor    *monitoring.Monitor
	cfg        AccessConfig
}

func NewAccessService(st *store.Store, settlement CloseEnqueuer, notifier Notifier, cfg AccessConfig, monitor *monitoring.Monitor) *AccessService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &AccessService{
		store:      st,
		settlement: settlement,
		notifier:   notifier,
		monitor:    monitor,
		cfg:        cfg,
	}
}

// A lost compare-and-set is re-evaluated against the fresh status this many
// times before the scan is denied.
const accessAttempts = 3

func (s *AccessService) CheckAccess(ctx context.Context, req models.AccessRequest) (models.AccessResult, error) {
	reference := strings.TrimSpace(req.Reference)

	for attempt := 0; attempt < accessAttempts; attempt++ {
		sale, err := s.store.SaleByReference(ctx, reference)
		if errors.Is(err, status.ErrSaleNotFound) {
			s.monitor.TrackAccessDecision(string(models.AccessDenied), models.ReasonUnknownTicket)
			return models.AccessResult{Access: models.AccessDenied, Reason: models.ReasonUnknownTicket}, nil
		}
		if err != nil {
			return models.AccessResult{}, err
		}

		if reason, ok := s.denial(sale, req); !ok {
			return s.deny(ctx, sale, req, reason)
		}

		granted, err := s.store.TransitionSale(ctx, store.SaleTransition{
			SaleID: sale.ID,
			From:   sale.Status,
			To:     models.SaleClosed,
			History: &models.SaleHistory{
				Action:   models.ActionAccessGranted,
				Reason:   models.ReasonGranted,
				Operator: req.Operator,
			},
		})
		if err != nil {
			return models.AccessResult{}, err
		}
		if granted {
			return s.grant(ctx, sale, req), nil
		}
	}

	sale, err := s.store.SaleByReference(ctx, reference)
	if err != nil {
		return models.AccessResult{}, err
	}
	return s.deny(ctx, sale, req, models.ReasonAlreadyUsed)
}

// denial returns the reason a sale may not enter, or ok when it may.
func (s *AccessService) denial(sale *models.Sale, req models.AccessRequest) (reason string, ok bool) {
	switch {
	case sale.Status == models.SaleClosed:
		return models.ReasonAlreadyUsed, false
	case req.EventID != "" && req.EventID != sale.EventID,
		req.PromoterID != "" && req.PromoterID != sale.PromoterID:
		return models.ReasonWrongEvent, false
	case sale.Status == models.SaleTransferred && !s.cfg.AllowTransferred:
		return models.ReasonTransferred, false
	case !sale.Status.Admissible():
		return models.ReasonNotIssued, false
	}
	return "", true
}

func (s *AccessService) deny(ctx context.Context, sale *models.Sale, req models.AccessRequest, reason string) (models.AccessResult, error) {
	err := s.store.AppendHistory(ctx, &models.SaleHistory{
		SaleID:         sale.ID,
		Action:         models.ActionAccessDenied,
		PreviousStatus: sale.Status,
		NewStatus:      sale.Status,
		Reason:         reason,
		Operator:       req.Operator,
	})
	if err != nil {
		return models.AccessResult{}, err
	}

	s.monitor.TrackAccessDecision(string(models.AccessDenied), reason)
	slog.Info("Access denied", "sale_id", sale.ID, "status", sale.Status, "reason", reason, "operator", req.Operator)
	return models.AccessResult{Access: models.AccessDenied, Reason: reason, Ticket: summarize(sale, sale.Status)}, nil
}

func (s *AccessService) grant(ctx context.Context, sale *models.Sale, req models.AccessRequest) models.AccessResult {
	s.monitor.TrackAccessDecision(string(models.AccessGranted), models.ReasonGranted)
	slog.Info("Access granted", "sale_id", sale.ID, "previous_status", sale.Status, "operator", req.Operator)

	if s.settlement != nil && sale.ProgramAddress != "" && sale.TokenID > 0 {
		if err := s.settlement.EnqueueClose(ctx, sale.ProgramAddress, uint64(sale.TokenID)); err != nil {
			slog.Error("Failed to enqueue ledger close", "sale_id", sale.ID, "token_id", sale.TokenID, "error", err)
		}
	}
	s.notifier.Notify(ctx, eventChannel(sale.EventID), map[string]any{
		"type":     "access_granted",
		"sale_id":  sale.ID,
		"token_id": sale.TokenID,
		"operator": req.Operator,
	})

	return models.AccessResult{
		Access: models.AccessGranted,
		Reason: models.ReasonGranted,
		Ticket: summarize(sale, models.SaleClosed),
	}
}

func summarize(sale *models.Sale, st models.SaleStatus) *models.TicketSummary {
	return &models.TicketSummary{
		SaleID:         sale.ID,
		EventID:        sale.EventID,
		Account:        sale.Account,
		TokenID:        sale.TokenID,
		ProgramAddress: sale.ProgramAddress,
		Status:         st,
	}
}
