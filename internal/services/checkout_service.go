package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"

	"github.com/shopspring/decimal"
)

// CheckoutService is the devnet purchase path: it writes the order before
// asking the registry to issue, so the mint record always finds it.
type CheckoutService struct {
	store   *store.Store
	chain   *ledger.Chain
	account string
	baseURI string
	now     func() time.Time
}

func NewCheckoutService(st *store.Store, chain *ledger.Chain, account, baseURI string) *CheckoutService {
	return &CheckoutService{
		store:   st,
		chain:   chain,
		account: ledger.NormalizeAddress(account),
		baseURI: baseURI,
		now:     time.Now,
	}
}

// CreateEvent stores an event and deploys its registry through the factory.
// The event is linked to the program once the creation record is reconciled.
func (s *CheckoutService) CreateEvent(ctx context.Context, name string, maxSupply uint64) (*models.Event, error) {
	ev := &models.Event{Name: name, PromoterID: s.account}
	if err := s.store.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}

	reg, err := s.chain.Factory().CreateRegistry(s.account, s.account, name, maxSupply, s.baseURI)
	if err != nil {
		return nil, err
	}

	slog.Info("Registry deployed", "event_id", ev.ID, "program_address", reg.Address(), "max_supply", maxSupply)
	return ev, nil
}

// PlaceOrder records an order and a pending sale, then issues the token.
func (s *CheckoutService) PlaceOrder(ctx context.Context, eventID, account string, royaltyPct uint8) (*models.Order, error) {
	if royaltyPct > 100 {
		return nil, status.ErrInvalidRoyalty
	}

	ev, err := s.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.Deployed() {
		return nil, fmt.Errorf("event %s: %w", eventID, status.ErrUnknownProgram)
	}
	reg, err := s.chain.Registry(ev.ProgramAddress)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		EventID:           ev.ID,
		Account:           ledger.NormalizeAddress(account),
		ExpectedTimestamp: s.now().Unix(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	sale := &models.Sale{
		OrderID:     order.ID,
		EventID:     ev.ID,
		PromoterID:  ev.PromoterID,
		Account:     order.Account,
		Status:      models.SalePending,
		ResalePrice: decimal.Zero,
	}
	if err := s.store.CreateSale(ctx, sale); err != nil {
		return nil, err
	}

	tokenID, err := reg.Issue(s.account, order.Account, royaltyPct, order.ExpectedTimestamp)
	if err != nil {
		slog.Warn("Registry refused to issue", "order_id", order.ID, "event_id", ev.ID, "error", err)
		return order, err
	}

	slog.Info("Ticket issue requested", "order_id", order.ID, "token_id", tokenID, "program_address", reg.Address())
	return order, nil
}
