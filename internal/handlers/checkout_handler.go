package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/services"
	"ticket-ledger/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// CheckoutHandler serves the purchase path of the development ledger.
type CheckoutHandler struct {
	checkoutService *services.CheckoutService
}

func NewCheckoutHandler(checkoutService *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService}
}

// CreateEvent - Store an event and deploy its ticket registry
func (h *CheckoutHandler) CreateEvent(e *core.RequestEvent) error {
	var req struct {
		Name      string `json:"name"`
		MaxSupply uint64 `json:"max_supply"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Name == "" || req.MaxSupply == 0 {
		return apis.NewBadRequestError("Name and max_supply required", nil)
	}

	ev, err := h.checkoutService.CreateEvent(e.Request.Context(), req.Name, req.MaxSupply)
	if err != nil {
		return programError("Failed to create event", err)
	}
	return e.JSON(http.StatusCreated, ev)
}

// PlaceOrder - Record an order and issue its ticket
func (h *CheckoutHandler) PlaceOrder(e *core.RequestEvent) error {
	var req struct {
		EventID    string `json:"event_id"`
		Account    string `json:"account"`
		RoyaltyPct uint8  `json:"royalty_pct"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.EventID == "" || req.Account == "" {
		return apis.NewBadRequestError("event_id and account required", nil)
	}

	order, err := h.checkoutService.PlaceOrder(e.Request.Context(), req.EventID, req.Account, req.RoyaltyPct)
	if errors.Is(err, status.ErrEventNotFound) {
		return apis.NewNotFoundError("Event not found", nil)
	}
	if err != nil {
		return programError("Failed to place order", err)
	}
	return e.JSON(http.StatusCreated, order)
}

func programError(message string, err error) error {
	if ledger.IsProgramError(err) || errors.Is(err, status.ErrInvalidRoyalty) || errors.Is(err, status.ErrUnknownProgram) {
		return apis.NewBadRequestError(message, map[string]string{"error": err.Error()})
	}
	slog.Error(message, "error", err)
	return apis.NewInternalServerError(message, err)
}
