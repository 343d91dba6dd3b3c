package handlers

import (
	"errors"
	"net/http"
	"strings"

	"ticket-ledger/internal/services"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
	"ticket-ledger/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AccessHandler struct {
	accessService *services.AccessService
	store         *store.Store
}

func NewAccessHandler(accessService *services.AccessService, st *store.Store) *AccessHandler {
	return &AccessHandler{
		accessService: accessService,
		store:         st,
	}
}

// CheckAccess - Validate a scanned ticket reference at the door
func (h *AccessHandler) CheckAccess(e *core.RequestEvent) error {
	var req models.AccessRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if strings.TrimSpace(req.Reference) == "" {
		return apis.NewBadRequestError("Reference required", nil)
	}
	if req.Operator == "" {
		req.Operator = e.Request.Header.Get(security.OperatorHeader)
	}

	result, err := h.accessService.CheckAccess(e.Request.Context(), req)
	if err != nil {
		return apis.NewInternalServerError("Failed to check access", err)
	}
	return e.JSON(http.StatusOK, result)
}

// GetSaleHistory - Audit trail of one ticket
func (h *AccessHandler) GetSaleHistory(e *core.RequestEvent) error {
	saleID := e.Request.PathValue("saleId")
	ctx := e.Request.Context()

	sale, err := h.store.SaleByID(ctx, saleID)
	if errors.Is(err, status.ErrSaleNotFound) {
		return apis.NewNotFoundError("Sale not found", nil)
	}
	if err != nil {
		return apis.NewInternalServerError("Failed to load sale", err)
	}

	history, err := h.store.History(ctx, sale.ID)
	if err != nil {
		return apis.NewInternalServerError("Failed to load history", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"sale":    sale,
		"history": history,
	})
}
