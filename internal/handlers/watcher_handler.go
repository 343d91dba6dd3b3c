package handlers

import (
	"net/http"

	"ticket-ledger/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type WatcherHandler struct {
	watcher    *services.Watcher
	reconciler *services.Reconciler
}

func NewWatcherHandler(watcher *services.Watcher, reconciler *services.Reconciler) *WatcherHandler {
	return &WatcherHandler{
		watcher:    watcher,
		reconciler: reconciler,
	}
}

func (h *WatcherHandler) GetStatus(e *core.RequestEvent) error {
	return e.JSON(http.StatusOK, h.watcher.Status())
}

// SyncRange - Replay a block range through the reconciler
func (h *WatcherHandler) SyncRange(e *core.RequestEvent) error {
	var req struct {
		FromBlock uint64 `json:"from_block"`
		ToBlock   uint64 `json:"to_block"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.ToBlock < req.FromBlock {
		return apis.NewBadRequestError("to_block must not be lower than from_block", nil)
	}

	report, err := h.reconciler.SyncRange(e.Request.Context(), req.FromBlock, req.ToBlock)
	if err != nil {
		return apis.NewApiError(http.StatusBadGateway, "Range sync failed", map[string]any{
			"report": report,
			"error":  err.Error(),
		})
	}
	return e.JSON(http.StatusOK, report)
}
