package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/hibiken/asynq"
)

const TaskCloseToken = "ticket:close"

type CloseTokenPayload struct {
	ProgramAddress string `json:"program_address"`
	TokenID        uint64 `json:"token_id"`
}

// TaskEnqueuer is the part of *asynq.Client the settlement service uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SettlementService pushes tickets consumed at the door back to the ledger,
// off the scan path.
type SettlementService struct {
	queue   TaskEnqueuer
	writer  ledger.Writer
	account string
}

func NewSettlementService(queue TaskEnqueuer, writer ledger.Writer, account string) *SettlementService {
	return &SettlementService{queue: queue, writer: writer, account: account}
}

func NewCloseTokenTask(programAddress string, tokenID uint64) (*asynq.Task, error) {
	payload, err := json.Marshal(CloseTokenPayload{ProgramAddress: programAddress, TokenID: tokenID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseToken, payload), nil
}

// EnqueueClose schedules the CLOSED status change for a token. Repeated
// calls for the same token are collapsed by task id.
func (s *SettlementService) EnqueueClose(ctx context.Context, programAddress string, tokenID uint64) error {
	task, err := NewCloseTokenTask(programAddress, tokenID)
	if err != nil {
		return err
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.Queue("critical"),
		asynq.MaxRetry(10),
		asynq.TaskID(fmt.Sprintf("close:%s:%d", programAddress, tokenID)),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskCloseToken, err)
	}
	return nil
}

// HandleCloseToken sets the token CLOSED on the ledger. A token that is
// already closed counts as done; other program rejections are not retried.
func (s *SettlementService) HandleCloseToken(ctx context.Context, t *asynq.Task) error {
	var payload CloseTokenPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskCloseToken, err, asynq.SkipRetry)
	}

	err := s.writer.SetStatus(ctx, s.account, payload.ProgramAddress, payload.TokenID, models.TokenClosed)
	switch {
	case err == nil:
		slog.Info("Ticket closed on ledger", "program_address", payload.ProgramAddress, "token_id", payload.TokenID)
		return nil
	case errors.Is(err, status.ErrAlreadyClosed):
		return nil
	case ledger.IsProgramError(err):
		slog.Error("Ledger rejected close", "program_address", payload.ProgramAddress, "token_id", payload.TokenID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

func (s *SettlementService) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskCloseToken, s.HandleCloseToken)
}
