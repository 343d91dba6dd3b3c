package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func closeTaskFor(program string, tokenID uint64) any {
	return mock.MatchedBy(func(task *asynq.Task) bool {
		var payload CloseTokenPayload
		if task.Type() != TaskCloseToken || json.Unmarshal(task.Payload(), &payload) != nil {
			return false
		}
		return payload.ProgramAddress == program && payload.TokenID == tokenID
	})
}

func TestSettlement_EnqueueClose(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "enqueued"},
		{name: "already queued", err: asynq.ErrTaskIDConflict},
		{name: "redis down", err: errors.New("dial tcp: connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := new(mockQueue)
			queue.On("EnqueueContext", mock.Anything, closeTaskFor(testResaler, 3), mock.Anything).
				Return(&asynq.TaskInfo{ID: "close:" + testResaler + ":3"}, tt.err).Once()

			svc := NewSettlementService(queue, nil, testPlatform)
			err := svc.EnqueueClose(ctx, testResaler, 3)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			queue.AssertExpectations(t)
		})
	}
}

func TestSettlement_HandleCloseToken(t *testing.T) {
	ctx := context.Background()
	task, err := NewCloseTokenTask(testResaler, 3)
	require.NoError(t, err)

	tests := []struct {
		name      string
		err       error
		wantErr   bool
		skipRetry bool
	}{
		{name: "closed"},
		{name: "already closed", err: &ledger.ProgramError{Op: "setStatus", TokenID: 3, Err: status.ErrAlreadyClosed}},
		{name: "program rejection", err: &ledger.ProgramError{Op: "setStatus", TokenID: 3, Err: status.ErrNotProgramOwner}, wantErr: true, skipRetry: true},
		{name: "transport failure", err: errors.New("ledger rpc: 502 bad gateway"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := new(mockWriter)
			writer.On("SetStatus", mock.Anything, testPlatform, testResaler, uint64(3), models.TokenClosed).Return(tt.err).Once()

			svc := NewSettlementService(nil, writer, testPlatform)
			err := svc.HandleCloseToken(ctx, task)
			if !tt.wantErr {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
			}
			writer.AssertExpectations(t)
		})
	}
}

func TestSettlement_HandleCloseTokenBadPayload(t *testing.T) {
	writer := new(mockWriter)
	svc := NewSettlementService(nil, writer, testPlatform)

	err := svc.HandleCloseToken(context.Background(), asynq.NewTask(TaskCloseToken, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	writer.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSettlement_ClosesOnChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)
	sale := f.issuedSale(t, ev, testBuyer)

	svc := NewSettlementService(nil, f.chain, testPlatform)
	task, err := NewCloseTokenTask(sale.ProgramAddress, uint64(sale.TokenID))
	require.NoError(t, err)

	require.NoError(t, svc.HandleCloseToken(ctx, task))
	require.NoError(t, svc.HandleCloseToken(ctx, task))

	tok, err := reg.Token(uint64(sale.TokenID))
	require.NoError(t, err)
	assert.Equal(t, models.TokenClosed, tok.Status)

	f.syncAll(t)
	got, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleClosed, got.Status)
}
