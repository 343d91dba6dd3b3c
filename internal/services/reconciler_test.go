package services

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_CreatedLinksEventAndWatchesProgram(t *testing.T) {
	f := newFixture(t)

	ev, reg := f.deployedEvent(t, 10)

	assert.Equal(t, reg.Address(), ev.ProgramAddress)
	assert.Equal(t, int64(10), ev.MaxSupply)
	assert.Equal(t, int64(reg.DeployedAt()), ev.BlockNumber)
	assert.True(t, f.addresses.Contains(ev.ProgramAddress))

	// Replaying the factory changes nothing.
	report := f.syncAll(t)
	assert.Zero(t, report.Applied)
	assert.Zero(t, report.Failed)
}

func TestReconciler_MintConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)

	sale := f.issuedSale(t, ev, testBuyer)
	assert.Equal(t, int64(1), sale.TokenID)
	assert.Equal(t, reg.Address(), sale.ProgramAddress)
	assert.Len(t, sale.QRReference, 24)

	order, err := f.store.OrderByID(ctx, sale.OrderID)
	require.NoError(t, err)
	assert.True(t, order.Confirmed)
	assert.True(t, order.Processed)
	assert.NotEmpty(t, order.TxHash)

	raws, err := f.chain.Records(ctx, reg.Address(), 0, 1<<32)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, OutcomeDuplicate, f.reconciler.ApplyRaw(ctx, raws[0]))

	report := f.syncAll(t)
	assert.Zero(t, report.Applied)

	history, err := f.store.History(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionLedgerSync, history[0].Action)
	assert.Equal(t, models.SalePending, history[0].PreviousStatus)
	assert.Equal(t, models.SaleOpen, history[0].NewStatus)

	again, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.QRReference, again.QRReference)
}

func TestReconciler_LifecycleReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)
	sale := f.issuedSale(t, ev, testBuyer)
	tokenID := uint64(sale.TokenID)

	require.NoError(t, reg.SetResalePrice(testBuyer, tokenID, decimal.NewFromInt(250)))
	require.NoError(t, reg.Transfer(testBuyer, tokenID, testResaler))
	require.NoError(t, reg.SetResalePrice(testResaler, tokenID, decimal.NewFromInt(300)))

	f.syncAll(t)

	got, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleListed, got.Status)
	assert.Equal(t, testResaler, got.Account)
	assert.True(t, got.ResalePrice.Equal(decimal.NewFromInt(300)))

	history, err := f.store.History(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)

	for i := 0; i < 2; i++ {
		report := f.syncAll(t)
		assert.Zero(t, report.Applied)
		assert.Zero(t, report.Failed)
	}

	replayed, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Status, replayed.Status)
	assert.Equal(t, got.Account, replayed.Account)
	assert.True(t, got.ResalePrice.Equal(replayed.ResalePrice))

	after, err := f.store.History(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(history))
}

func TestReconciler_SupplyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 3)

	for i := 0; i < 3; i++ {
		f.issuedSale(t, ev, testBuyer)
	}

	order, err := f.checkout.PlaceOrder(ctx, ev.ID, testBuyer, 10)
	require.ErrorIs(t, err, status.ErrSupplyExceeded)
	assert.Equal(t, uint64(3), reg.IssuedCount())

	f.syncAll(t)
	stale, err := f.store.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, stale.Confirmed)

	pending, err := f.store.SaleByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SalePending, pending.Status)
}

func TestReconciler_SameTimestampOrdersMatchFirstCome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, _ := f.deployedEvent(t, 10)

	fixed := time.Unix(1700000500, 0)
	f.checkout.now = func() time.Time { return fixed }

	first, err := f.checkout.PlaceOrder(ctx, ev.ID, testBuyer, 10)
	require.NoError(t, err)
	second, err := f.checkout.PlaceOrder(ctx, ev.ID, testResaler, 10)
	require.NoError(t, err)

	f.syncAll(t)

	a, err := f.store.OrderByID(ctx, first.ID)
	require.NoError(t, err)
	b, err := f.store.OrderByID(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, a.Confirmed)
	assert.True(t, b.Confirmed)
	assert.Equal(t, int64(1), a.TokenID)
	assert.Equal(t, int64(2), b.TokenID)
}

// pendingOrder inserts an order and its pending sale without issuing a token.
func (f *fixture) pendingOrder(t *testing.T, ev *models.Event, account string, expected int64) *models.Order {
	t.Helper()
	ctx := context.Background()

	order := &models.Order{EventID: ev.ID, Account: account, ExpectedTimestamp: expected}
	require.NoError(t, f.store.CreateOrder(ctx, order))
	require.NoError(t, f.store.CreateSale(ctx, &models.Sale{
		OrderID:     order.ID,
		EventID:     ev.ID,
		PromoterID:  ev.PromoterID,
		Account:     account,
		Status:      models.SalePending,
		ResalePrice: decimal.Zero,
	}))
	return order
}

func TestReconciler_MintMatchesTokenOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)

	const placed = int64(1700000900)
	first := f.pendingOrder(t, ev, testBuyer, placed)
	second := f.pendingOrder(t, ev, testResaler, placed)

	// The ledger issues the later order first.
	_, err := reg.Issue(testPlatform, testResaler, 10, placed)
	require.NoError(t, err)
	_, err = reg.Issue(testPlatform, testBuyer, 10, placed)
	require.NoError(t, err)
	f.syncAll(t)

	tests := []struct {
		order   *models.Order
		account string
		tokenID int64
	}{
		{order: first, account: testBuyer, tokenID: 2},
		{order: second, account: testResaler, tokenID: 1},
	}
	for _, tt := range tests {
		order, err := f.store.OrderByID(ctx, tt.order.ID)
		require.NoError(t, err)
		assert.True(t, order.Confirmed)
		assert.Equal(t, tt.tokenID, order.TokenID)

		sale, err := f.store.SaleByOrder(ctx, tt.order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SaleOpen, sale.Status)
		assert.Equal(t, tt.account, sale.Account)

		token, err := reg.Token(uint64(tt.tokenID))
		require.NoError(t, err)
		assert.Equal(t, tt.account, token.Owner)
	}
}

func TestReconciler_MintWithoutOwnerOrderFallsBackToTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)

	const placed = int64(1700000950)
	order := f.pendingOrder(t, ev, testBuyer, placed)

	_, err := reg.Issue(testPlatform, testResaler, 10, placed)
	require.NoError(t, err)
	f.syncAll(t)

	got, err := f.store.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
	assert.Equal(t, int64(1), got.TokenID)
}

func TestReconciler_SyncRangeReplaysStoredPrograms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)

	order, err := f.checkout.PlaceOrder(ctx, ev.ID, testBuyer, 10)
	require.NoError(t, err)
	minted, err := f.chain.LatestBlock(ctx)
	require.NoError(t, err)
	require.Greater(t, minted, reg.DeployedAt())

	// A process that never watched anything, such as one with the watcher off.
	fresh := NewReconciler(f.store, f.chain, NewAddressRegistry(), f.chain.Factory().Address(), 2, nil, nil)
	report, err := fresh.SyncRange(ctx, minted, minted)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Addresses)
	assert.Equal(t, 1, report.Applied)

	got, err := f.store.OrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Confirmed)
}

func TestReconciler_SyncRangeAtTopOfRange(t *testing.T) {
	f := newFixture(t)

	report, err := f.reconciler.SyncRange(context.Background(), math.MaxUint64-4, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), report.ToBlock)
	assert.Zero(t, report.Records)
}

func TestReconciler_StatusDoesNotRegress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)
	sale := f.issuedSale(t, ev, testBuyer)

	require.NoError(t, reg.SetStatus(testPlatform, uint64(sale.TokenID), models.TokenClosed))
	f.syncAll(t)

	closed, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, models.SaleClosed, closed.Status)

	latest, err := f.chain.LatestBlock(ctx)
	require.NoError(t, err)
	outcome := f.reconciler.Apply(ctx, ledger.StatusChanged{
		RecordMeta: ledger.RecordMeta{Address: reg.Address(), BlockNumber: latest + 1},
		TokenID:    uint64(sale.TokenID),
		Status:     models.TokenOpen,
	})
	assert.Equal(t, OutcomeDuplicate, outcome)

	still, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleClosed, still.Status)
}

func TestReconciler_StaleRecordIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)
	sale := f.issuedSale(t, ev, testBuyer)

	require.NoError(t, reg.SetResalePrice(testBuyer, uint64(sale.TokenID), decimal.NewFromInt(80)))
	f.syncAll(t)

	listed, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, models.SaleListed, listed.Status)

	// A cancellation positioned before the listing must not apply.
	outcome := f.reconciler.Apply(ctx, ledger.ResaleCancelled{
		RecordMeta: ledger.RecordMeta{Address: reg.Address(), BlockNumber: uint64(listed.SyncedBlock) - 1},
		TokenID:    uint64(sale.TokenID),
	})
	assert.Equal(t, OutcomeDuplicate, outcome)

	got, err := f.store.SaleByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SaleListed, got.Status)
}

func TestReconciler_UnmatchedRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, reg := f.deployedEvent(t, 10)

	tests := []struct {
		name   string
		record ledger.Record
		want   Outcome
	}{
		{
			name: "mint from unknown program",
			record: ledger.Minted{
				RecordMeta: ledger.RecordMeta{Address: testResaler, BlockNumber: 99},
				TokenID:    1,
			},
			want: OutcomeSkipped,
		},
		{
			name: "mint without matching order",
			record: ledger.Minted{
				RecordMeta:        ledger.RecordMeta{Address: reg.Address(), BlockNumber: 99},
				TokenID:           7,
				ExpectedTimestamp: 42,
			},
			want: OutcomeSkipped,
		},
		{
			name: "price for unknown token",
			record: ledger.Priced{
				RecordMeta: ledger.RecordMeta{Address: reg.Address(), BlockNumber: 99},
				TokenID:    7,
				Price:      decimal.NewFromInt(5),
			},
			want: OutcomeSkipped,
		},
		{
			name: "creation from another factory",
			record: ledger.Created{
				RecordMeta:     ledger.RecordMeta{Address: testResaler, BlockNumber: 99},
				ProgramAddress: testBuyer,
				Owner:          testPlatform,
				Name:           ev.Name,
				MaxSupply:      1,
			},
			want: OutcomeSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.reconciler.Apply(ctx, tt.record))
		})
	}

	assert.Equal(t, OutcomeSkipped, f.reconciler.ApplyRaw(ctx, ledger.RawRecord{
		Address: reg.Address(),
		Name:    "Approval",
		Data:    json.RawMessage(`{}`),
	}))
	assert.Equal(t, OutcomeSkipped, f.reconciler.ApplyRaw(ctx, ledger.RawRecord{
		Address: reg.Address(),
		Name:    ledger.KindMinted,
		Data:    json.RawMessage(`{"tokenId":0}`),
	}))
}

func TestReconciler_SyncRangeRejectsInvertedRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.SyncRange(context.Background(), 5, 2)
	assert.Error(t, err)
}
