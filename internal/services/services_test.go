package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testPlatform = "0xaa00000000000000000000000000000000000001"
	testBuyer    = "0xbb00000000000000000000000000000000000002"
	testResaler  = "0xcc00000000000000000000000000000000000003"
)

type fixture struct {
	chain      *ledger.Chain
	store      *store.Store
	addresses  *AddressRegistry
	reconciler *Reconciler
	checkout   *CheckoutService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chain := ledger.NewChain(testPlatform)
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	addresses := NewAddressRegistry()
	checkout := NewCheckoutService(st, chain, testPlatform, "https://meta.test")

	var mu sync.Mutex
	tick := time.Unix(1700000000, 0)
	checkout.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	return &fixture{
		chain:      chain,
		store:      st,
		addresses:  addresses,
		reconciler: NewReconciler(st, chain, addresses, chain.Factory().Address(), 2, nil, nil),
		checkout:   checkout,
	}
}

// syncAll replays the whole chain.
func (f *fixture) syncAll(t *testing.T) models.SyncReport {
	t.Helper()
	ctx := context.Background()
	latest, err := f.chain.LatestBlock(ctx)
	require.NoError(t, err)
	report, err := f.reconciler.SyncRange(ctx, 0, latest)
	require.NoError(t, err)
	return report
}

// deployedEvent creates an event with its registry and reconciles the link.
func (f *fixture) deployedEvent(t *testing.T, maxSupply uint64) (*models.Event, *ledger.Registry) {
	t.Helper()
	ctx := context.Background()

	ev, err := f.checkout.CreateEvent(ctx, "Harbour Sessions", maxSupply)
	require.NoError(t, err)
	f.syncAll(t)

	ev, err = f.store.EventByID(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, ev.Deployed())

	reg, err := f.chain.Registry(ev.ProgramAddress)
	require.NoError(t, err)
	return ev, reg
}

// issuedSale places an order, reconciles the mint and returns the open sale.
func (f *fixture) issuedSale(t *testing.T, ev *models.Event, account string) *models.Sale {
	t.Helper()
	ctx := context.Background()

	order, err := f.checkout.PlaceOrder(ctx, ev.ID, account, 10)
	require.NoError(t, err)
	f.syncAll(t)

	sale, err := f.store.SaleByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, models.SaleOpen, sale.Status)
	return sale
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueClose(ctx context.Context, programAddress string, tokenID uint64) error {
	args := m.Called(ctx, programAddress, tokenID)
	return args.Error(0)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) SetStatus(ctx context.Context, caller, program string, tokenID uint64, to models.TokenStatus) error {
	args := m.Called(ctx, caller, program, tokenID, to)
	return args.Error(0)
}
