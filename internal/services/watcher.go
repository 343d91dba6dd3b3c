package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
	"ticket-ledger/monitoring"
	"ticket-ledger/utils"
)

type WatcherConfig struct {
	Enabled      bool
	PollInterval time.Duration
	// StartBlock is the first block read for the factory when it has no
	// checkpoint.
	StartBlock uint64
	// BatchSize caps the number of blocks read per poll.
	BatchSize uint64
	Breaker   utils.BreakerSettings
}

// Watcher follows the factory and every registered program address, one
// polling task per address, and feeds new records to the reconciler.
type Watcher struct {
	reader      ledger.Reader
	reconciler  *Reconciler
	addresses   *AddressRegistry
	store       *store.Store
	checkpoints Checkpoints
	monitor     *monitoring.Monitor
	factory     string
	cfg         WatcherConfig

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	tasks   map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewWatcher(reader ledger.Reader, reconciler *Reconciler, addresses *AddressRegistry, st *store.Store, checkpoints Checkpoints, factoryAddress string, cfg WatcherConfig, monitor *monitoring.Monitor) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 500
	}
	if cfg.Breaker == (utils.BreakerSettings{}) {
		cfg.Breaker = utils.DefaultBreakerSettings()
	}
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpoints()
	}
	return &Watcher{
		reader:      reader,
		reconciler:  reconciler,
		addresses:   addresses,
		store:       st,
		checkpoints: checkpoints,
		monitor:     monitor,
		factory:     ledger.NormalizeAddress(factoryAddress),
		cfg:         cfg,
		tasks:       make(map[string]context.CancelFunc),
	}
}

// Start watches every deployed event program and the factory. Addresses
// registered later are picked up without a restart. Calling Start on a
// running or disabled watcher does nothing.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		slog.Info("Ledger watcher disabled")
		return nil
	}

	events, err := w.store.EventsWithProgram(ctx)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.mu.Unlock()

	w.addresses.Subscribe(w.spawn)
	for _, ev := range events {
		w.addresses.Watch(ev.ProgramAddress)
	}
	if w.factory != "" {
		w.addresses.Watch(w.factory)
	}
	// Addresses registered before the subscription.
	for _, address := range w.addresses.Addresses() {
		w.spawn(address)
	}

	slog.Info("Ledger watcher started", "addresses", w.addresses.Len(), "poll_interval", w.cfg.PollInterval)
	return nil
}

// Stop cancels every polling task and waits for them to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.tasks = make(map[string]context.CancelFunc)
	w.mu.Unlock()

	w.wg.Wait()
	w.monitor.SetWatchedAddresses(0)
	slog.Info("Ledger watcher stopped")
}

func (w *Watcher) Status() models.WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return models.WatcherStatus{
		IsListening:         w.running,
		WatchedAddressCount: len(w.tasks),
	}
}

func (w *Watcher) spawn(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if _, ok := w.tasks[address]; ok {
		return
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.tasks[address] = cancel
	w.wg.Add(1)
	go w.run(ctx, address)

	w.monitor.SetWatchedAddresses(len(w.tasks))
	slog.Info("Watching ledger address", "address", address)
}

func (w *Watcher) run(ctx context.Context, address string) {
	defer w.wg.Done()

	task := &pollTask{
		address: address,
		breaker: utils.NewCircuitBreakerWithSettings("ledger:"+address, w.cfg.Breaker),
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.poll(ctx, task)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type pollTask struct {
	address string
	breaker *utils.CircuitBreaker
	cursor  uint64
	loaded  bool
}

func (w *Watcher) poll(ctx context.Context, task *pollTask) {
	err := task.breaker.Execute(ctx, func(ctx context.Context) error {
		if !task.loaded {
			cursor, err := w.initialCursor(ctx, task.address)
			if err != nil {
				return err
			}
			task.cursor, task.loaded = cursor, true
		}

		latest, err := w.reader.LatestBlock(ctx)
		if err != nil {
			return err
		}
		if latest <= task.cursor {
			return nil
		}

		to := latest
		if latest-task.cursor > w.cfg.BatchSize {
			to = task.cursor + w.cfg.BatchSize
		}

		raws, err := w.reader.Records(ctx, task.address, task.cursor+1, to)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.reconciler.ApplyRaw(ctx, raw) == OutcomeFailed {
				// The failed block is read again on the next poll.
				w.advance(ctx, task, raw.BlockNumber-1)
				return fmt.Errorf("apply record at block %d log %d: %w", raw.BlockNumber, raw.LogIndex, status.ErrRecordFailed)
			}
		}

		w.advance(ctx, task, to)
		return nil
	})

	switch {
	case err == nil:
		w.monitor.TrackPoll(task.address, "ok")
	case ctx.Err() != nil:
	case errors.Is(err, status.ErrCircuitOpen), errors.Is(err, utils.ErrTooManyRequests):
		w.monitor.TrackPoll(task.address, "circuit_open")
	default:
		w.monitor.TrackPoll(task.address, "error")
		slog.Error("Ledger poll failed", "address", task.address, "cursor", task.cursor, "error", err)
	}
}

func (w *Watcher) advance(ctx context.Context, task *pollTask, block uint64) {
	if block <= task.cursor {
		return
	}
	task.cursor = block
	if err := w.checkpoints.Save(ctx, task.address, block); err != nil {
		slog.Warn("Failed to save checkpoint", "address", task.address, "block", block, "error", err)
	}
}

// initialCursor is the last block already processed for address.
func (w *Watcher) initialCursor(ctx context.Context, address string) (uint64, error) {
	block, ok, err := w.checkpoints.Load(ctx, address)
	if err != nil {
		return 0, err
	}
	if ok {
		return block, nil
	}

	if address == w.factory {
		if w.cfg.StartBlock > 0 {
			return w.cfg.StartBlock - 1, nil
		}
		return 0, nil
	}

	ev, err := w.store.EventByProgram(ctx, address)
	if errors.Is(err, status.ErrEventNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if ev.BlockNumber > 0 {
		return uint64(ev.BlockNumber) - 1, nil
	}
	return 0, nil
}
