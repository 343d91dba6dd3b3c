package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ticket-ledger/config"
	"ticket-ledger/internal/handlers"
	"ticket-ledger/internal/ledger"
	"ticket-ledger/internal/services"
	"ticket-ledger/internal/store"
	"ticket-ledger/monitoring"
	"ticket-ledger/security"
	"ticket-ledger/utils"

	"github.com/hibiken/asynq"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// runtime holds what both the server and the operator commands need.
type runtime struct {
	cfg        *config.Config
	store      *store.Store
	chain      *ledger.Chain // devnet only
	reader     ledger.Reader
	writer     ledger.Writer
	factory    string
	addresses  *services.AddressRegistry
	reconciler *services.Reconciler
}

func newRuntime(cfg *config.Config, notifier services.Notifier, monitor *monitoring.Monitor) (*runtime, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: st, addresses: services.NewAddressRegistry()}
	if cfg.Devnet() {
		rt.chain = ledger.NewChain(cfg.LedgerAccount)
		rt.reader, rt.writer = rt.chain, rt.chain
		rt.factory = rt.chain.Factory().Address()
		slog.Info("Using in-process development ledger", "factory", rt.factory, "account", cfg.LedgerAccount)
	} else {
		client := ledger.NewRPCClient(cfg.LedgerRPCURL, cfg.LedgerCredentials)
		rt.reader, rt.writer = client, client
		rt.factory = ledger.NormalizeAddress(cfg.FactoryAddress)
		slog.Info("Using ledger node", "url", cfg.LedgerRPCURL, "factory", rt.factory)
	}

	rt.reconciler = services.NewReconciler(st, rt.reader, rt.addresses, rt.factory, cfg.SyncBatchSize, notifier, monitor)
	return rt, nil
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
}

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// Initialize PubNub
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	pn := pubnub.NewPubNub(pnConfig)
	notifier := services.NewPubNubNotifier(pn)

	monitor := monitoring.NewMonitor(redisClient, services.CheckpointKey)

	rt, err := newRuntime(cfg, notifier, monitor)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Settlement queue
	redisOpts := redisClient.Options()
	redisOpt := asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	settlement := services.NewSettlementService(queueClient, rt.writer, cfg.LedgerAccount)
	worker := newSettlementWorker(redisOpt, cfg.WorkerConcurrency)
	mux := asynq.NewServeMux()
	settlement.Register(mux)

	// Initialize services
	checkpoints := services.NewRedisCheckpoints(redisClient)
	watcher := services.NewWatcher(rt.reader, rt.reconciler, rt.addresses, rt.store, checkpoints, rt.factory, services.WatcherConfig{
		Enabled:      cfg.WatcherEnabled,
		PollInterval: cfg.PollInterval,
		StartBlock:   cfg.WatcherStartBlock,
		BatchSize:    cfg.SyncBatchSize,
	}, monitor)
	accessService := services.NewAccessService(rt.store, settlement, notifier, services.AccessConfig{
		AllowTransferred: cfg.AccessAllowTransferred,
	}, monitor)

	// Initialize handlers
	accessHandler := handlers.NewAccessHandler(accessService, rt.store)
	watcherHandler := handlers.NewWatcherHandler(watcher, rt.reconciler)
	var checkoutHandler *handlers.CheckoutHandler
	if rt.chain != nil {
		checkoutHandler = handlers.NewCheckoutHandler(services.NewCheckoutService(rt.store, rt.chain, cfg.LedgerAccount, cfg.TokenBaseURI))
	}
	limiter := security.NewRateLimiter(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow)

	// Collections created from the dashboard are tracked as migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})
	app.RootCmd.AddCommand(newSyncRangeCmd(rt))

	// Setup graceful shutdown
	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := worker.Start(mux); err != nil {
			return fmt.Errorf("start settlement worker: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start ledger watcher: %w", err)
		}
		if cfg.EnableMetrics {
			go monitor.Run(ctx)
		}

		// Access endpoints
		e.Router.POST("/api/v1/access/check", accessHandler.CheckAccess).BindFunc(limiter.ScanRateLimit())
		e.Router.GET("/api/v1/sales/{saleId}/history", accessHandler.GetSaleHistory)

		// Watcher endpoints
		e.Router.GET("/api/v1/watcher/status", watcherHandler.GetStatus)
		e.Router.POST("/api/v1/watcher/sync", watcherHandler.SyncRange)

		// Development ledger endpoints
		if checkoutHandler != nil {
			e.Router.POST("/api/v1/events", checkoutHandler.CreateEvent).BindFunc(limiter.AntiBotMiddleware())
			e.Router.POST("/api/v1/orders", checkoutHandler.PlaceOrder).BindFunc(limiter.AntiBotMiddleware())
			e.Router.POST("/rpc", apis.WrapStdHandler(ledger.NewRPCHandler(rt.chain, cfg.LedgerCredentials)))
		}

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			return healthCheck(e, redisClient, rt.reader)
		})

		slog.Info("Server routes registered", "devnet", rt.chain != nil, "watcher", cfg.WatcherEnabled)

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		watcher.Stop()
		worker.Shutdown()
		return e.Next()
	})

	// Start server
	if err := app.Start(); err != nil {
		return err
	}
	return nil
}

func newSettlementWorker(redisOpt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				slog.Error("Settlement task failed", "type", task.Type(), "payload", string(task.Payload()), "error", err)
			}),
		},
	)
}

func healthCheck(e *core.RequestEvent, redisClient redis.Cmdable, reader ledger.Reader) error {
	if err := utils.RedisHealthCheck(redisClient); err != nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	latest, err := reader.LatestBlock(e.Request.Context())
	if err != nil {
		return e.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "healthy", "latest_block": latest})
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received, cleaning up...")
	cancel()
}
