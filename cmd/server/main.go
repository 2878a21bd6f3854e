// Package main runs the swap engine service: the trade API, event sinks and
// the timed-out trade reconciler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-swap-engine/internal/api"
	"solana-swap-engine/internal/config"
	"solana-swap-engine/internal/domain"
	"solana-swap-engine/internal/engine"
	"solana-swap-engine/internal/events"
	"solana-swap-engine/internal/logging"
	"solana-swap-engine/internal/observability"
	"solana-swap-engine/internal/orchestrator"
	"solana-swap-engine/internal/quote"
	"solana-swap-engine/internal/reconcile"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWAP_CONFIG"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	if *useMemory {
		os.Setenv("SWAP_STORAGE_USE_MEMORY", "true")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging, cfg.App.Name)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Fatal("server.failed", zap.Error(err))
	}
	logger.Info("server.stopped")
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics("swap_engine", prometheus.DefaultRegisterer)

	stores, cleanup, err := createStores(ctx, cfg.Storage, metrics.RecordDBQuery)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	notifier := orchestrator.NewNotifier(cfg.Events.Buffer)
	notifier.OnDrop = func(sub string, ev domain.TradeEvent) {
		metrics.EventsDropped.Inc()
		logger.Warn("events.dropped", zap.String("subscriber", sub), zap.String("trade_id", ev.TradeID), zap.String("stage", ev.Stage.String()))
	}

	eng, err := engine.New(ctx, cfg, notifier, metrics, logger)
	if err != nil {
		return err
	}
	defer eng.Close()
	rpc := eng.RPC

	sinks := []events.Sink{events.NewJournalSink(stores.trades)}
	if stores.events != nil {
		sinks = append(sinks, events.NewStoreSink(stores.events, cfg.Events.BatchSize))
	}
	var nc *nats.Conn
	if cfg.Events.NATSURL != "" {
		nc, err = nats.Connect(cfg.Events.NATSURL, nats.Name(cfg.App.Name))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats.drain_failed", zap.Error(err))
			}
		}()
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("init jetstream: %w", err)
		}
		if err := events.EnsureStream(js, cfg.Events.NATSStream, cfg.Events.NATSSubject); err != nil {
			return err
		}
		sinks = append(sinks, events.NewNATSSink(js, cfg.Events.NATSSubject, cfg.App.Name))
	}

	healthChecks := append([]api.HealthCheck{{
		Name: "solana",
		Check: func(ctx context.Context) error {
			_, err := rpc.GetBlockHeight(ctx)
			return err
		},
	}}, stores.health...)
	if nc != nil {
		healthChecks = append(healthChecks, api.HealthCheck{Name: "nats", Check: func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New(nc.Status().String())
			}
			return nil
		}})
	}

	var guard *api.IdempotencyGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		guard = api.NewIdempotencyGuard(rdb, cfg.Redis.KeyPrefix, cfg.Redis.IdempotencyTTL)
		healthChecks = append(healthChecks, api.HealthCheck{Name: "redis", Check: guard.Ping})
	} else {
		logger.Warn("redis.disabled", zap.String("reason", "redis.addr not set; Idempotency-Key is ignored"))
	}

	var reconciler *reconcile.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler, err = reconcile.New(reconcile.Options{
			Trades:          stores.trades,
			Reconciliations: stores.reconciliations,
			Chain:           rpc,
			Config: reconcile.Config{
				Interval:  cfg.Reconcile.Interval,
				Lookback:  cfg.Reconcile.Lookback,
				BatchSize: cfg.Reconcile.BatchSize,
			},
			Metrics: metrics,
			Logger:  logger.Named("reconcile"),
		})
		if err != nil {
			return err
		}
	}

	handlerOpts := api.Options{
		Executor:        eng.Orchestrator,
		Trades:          stores.trades,
		Reconciliations: stores.reconciliations,
		Prices:          quote.NewPriceSource(cfg.Jupiter.PriceURL, cfg.Jupiter.APIKey, nil, cfg.Jupiter.RequestsPerSecond, logger.Named("price")),
		Idempotency:     guard,
		HealthChecks:    healthChecks,
		Metrics:         metrics,
		Logger:          logger.Named("api"),
		TradeTimeout:    cfg.Server.TradeTimeout,
	}
	if reconciler != nil {
		handlerOpts.Reconciler = reconciler
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: true,
	})
	api.RegisterRoutes(app, api.NewHandler(handlerOpts), metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)

	// Dispatchers outlive the signal so that events of in-flight trades are
	// drained; they stop when the notifier closes.
	dispatchCtx := context.WithoutCancel(ctx)
	for _, sink := range sinks {
		var sub *orchestrator.Subscription
		if _, ok := sink.(*events.JournalSink); ok {
			// reconciliation reads the journal, so terminal events are never dropped
			sub = notifier.SubscribeReliable(sink.Name())
		} else {
			sub = notifier.Subscribe(sink.Name())
		}
		d := events.NewDispatcher(sink, events.DispatcherOptions{
			FlushInterval: cfg.Events.FlushInterval,
			Metrics:       metrics,
			Logger:        logger.Named("events"),
		})
		g.Go(func() error {
			return d.Run(dispatchCtx, sub.C())
		})
	}

	if reconciler != nil {
		g.Go(func() error {
			if err := reconciler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("reconciler: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("server.listening", zap.String("addr", cfg.Server.Addr))
		if err := app.Listen(cfg.Server.Addr); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		// a second signal terminates immediately
		stop()
		logger.Info("server.shutting_down")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("fiber.shutdown_failed", zap.Error(err))
		}
		notifier.Close()
		return nil
	})

	return g.Wait()
}
