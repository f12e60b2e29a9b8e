package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/alert"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/circuitbreaker"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/classifier"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/config"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/dispatch"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/domain/model"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/events"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/health"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/ledger"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/ledger/ratelimit"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/monitor"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/notify"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/registry"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/scanner"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store/memory"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/store/postgres"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/tracing"
)

const serviceName = "whalemon"

// app holds the wired pipeline shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *postgres.DB // nil for the memory backend
	repos      store.Repos
	health     *health.Reporter
	dispatcher *dispatch.Dispatcher
	orch       *monitor.Orchestrator

	closers []func() error
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: "15:04:05"})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: serviceName,
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	reg, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}
	if err := syncRegistry(ctx, a.repos.Wallets, reg, logger); err != nil {
		return nil, err
	}

	publisher, err := newPublisher(ctx, cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher.Close)

	sender := newSender(cfg, logger)
	if missing := cfg.MissingChannels(); len(missing) > 0 {
		logger.Warn("channel ids not configured; alerts of these tiers stay pending", "tiers", missing)
	}

	a.health = health.NewReporter(a.repos, sender, health.Config{
		UnhealthyThreshold: cfg.Notify.UnhealthyThreshold,
		SystemChannel:      cfg.Telegram.Channels[model.TierSystemAlerts],
		Cooldown:           cfg.Notify.HealthAlertCooldown,
	}, logger)

	thresholds := classifier.Thresholds{
		Default:  cfg.Alert.DefaultThreshold,
		Exchange: cfg.Alert.ExchangeThreshold,
		Critical: cfg.Alert.CriticalThreshold,
	}

	client := ledger.NewClient(ledger.Config{
		URL:       cfg.Ledger.RPCURL,
		Timeout:   cfg.Ledger.Timeout,
		PageLimit: cfg.Ledger.PageLimit,
		MaxPages:  cfg.Ledger.MaxPages,
		Retry:     retry.Policy{MaxAttempts: cfg.Ledger.RetryAttempts},
	}, ratelimit.NewLimiter(cfg.Ledger.RPS, cfg.Ledger.Burst), logger)

	generator := alert.NewGenerator(a.repos.Alerts, thresholds, publisher, logger)
	sc := scanner.New(client, a.repos, reg, thresholds, generator, a.health, logger)

	a.dispatcher = dispatch.NewDispatcher(a.repos, sender, a.health, publisher, dispatch.Config{
		Channels:    cfg.Telegram.Channels,
		ExplorerURL: cfg.Alert.ExplorerURL,
		Retry:       retry.Policy{MaxAttempts: cfg.Notify.SendAttempts},
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Notify.BreakerFailureThreshold,
			OpenTimeout:      cfg.Notify.BreakerOpenTimeout,
		},
	}, logger)

	a.orch = monitor.NewOrchestrator(a.repos.Wallets, sc, a.dispatcher, a.health, cfg.Monitor.Workers, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StoreBackendMemory:
		a.repos = memory.New().Repos()
		a.logger.Warn("using in-memory store; state is lost on exit")
		return nil
	default:
		db, err := openPostgres(ctx, a.cfg.DB)
		if err != nil {
			return err
		}
		a.db = db
		a.repos = postgres.NewRepos(db)
		a.closers = append(a.closers, db.Close)
		a.logger.Info("connected to database")
		return nil
	}
}

func openPostgres(ctx context.Context, cfg config.DBConfig) (*postgres.DB, error) {
	db, err := postgres.New(postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx, postgres.Migrations()); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown error", "error", err)
		}
	}
	a.closers = nil
}

// syncRegistry onboards every registry wallet. Existing rows keep their cursor
// and active flag.
func syncRegistry(ctx context.Context, wallets store.WalletRepository, reg *registry.Registry, logger *slog.Logger) error {
	entries := reg.Wallets()
	for _, e := range entries {
		w := &model.MonitoredWallet{
			Address:   e.Address,
			OwnerName: e.OwnerName,
			IsActive:  true,
		}
		if e.AlertThreshold != nil {
			w.AlertThreshold.Decimal = *e.AlertThreshold
			w.AlertThreshold.Valid = true
		}
		if err := wallets.Upsert(ctx, w); err != nil {
			return fmt.Errorf("upsert wallet %s: %w", e.Address, err)
		}
	}
	logger.Info("synced monitored wallets from registry", "count", len(entries))
	return nil
}

func newPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Backend {
	case config.EventsBackendRedis:
		p, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisStream)
		if err != nil {
			return nil, fmt.Errorf("initialize redis event stream: %w", err)
		}
		logger.Info("redis event stream enabled", "stream", cfg.RedisStream)
		return p, nil
	case config.EventsBackendNATS:
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize nats event publisher: %w", err)
		}
		logger.Info("nats event publisher enabled", "subject_prefix", cfg.NATSSubjectPrefix)
		return p, nil
	default:
		return events.NoopPublisher{}, nil
	}
}

// newSender never fails: a transport that cannot be built is replaced by an
// UnconfiguredSender so alerts accumulate as pending until it is fixed.
func newSender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	switch cfg.Notify.Transport {
	case config.NotifyTransportLog:
		logger.Info("dry run: notifications are logged, not delivered")
		return notify.NewLogSender(logger)
	case config.NotifyTransportWebhook:
		return notify.NewWebhookSender(cfg.Notify.WebhookURL)
	default:
		s, err := notify.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.APIURL)
		if err != nil {
			logger.Warn("telegram transport unavailable; alerts stay pending", "error", err)
			return notify.UnconfiguredSender{Reason: err.Error()}
		}
		return s
	}
}

func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}
