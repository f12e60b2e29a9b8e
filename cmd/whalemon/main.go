package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/admin"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/config"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/monitor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "whalemon",
		Short:         "XRPL whale transaction monitor",
		Long:          "Watches configured XRPL wallets for large XRP payments and dispatches tiered Telegram alerts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newScanCmd(), newDispatchCmd(), newMigrateCmd())
	return root
}

// setup loads configuration and the process logger. Failures are written to
// stderr because no logger exists yet.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the trigger API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			logger.Info("starting whalemon",
				"store_backend", cfg.Store.Backend,
				"ledger_rpc", cfg.Ledger.RPCURL,
				"notify_transport", cfg.Notify.Transport,
				"events_backend", cfg.Events.Backend,
				"check_interval", cfg.Monitor.CheckInterval,
				"workers", cfg.Monitor.Workers,
			)

			scheduler := monitor.NewScheduler(a.orch, a.dispatcher, monitor.SchedulerConfig{
				Interval:          cfg.Monitor.CheckInterval,
				DispatchBatchSize: cfg.Monitor.DispatchBatchSize,
				RunOnStart:        cfg.Monitor.RunOnStart,
			}, logger)
			limiter := admin.NewRateLimiter(admin.RateLimitConfig{
				LedgerRPS:       cfg.Ledger.RPS,
				PagesPerScan:    cfg.Ledger.MaxPages,
				ScanShare:       cfg.Server.ManualScanShare,
				WritesPerMinute: cfg.Server.WritesPerMinute,
			}, logger)
			api := admin.NewServer(a.orch, a.dispatcher, a.health, a.repos, limiter, logger)

			g, gCtx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return scheduler.Run(gCtx)
			})
			g.Go(func() error {
				return runAPIServer(gCtx, cfg.Server.Port, api.Handler(), logger)
			})
			if a.db != nil {
				startDBPoolStatsPump(gCtx, a.db.DB, cfg.DB.PoolStatsInterval, defaultDBPoolStatsGauges(), logger)
			}

			if err := g.Wait(); !isShutdown(err) {
				logger.Error("whalemon exited with error", "error", err)
				return err
			}
			logger.Info("whalemon shut down gracefully")
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "scan [address]",
		Short: "Scan one wallet, or every active wallet, once and dispatch resulting alerts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				res, err := a.orch.MonitorSingle(ctx, args[0], owner)
				if err != nil {
					logger.Error("scan failed", "wallet", args[0], "error", err)
				}
				if encErr := printJSON(cmd, res); encErr != nil {
					return encErr
				}
				return err
			}

			batch, err := a.orch.MonitorAll(ctx)
			if err != nil {
				logger.Error("batch scan failed", "error", err)
				return err
			}
			if _, err := a.dispatcher.DispatchPending(ctx, cfg.Monitor.DispatchBatchSize); err != nil {
				logger.Warn("pending sweep failed", "error", err)
			}
			return printJSON(cmd, batch)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner name used to onboard an unknown address")
	return cmd
}

func newDispatchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver pending alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			if limit <= 0 {
				limit = cfg.Monitor.DispatchBatchSize
			}
			summary, err := a.dispatcher.DispatchPending(ctx, limit)
			if err != nil {
				logger.Error("dispatch failed", "error", err)
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum alerts to deliver (default MONITOR_DISPATCH_BATCH_SIZE)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.StoreBackendPostgres {
				return fmt.Errorf("migrate requires STORE_BACKEND=postgres, got %q", cfg.Store.Backend)
			}
			db, err := openPostgres(cmd.Context(), cfg.DB)
			if err != nil {
				logger.Error("migration failed", "error", err)
				return err
			}
			defer db.Close()
			logger.Info("migrations applied")
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAPIServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("api server shutdown error", "error", err)
		}
	}()

	logger.Info("api server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}
