package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/orbit-erp/orbit/cmd/orbit/cli"
	"github.com/orbit-erp/orbit/internal/app"
	"github.com/orbit-erp/orbit/internal/fx"
	"github.com/orbit-erp/orbit/internal/ledger"
	"github.com/orbit-erp/orbit/internal/observability"
	"github.com/orbit-erp/orbit/internal/platform/cache"
	"github.com/orbit-erp/orbit/internal/platform/db"
	"github.com/orbit-erp/orbit/internal/rbac"
	"github.com/orbit-erp/orbit/internal/sales"
	"github.com/orbit-erp/orbit/internal/shared"
	"github.com/orbit-erp/orbit/jobs"
)

var envFiles []string

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "orbit",
		Short:         "Orbit sales API and operational helpers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files loaded before the environment (default .env)")
	root.AddCommand(serveCommand(), jobsCommand(), fxCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		slog.Default().Error("orbit", slog.Any("error", err))
		os.Exit(1)
	}
}

// exitError carries a non-zero exit code already reported to the user.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := app.LoadConfig(envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	services := app.NewServices(cfg, pool, redisClient, logger)
	if err := services.RBAC.EnsurePermissions(ctx, shared.AllScopes()); err != nil {
		return fmt.Errorf("seed permissions: %w", err)
	}
	rbacMiddleware := rbac.Middleware{Service: services.RBAC, Logger: logger}
	metrics := observability.NewMetrics()
	metrics.RegisterOrderCounter(services.SalesOrders, 5*time.Second)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		RBACMiddleware:     rbacMiddleware,
		SalesHandler:       sales.NewHandler(logger, services.Sales, rbacMiddleware),
		LedgerHandler:      ledger.NewHandler(logger, services.Ledger, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, services.RBAC, rbacMiddleware),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.Location().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func jobsCommand() *cobra.Command {
	var opts cli.TriggerOptions
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}

	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue " + jobs.TaskDueSweep + ", " + jobs.TaskDueReminders + " or " + jobs.TaskIdempotencyCleanup,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().IntVar(&opts.PageSize, "page-size", 0, "orders loaded per page by the sweeps")
	trigger.Flags().DurationVar(&opts.IdempotencyRetention, "retention", 7*24*time.Hour, "age of idempotency keys to purge")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the default queue counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				s, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
				return nil
			})
		},
	}
	cmd.AddCommand(trigger, stats)
	return cmd
}

func withJobsCLI(fn func(*cli.JobsCLI) error) error {
	cfg, err := app.LoadConfig(envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func fxCommand() *cobra.Command {
	var (
		source string
		mode   string
		asJSON bool
	)
	cmd := &cobra.Command{Use: "fx", Short: "Manage currency rates"}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import dated rates from CSV (date,base,quote,rate)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := app.LoadConfig(envFiles...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			var rateCache cli.RateCache
			if client, err := cache.New(ctx, cfg.RedisAddr); err == nil {
				defer client.Close()
				rateCache = fx.NewCache(client, cfg.FXCacheTTL)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "fx import: redis unavailable, cache not invalidated: %v\n", err)
			}

			fxCLI, err := cli.NewFXCLI(fx.NewRepository(pool), rateCache)
			if err != nil {
				return err
			}
			code := fxCLI.ImportCommand(ctx, cli.FXImportOptions{
				Source:     source,
				Mode:       cli.FXImportMode(mode),
				JSONOutput: asJSON,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
				Stdin:      cmd.InOrStdin(),
			})
			if code != 0 {
				return exitError(code)
			}
			return nil
		},
	}
	importCmd.Flags().StringVar(&source, "source", "", "CSV file, or - for stdin")
	importCmd.Flags().StringVar(&mode, "mode", string(cli.FXImportModeDry), "dry or apply")
	importCmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON summary")
	cmd.AddCommand(importCmd)
	return cmd
}
