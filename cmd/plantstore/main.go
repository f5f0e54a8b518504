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
	"github.com/redis/go-redis/v9"

	"github.com/plantops/plantstore/cmd/plantstore/cli"
	"github.com/plantops/plantstore/internal/app"
	"github.com/plantops/plantstore/internal/issuance"
	"github.com/plantops/plantstore/internal/masterdata"
	"github.com/plantops/plantstore/internal/observability"
	"github.com/plantops/plantstore/internal/platform/cache"
	"github.com/plantops/plantstore/internal/platform/db"
	"github.com/plantops/plantstore/internal/procurement"
	"github.com/plantops/plantstore/internal/requisition"
	"github.com/plantops/plantstore/internal/shared"
	"github.com/plantops/plantstore/internal/stock"
	"github.com/plantops/plantstore/jobs"
)

const usage = `usage:
  plantstore [serve]
  plantstore migrate up|down|version
  plantstore jobs trigger reorder-scan|idempotency-cleanup`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	switch {
	case len(args) == 0 || args[0] == "serve":
		err = serve(ctx, cfg, logger)
	case args[0] == "migrate" && len(args) == 2:
		os.Exit(migrate(cfg, logger, args[1]))
	case args[0] == "jobs" && len(args) == 3 && args[1] == "trigger":
		client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, cfg.JobsQueue)
		code := cli.NewJobsCLI(client).TriggerCommand(ctx, args[2], os.Stdout, os.Stderr)
		_ = client.Close()
		os.Exit(code)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("plantstore", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(cfg *app.Config, logger *slog.Logger, action string) int {
	m, err := db.NewMigrator(cfg.PGDSN, logger)
	if err != nil {
		logger.Error("open migrator", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	return cli.MigrateCommand(m, cli.MigrateOptions{Action: action})
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if code := migrate(cfg, logger, "up"); code != 0 {
			return errors.New("migrations failed")
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer dbpool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, master data cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts, cfg.JobsQueue)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	masterCache := masterdata.NewCache(redisClient, cfg.MasterDataCacheTTL)
	masterService := masterdata.NewService(masterdata.NewRepository(dbpool), masterCache, logger)
	resolver := masterdata.NewResolver(masterService)

	stockService := stock.NewService(stock.NewRepository(dbpool), masterService, auditLogger, jobClient, logger)
	requisitionService := requisition.NewService(requisition.NewRepository(dbpool), masterService, approvalRecorder, auditLogger, jobClient, logger)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), requisitionService, masterService, auditLogger, idempotencyStore, jobClient, logger)
	issuanceService := issuance.NewService(issuance.NewRepository(dbpool), requisitionService, masterService, auditLogger, idempotencyStore, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		MasterDataHandler:  masterdata.NewHandler(logger, masterService),
		StockHandler:       stock.NewHandler(logger, stockService, resolver, metrics),
		RequisitionHandler: requisition.NewHandler(logger, requisitionService, resolver, metrics),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, resolver, metrics),
		IssuanceHandler:    issuance.NewHandler(logger, issuanceService, resolver, metrics),
		JobHandler:         jobs.NewHandler(inspector, cfg.JobsQueue, logger),
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
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
