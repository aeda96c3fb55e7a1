// Command server runs the fair-value valuation service.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/fairvalue/internal/clients/fxapi"
	"github.com/aristath/fairvalue/internal/clients/marketdata"
	"github.com/aristath/fairvalue/internal/clients/treasury"
	"github.com/aristath/fairvalue/internal/config"
	"github.com/aristath/fairvalue/internal/database"
	"github.com/aristath/fairvalue/internal/events"
	"github.com/aristath/fairvalue/internal/modules/cashflows"
	"github.com/aristath/fairvalue/internal/modules/curves"
	"github.com/aristath/fairvalue/internal/modules/discountspec"
	"github.com/aristath/fairvalue/internal/modules/fx"
	"github.com/aristath/fairvalue/internal/modules/positions"
	"github.com/aristath/fairvalue/internal/modules/runs"
	"github.com/aristath/fairvalue/internal/modules/securities"
	"github.com/aristath/fairvalue/internal/modules/valuation"
	"github.com/aristath/fairvalue/internal/reliability"
	"github.com/aristath/fairvalue/internal/scheduler"
	"github.com/aristath/fairvalue/internal/server"
	"github.com/aristath/fairvalue/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode, Service: "fairvalue"})
	logger.SetGlobalLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Databases: security master, run ledger, market data cache
	masterDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "master.db"),
		Profile: database.ProfileStandard,
		Name:    "master",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open master.db")
	}
	defer masterDB.Close()

	runsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "runs.db"),
		Profile: database.ProfileLedger,
		Name:    "runs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open runs.db")
	}
	defer runsDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache.db")
	}
	defer cacheDB.Close()

	databases := map[string]*database.DB{
		"master": masterDB,
		"runs":   runsDB,
		"cache":  cacheDB,
	}
	for name, db := range databases {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("migration failed")
		}
	}

	// Repositories
	securitiesRepo := securities.NewRepository(masterDB.Conn(), log)
	positionsRepo := positions.NewRepository(masterDB.Conn(), log)
	specsRepo := discountspec.NewRepository(masterDB.Conn(), log)
	flowsRepo := cashflows.NewRepository(masterDB.Conn(), log)
	curvesRepo := curves.NewRepository(cacheDB.Conn(), log)
	fxRepo := fx.NewRepository(cacheDB.Conn(), log)
	runsRepo := runs.NewRepository(runsDB.Conn(), log)

	// External clients and providers
	var fetchers []curves.ExternalFetcher
	if cfg.ExternalCurvesEnabled {
		fetchers = append(fetchers,
			treasury.NewClient(cfg, log),
			marketdata.NewClient(cfg, log),
		)
	}
	curveProvider := curves.NewProvider(curvesRepo, fetchers, cfg.CurveTTLDays, log)

	var fxExternal fx.ExternalProvider
	if cfg.FxProviderURL != "" {
		fxExternal = fxapi.NewClient(cfg, log)
	}
	fxService := fx.NewService(fxRepo, fxExternal, log)

	// Valuation pipeline
	bus := events.NewBus(cacheDB.Conn(), log)
	projector := cashflows.NewProjector(flowsRepo, log)
	engine := valuation.NewEngine(log)
	orchestrator := valuation.NewOrchestrator(
		cfg, securitiesRepo, positionsRepo, specsRepo,
		curveProvider, projector, engine, fxService, runsRepo, bus, log,
	)

	// Maintenance jobs
	sched := scheduler.New(log)
	if err := sched.RegisterCacheCleanup(curvesRepo, fxRepo, runsRepo, bus, 30); err != nil {
		log.Fatal().Err(err).Msg("failed to register cache cleanup job")
	}
	if err := sched.RegisterWALCheckpoint(databases); err != nil {
		log.Fatal().Err(err).Msg("failed to register checkpoint job")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	backup, err := reliability.NewS3BackupService(startupCtx, cfg, databases, log)
	cancelStartup()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backup service")
	}
	if backup != nil {
		if err := sched.RegisterBackup(backup); err != nil {
			log.Fatal().Err(err).Msg("failed to register backup job")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Deps{
		Config:       cfg,
		Log:          log,
		MasterDB:     masterDB,
		RunsDB:       runsDB,
		CacheDB:      cacheDB,
		Securities:   securitiesRepo,
		DiscountSpec: specsRepo,
		Curves:       curvesRepo,
		FxService:    fxService,
		FxRepo:       fxRepo,
		Runs:         runsRepo,
		Orchestrator: orchestrator,
		Bus:          bus,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
