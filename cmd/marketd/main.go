package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/pondbot/market/internal/config"
	"github.com/pondbot/market/internal/domain"
	"github.com/pondbot/market/internal/engine"
	"github.com/pondbot/market/internal/handler"
	"github.com/pondbot/market/internal/journal"
	"github.com/pondbot/market/internal/ledger"
	"github.com/pondbot/market/internal/service"
	"github.com/pondbot/market/internal/stats"
	"github.com/pondbot/market/internal/store"
	"github.com/pondbot/market/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("MARKET_PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Ledger and stores.
	wallet := ledger.NewWallet()
	assets := ledger.NewAssetLedger(wallet, wallet)
	items := domain.NewItemRegistry()
	orderStore := store.NewOrderStore()

	// Durable trade journal is optional; without it executions live in
	// memory only.
	var tradeJournal *journal.TradeJournal
	if cfg.Journal.Dir != "" {
		var err error
		tradeJournal, err = journal.Open(cfg.Journal.Dir)
		if err != nil {
			return fmt.Errorf("open trade journal: %w", err)
		}
		defer tradeJournal.Close()
		logger.Info("trade journal opened", slog.String("dir", cfg.Journal.Dir))
	}

	trades, err := store.NewTradeLedger(tradeJournal)
	if err != nil {
		return fmt.Errorf("replay trade journal: %w", err)
	}

	// Engine.
	books := engine.NewBookManager()
	matcher := engine.NewMatcher(books, assets, orderStore, trades, items, logger)

	// Event stream.
	hub := stream.NewHub(logger)

	expiryMgr := engine.NewExpiryManager(
		cfg.Market.SweepInterval.Duration,
		books,
		orderStore,
		assets,
		hub,
		logger,
	)

	// Statistics and services.
	tracker := stats.NewTracker(trades, books, cfg.Market.StatsWindow.Duration)
	userSvc := service.NewUserService(wallet, assets, items)
	marketSvc := service.NewMarketService(matcher, expiryMgr, wallet, orderStore, tracker, hub)
	itemSvc := service.NewItemService(books, matcher, tracker, items)

	router := handler.NewRouter(userSvc, marketSvc, itemSvc, hub.HandleWS, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	expiryMgr.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// context.Canceled here is a normal shutdown, not a failure.
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
