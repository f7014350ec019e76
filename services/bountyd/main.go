// Package bountyd boots the bounty coordination service: ledger, rail
// clients, lifecycle engine, escalation scheduler, reconciliation worker,
// and the ops HTTP surface.
package bountyd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bountybot/observability"
	"bountybot/observability/logging"
	"bountybot/services/bountyd/config"
	"bountybot/services/bountyd/engine"
	"bountybot/services/bountyd/escalation"
	"bountybot/services/bountyd/escrow"
	"bountybot/services/bountyd/ledger"
	"bountybot/services/bountyd/models"
	"bountybot/services/bountyd/payout"
	"bountybot/services/bountyd/recon"
)

// Main initialises and runs the bounty daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/bountyd/config.yaml", "path to bountyd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("bountyd", cfg.Environment)
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"escrow_endpoint", cfg.Escrow.Endpoint,
		"payout_endpoint", cfg.Payout.Endpoint,
		logging.MaskField("escrow_auth_token", cfg.Escrow.AuthToken),
	)

	db, err := ledger.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	store := ledger.NewStore(db, time.Now)

	escrowClient := escrow.NewRPCClient(cfg.Escrow.Endpoint, cfg.Escrow.AuthToken)
	payoutClient, err := payout.NewHTTPClient(cfg.Payout.Endpoint, cfg.Environment)
	if err != nil {
		return err
	}
	walletSecret, err := cfg.WalletSecret()
	if err != nil {
		return err
	}

	policy, err := engine.NewPolicy(cfg.Escalation.Factor, cfg.Escalation.Increment)
	if err != nil {
		return err
	}
	metrics := observability.Bountyd()
	eng := engine.NewEngine(store, escrowClient, payoutClient, policy,
		engine.WithWalletSecret(walletSecret),
		engine.WithMaxRetries(cfg.MaxRetries),
		engine.WithMetrics(metrics),
		engine.WithLogger(logger),
	)

	scheduler := escalation.NewScheduler(escalation.Config{
		Engine:     eng,
		Store:      store,
		Interval:   cfg.Escalation.Interval.Duration,
		BatchLimit: cfg.Escalation.BatchLimit,
		Logger:     logger,
		Metrics:    metrics,
	})
	reconWorker, err := recon.NewWorker(recon.Config{
		Store:       store,
		Escrow:      escrowClient,
		Interval:    cfg.Recon.Interval.Duration,
		MaxAttempts: cfg.Recon.MaxAttempts,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Run(ctx)
	go reconWorker.Run(ctx)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", "error", err)
	}
	return nil
}
