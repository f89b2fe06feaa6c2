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

	"checkout-reconciler/internal/app"
	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/handler"
	"checkout-reconciler/internal/logging"
	"checkout-reconciler/internal/notify"
	"checkout-reconciler/internal/server"
	"checkout-reconciler/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("init app", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Migrate(); err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}

	if cfg.Provider.WebhookSecret == "" {
		logger.Warn("provider webhook secret not configured, every webhook will be rejected")
	}

	verifier := webhook.NewVerifier(cfg.Provider.WebhookSecret, cfg.Provider.WebhookTolerance)
	srv := server.NewServer(
		handler.NewWebhookHandler(verifier, a.WebhookEvents, a.Coordinator, logger),
		handler.NewCheckoutHandler(a.CheckoutService, a.Coordinator, a.DiscountService, a.GiftCardService),
		handler.NewAdminHandler(a.GiftCardService, a.DiscountService, a.Orders),
		handler.NewInventoryHandler(a.InventoryService),
		cfg.Admin.JWTSecret,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := notify.NewDispatcher(cfg.Notify, a.Outbox, logger)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	logger.Info("starting HTTP server", "addr", serverAddr, "environment", cfg.Environment.Name)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	logger.Info("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	cancel()
	<-dispatcherDone
}
