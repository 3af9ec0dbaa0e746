package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleworks/paygate/internal/config"
	"github.com/settleworks/paygate/internal/converter"
	"github.com/settleworks/paygate/internal/exchange"
	"github.com/settleworks/paygate/internal/gateway"
	"github.com/settleworks/paygate/internal/handler"
	"github.com/settleworks/paygate/internal/lifecycle"
	"github.com/settleworks/paygate/internal/logging"
	"github.com/settleworks/paygate/internal/middleware"
	"github.com/settleworks/paygate/internal/reconciler"
	"github.com/settleworks/paygate/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("paygate-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	paymentRepo := repository.NewPaymentRepository(db)
	eventRepo := repository.NewEventRepository(db)
	jobRepo := repository.NewConversionJobRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	lifecycleSvc := lifecycle.NewService(paymentRepo, eventRepo, db)

	var gateways []gateway.Gateway
	gateways = append(gateways, gateway.NewCardRail(cfg.CardRailBaseURL, cfg.CardRailWebhookSecret))
	if cfg.CryptoInvoiceBaseURL != "" {
		gateways = append(gateways, gateway.NewCryptoInvoice(cfg.CryptoInvoiceBaseURL, cfg.CryptoInvoiceWebhookSecret))
	}
	registry := gateway.NewRegistry(gateways...)

	exchangeClient := exchange.NewClient(
		cfg.ExchangeBaseURL,
		cfg.ExchangeAPIKey,
		time.Duration(cfg.ExchangeTimeoutS)*time.Second,
	)

	conv := converter.New(paymentRepo, jobRepo, lifecycleSvc, exchangeClient, db, converter.Config{
		Asset:             cfg.SettlementAsset,
		Address:           cfg.SettlementAddress,
		Network:           cfg.SettlementNetwork,
		DefaultQuotePrice: decimal.NewFromFloat(cfg.DefaultQuotePrice),
		CallTimeout:       time.Duration(cfg.ExchangeTimeoutS) * time.Second,
		StaleAfter:        time.Duration(cfg.ConversionStaleAfterS) * time.Second,
	})

	if cfg.ConversionEnabled() {
		worker := converter.NewWorker(jobRepo, conv, slog.Default(),
			time.Duration(cfg.ConverterIntervalS)*time.Second,
			time.Duration(cfg.ConversionStaleAfterS)*time.Second,
		)
		go worker.Start(ctx)
	} else {
		slog.Info("settlement conversion disabled, captured payments complete directly")
	}

	rec := reconciler.New(registry, lifecycleSvc, conv, cfg.ConversionEnabled())

	paymentHandler := handler.NewPaymentHandler(
		lifecycleSvc, conv, registry,
		cfg.Provider, cfg.WebhookCallbackURL, cfg.CheckoutBaseURL,
	)
	webhookHandler := handler.NewWebhookHandler(rec)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", healthHandler.Live)
	mux.HandleFunc("GET /health/ready", healthHandler.Ready)

	idempotent := middleware.Idempotency(idempotencyRepo)
	mux.Handle("POST /payments", idempotent(http.HandlerFunc(paymentHandler.Create)))
	mux.HandleFunc("GET /payments/{id}", paymentHandler.Get)
	mux.Handle("POST /payments/{id}/intent", idempotent(http.HandlerFunc(paymentHandler.CreateIntent)))

	mux.HandleFunc("POST /webhooks/{provider}", webhookHandler.Receive)

	admin := middleware.Auth(cfg.JWTSecret)
	mux.Handle("GET /payments/{id}/summary", admin(http.HandlerFunc(paymentHandler.Summary)))
	mux.Handle("POST /payments/{id}/retry-conversion", admin(http.HandlerFunc(paymentHandler.RetryConversion)))

	chain := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "provider", cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
