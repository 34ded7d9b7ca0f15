package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/auth"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/config"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/handler"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/idempotency"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/cache"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/events"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/gateway"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/observability"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/lifecycle"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/poller"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/port"
	"github.com/boddenberg/pix-merchant-bfa-go/internal/txrequest"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("gateway_url", cfg.GatewayURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("poll_max_duration", cfg.PollMaxDuration),
		zap.Duration("status_cache_ttl", cfg.StatusCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("nats_enabled", cfg.NATSURL != ""),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "pix-merchant-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	statusCache := cache.New[domain.Transaction](cfg.StatusCacheTTL)
	defer statusCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("payment-gateway", logger)

	// --- Gateway client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	gatewayClient := gateway.NewClient(httpClient, cfg.GatewayURL, cfg.GatewayAPIKey, cb, resilienceCfg, logger)

	// --- Events ---
	var publisher port.EventPublisher = events.NewLogPublisher(logger)
	if cfg.NATSURL != "" {
		js, err := events.NewJetStreamPublisher(ctx, cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("failed to init NATS publisher", zap.Error(err))
		}
		defer js.Close()
		publisher = js
	} else {
		logger.Warn("NATS_URL not set, lifecycle events will only be logged")
	}

	// --- Lifecycle ---
	builder := txrequest.NewBuilder(idempotency.NewFactory(), cfg.CallbackURL)
	ctrl := lifecycle.NewController(
		builder,
		gatewayClient,
		publisher,
		statusCache,
		poller.Config{Interval: cfg.PollInterval, MaxDuration: cfg.PollMaxDuration},
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(ctrl, auth.NewVerifier(cfg.JWTSecret), cb, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: maxRequestTime,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("server shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		ctrl.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// maxRequestTime leaves room for the longest ?wait= long-poll.
const maxRequestTime = 75 * time.Second
