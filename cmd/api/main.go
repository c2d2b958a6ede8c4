// Checkout Sync Service
//
// This is the main entry point for the checkout reconciliation service.
// It wires up all dependencies and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/packedgo/checkout-sync/config"
	"github.com/packedgo/checkout-sync/internal/api"
	"github.com/packedgo/checkout-sync/internal/checkout"
	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
	"github.com/packedgo/checkout-sync/internal/metrics"
	"github.com/packedgo/checkout-sync/internal/payment"
	"github.com/packedgo/checkout-sync/internal/platform/mercadopago"
	"github.com/packedgo/checkout-sync/internal/platform/orders"
	"github.com/packedgo/checkout-sync/internal/platform/payments"
	"github.com/packedgo/checkout-sync/internal/platform/redisstore"
	"github.com/packedgo/checkout-sync/internal/platform/stripe"
)

const serviceName = "checkout-sync"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		WarnStack:   cfg.Log.WarnStack,
	})
	logg.Zerolog(ctx).Info().
		Str("port", cfg.Server.Port).
		Str("orders_url", cfg.Orders.BaseURL).
		Str("gateway_mode", cfg.Payments.GatewayMode).
		Msg("configuration loaded")

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "server stopped with error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire up dependencies (manual dependency injection)
	//
	// Observability
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)

	// Infrastructure Layer
	ordersClient := orders.NewClient(cfg.Orders.BaseURL, cfg.Orders.Timeout,
		orders.WithLocation(cfg.Orders.Location()),
		orders.WithLogger(logg),
	)
	paymentsClient := payments.NewClient(cfg.Payments.BaseURL, cfg.Payments.Timeout)

	var cache domain.PreferenceCache
	var pinger api.Pinger
	if cfg.Redis.URL != "" {
		store, err := redisstore.New(ctx, redisstore.Options{
			URL:           cfg.Redis.URL,
			DialTimeout:   cfg.Redis.DialTimeout,
			PreferenceTTL: cfg.Redis.PreferenceTTL,
		})
		if err != nil {
			return fmt.Errorf("bootstrap redis: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logg.Error(ctx, "error closing redis", err)
			}
		}()
		cache, pinger = store, store
	}

	var gateway domain.PaymentGateway = paymentsClient
	var lookup domain.PaymentLookup
	if cfg.MercadoPago.AccessToken != "" {
		mpAdapter, err := mercadopago.NewAdapter(mercadopago.Options{
			AccessToken:     cfg.MercadoPago.AccessToken,
			Currency:        cfg.MercadoPago.Currency,
			NotificationURL: cfg.MercadoPago.NotificationURL,
			ReturnBaseURL:   cfg.MercadoPago.ReturnBaseURL,
			CheckoutPath:    cfg.Checkout.CheckoutPath,
		})
		if err != nil {
			return fmt.Errorf("bootstrap mercado pago: %w", err)
		}
		lookup = mpAdapter
		if strings.EqualFold(cfg.Payments.GatewayMode, config.GatewayModeMercadoPago) {
			gateway = mpAdapter
		}
	}

	var intents domain.IntentVerifier
	if cfg.Stripe.Enabled() {
		verifier, err := stripe.NewVerifier(cfg.Stripe.SecretKey)
		if err != nil {
			return fmt.Errorf("bootstrap stripe: %w", err)
		}
		intents = verifier
	}

	// Service Layer
	views := checkout.NewRegistry(checkout.Deps{
		Backend: ordersClient,
		Gateway: gateway,
		Cache:   cache,
		Cart:    ordersClient,
		Intents: intents,
		Log:     logg,
		Metrics: checkoutMetrics,
	}, checkout.Options{
		PollInterval:  cfg.Checkout.PollInterval,
		TickInterval:  cfg.Checkout.TickInterval,
		ReturnDelay:   cfg.Checkout.ReturnDelay,
		CheckoutPath:  cfg.Checkout.CheckoutPath,
		SuccessPath:   cfg.Checkout.SuccessPath,
		DashboardPath: cfg.Checkout.DashboardPath,
		LoginPath:     cfg.Checkout.LoginPath,
	}, cfg.Checkout.ViewTTL)
	views.Start(ctx)
	defer views.Close()

	paymentService := payment.NewService(
		paymentsClient, // implements domain.PaymentVerifier
		lookup,         // implements domain.PaymentLookup
		mercadopago.NewWebhookValidator(cfg.MercadoPago.WebhookMaxAge),
		cfg.MercadoPago.WebhookSecret,
		views, // nudges live views on webhooks
		logg,
	)

	// API Layer
	signingKey, err := cfg.Auth.SigningKey()
	if err != nil {
		return fmt.Errorf("bootstrap auth: %w", err)
	}
	handler := api.NewHandler(api.HandlerDeps{
		Views:     views,
		Payments:  paymentService,
		Tickets:   ordersClient,
		Recoverer: ordersClient,
		Cache:     pinger,
		Log:       logg,
	})
	router := api.SetupRouter(handler, api.RouterOptions{
		GinMode:      cfg.Server.GinMode,
		SigningKey:   signingKey,
		LoginPath:    cfg.Checkout.LoginPath,
		CheckoutPath: cfg.Checkout.CheckoutPath,
		Gatherer:     registry,
		Webhooks:     cfg.MercadoPago.WebhooksEnabled(),
		Log:          logg,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: api.CORS(cfg.Server.AllowedOrigin, router),
	}

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		logg.Zerolog(ctx).Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
