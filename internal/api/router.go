package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packedgo/checkout-sync/internal/logger"
)

// RouterOptions configures SetupRouter.
type RouterOptions struct {
	GinMode string
	// SigningKey verifies customer access tokens.
	SigningKey   []byte
	LoginPath    string
	CheckoutPath string
	// Gatherer backs /metrics; nil leaves the endpoint out.
	Gatherer prometheus.Gatherer
	// Webhooks registers the Mercado Pago webhook endpoint.
	Webhooks bool
	Log      *logger.Logger
	Now      func() time.Time
}

// SetupRouter configures the Gin router with all routes and middleware.
func SetupRouter(handler *Handler, opts RouterOptions) *gin.Engine {
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware(log))
	router.Use(LoggingMiddleware(log))

	// Health check endpoint (no auth required)
	router.GET("/health", handler.Health)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		// Recovery works with the session token alone
		v1.GET("/checkout/recover", handler.RecoverSession)

		authed := v1.Group("")
		authed.Use(BearerAuthMiddleware(log, opts.SigningKey, opts.LoginPath, opts.CheckoutPath, opts.Now))

		checkout := authed.Group("/checkout")
		{
			checkout.GET("/view", handler.GetView)
			checkout.DELETE("/view", handler.ReleaseView)
			checkout.GET("/return", handler.HandleReturn)
			checkout.POST("/abandon", handler.Abandon)
			checkout.GET("/sessions/:session_id/tickets", handler.SessionTickets)
		}

		payments := authed.Group("/payments")
		{
			payments.GET("/orders/:order_id/status", handler.PaymentStatus)
		}
	}

	// Called by Mercado Pago, so no JWT required.
	// Security is handled by validating the webhook signature.
	if opts.Webhooks {
		router.POST("/webhooks/mercadopago", handler.HandleWebhook)
	}

	return router
}
