package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/packedgo/checkout-sync/internal/auth"
	"github.com/packedgo/checkout-sync/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	customerKey     = "customer"
)

// CORS wraps the engine with the allowed origin policy.
func CORS(allowedOrigin string, next http.Handler) http.Handler {
	origins := []string{"*"}
	if o := strings.TrimSpace(allowedOrigin); o != "" && o != "*" {
		origins = strings.Split(o, ",")
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", "X-Session-Token", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: origins[0] != "*",
		MaxAge:           86400,
	}).Handler(next)
}

// RequestIDMiddleware adds a unique request ID to each request and its log context.
func RequestIDMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// LoggingMiddleware logs one line per completed request.
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := log.WithFields(c.Request.Context(), map[string]any{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn(ctx, "request.complete")
			return
		}
		log.Info(ctx, "request.complete")
	}
}

// BearerAuthMiddleware verifies the customer's access token against signingKey,
// and stores the token and subject for the handlers.
func BearerAuthMiddleware(log *logger.Logger, signingKey []byte, loginPath, returnPath string, now func() time.Time) gin.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		token, err := auth.ExtractBearer(c.GetHeader("Authorization"))
		if err != nil {
			abortUnauthorized(c, err, loginPath, returnPath)
			return
		}
		claims, err := auth.ParseAccessToken(signingKey, token, now())
		if err != nil {
			if !auth.IsUnauthorized(err) {
				log.Error(c.Request.Context(), "access token verification unavailable", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "authentication unavailable", Code: "INTERNAL_ERROR"})
				return
			}
			abortUnauthorized(c, err, loginPath, returnPath)
			return
		}

		ctx := auth.WithToken(c.Request.Context(), token)
		ctx = log.WithCustomer(ctx, claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(customerKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error, loginPath, returnPath string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Success:  false,
		Error:    err.Error(),
		Code:     errorCode(err, "UNAUTHORIZED"),
		Redirect: auth.LoginRedirect(loginPath, returnPath, ""),
	})
}
