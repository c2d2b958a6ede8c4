// Package auth carries the customer's bearer token through request contexts
// and inspects it for the fields the checkout flow needs.
//
// Tokens are HS256 access tokens issued by the auth service and share its
// signing key; the subject keys the customer's live checkout view.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/packedgo/checkout-sync/internal/domain"
)

type tokenKey struct{}

// WithToken returns a context carrying the customer's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Claims is the subset of the access token the checkout flow reads.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header value.
func ExtractBearer(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", domain.NewCheckoutError(domain.ErrUnauthorized, "invalid authorization format", "UNAUTHORIZED")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ParseAccessToken verifies the signature, algorithm and expiry of token and
// returns the claims the checkout flow needs.
func ParseAccessToken(key []byte, token string, now time.Time) (*Claims, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.NewCheckoutError(domain.ErrUnauthorized, "access token expired", "TOKEN_EXPIRED")
	case err != nil:
		return nil, domain.NewCheckoutError(domain.ErrUnauthorized, "invalid access token", "UNAUTHORIZED")
	}

	out := &Claims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if out.Subject == "" {
		// packedgo tokens carry the user id in a custom claim
		if uid, ok := claims["userId"]; ok {
			out.Subject = fmt.Sprint(uid)
		}
	}
	if out.Subject == "" {
		return nil, domain.NewCheckoutError(domain.ErrUnauthorized, "access token has no subject", "UNAUTHORIZED")
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

// LoginRedirect builds the re-authentication target, preserving where the customer
// was and the session they were paying for.
func LoginRedirect(loginPath, returnPath, sessionID string) string {
	q := url.Values{}
	if returnPath != "" {
		q.Set("returnUrl", returnPath)
	}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	if len(q) == 0 {
		return loginPath
	}
	return loginPath + "?" + q.Encode()
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
