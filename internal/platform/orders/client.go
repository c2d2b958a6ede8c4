// Package orders implements domain.SessionBackend, domain.SessionRecoverer,
// domain.TicketSource and domain.CartRefresher against the order service API.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/packedgo/checkout-sync/internal/auth"
	"github.com/packedgo/checkout-sync/internal/domain"
	"github.com/packedgo/checkout-sync/internal/logger"
)

// Client talks to the order service on behalf of the customer whose bearer
// token travels in the request context.
type Client struct {
	baseURL    string
	location   *time.Location
	now        func() time.Time
	httpClient *http.Client
	log        *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLocation sets the zone used for zone-less backend timestamps.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithLogger sets the logger used for malformed backend payloads.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the time source used to anchor relative expiries.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a new order service client.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		location: time.UTC,
		now:      time.Now,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentCheckoutState returns the customer's active session.
// GET /orders/checkout/current
func (c *Client) CurrentCheckoutState(ctx context.Context) (*domain.CheckoutSession, error) {
	var resp sessionResponse
	fetchedAt := c.now()
	if err := c.do(ctx, http.MethodGet, "/orders/checkout/current", nil, nil, &resp, domain.ErrNoCart); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, domain.ErrNoCart
	}
	return c.session(ctx, resp, fetchedAt)
}

// SessionStatus returns the authoritative state of a session.
// GET /orders/sessions/{id}
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	if sessionID == "" {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "session id is required", "INVALID_SESSION")
	}
	var resp sessionResponse
	fetchedAt := c.now()
	path := "/orders/sessions/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	return c.session(ctx, resp, fetchedAt)
}

// AbandonSession releases the session and returns its items to the cart.
// POST /orders/sessions/{id}/abandon
func (c *Client) AbandonSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.NewCheckoutError(domain.ErrInvalidRequest, "session id is required", "INVALID_SESSION")
	}
	path := "/orders/sessions/" + url.PathEscape(sessionID) + "/abandon"
	return c.do(ctx, http.MethodPost, path, struct{}{}, nil, nil, domain.ErrSessionNotFound)
}

// RecoverSession loads a session with its recovery token instead of a bearer token.
// GET /orders/session/recover
func (c *Client) RecoverSession(ctx context.Context, recoveryToken string) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(recoveryToken) == "" {
		return nil, domain.NewCheckoutError(domain.ErrUnauthorized, "missing session token", "MISSING_SESSION_TOKEN")
	}
	var resp sessionResponse
	fetchedAt := c.now()
	headers := map[string]string{"X-Session-Token": recoveryToken}
	if err := c.do(ctx, http.MethodGet, "/orders/session/recover", nil, headers, &resp, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return c.session(ctx, resp, fetchedAt)
}

func (c *Client) session(ctx context.Context, resp sessionResponse, fetchedAt time.Time) (*domain.CheckoutSession, error) {
	s, err := resp.toDomain(fetchedAt, c.location)
	if err != nil {
		c.log.Error(c.log.WithField(ctx, "session_id", resp.SessionID), "malformed checkout session payload", err)
		return nil, err
	}
	return s, nil
}

// SessionTickets lists the tickets issued for a session.
// GET /orders/session/{id}/tickets
func (c *Client) SessionTickets(ctx context.Context, sessionID string) ([]domain.Ticket, error) {
	if sessionID == "" {
		return nil, domain.NewCheckoutError(domain.ErrInvalidRequest, "session id is required", "INVALID_SESSION")
	}
	var resp []ticketResponse
	path := "/orders/session/" + url.PathEscape(sessionID) + "/tickets"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	tickets := make([]domain.Ticket, 0, len(resp))
	for _, t := range resp {
		tickets = append(tickets, t.toDomain())
	}
	return tickets, nil
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do performs one JSON round trip. notFound is returned for 404 responses.
func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := auth.TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.NewCheckoutError(domain.ErrBackendUnavailable, "request failed: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Success - continue
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.NewCheckoutError(domain.ErrUnauthorized, readMessage(resp.Body, "credentials rejected by order service"), "UNAUTHORIZED")
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewCheckoutError(notFound, readMessage(resp.Body, "not found"), "NOT_FOUND")
	case resp.StatusCode == http.StatusGone:
		return domain.NewCheckoutError(domain.ErrSessionExpired, readMessage(resp.Body, "session expired"), "SESSION_EXPIRED")
	case resp.StatusCode >= 500:
		return domain.NewCheckoutError(domain.ErrBackendUnavailable,
			fmt.Sprintf("order service returned status %d: %s", resp.StatusCode, readMessage(resp.Body, "")), "BACKEND_ERROR")
	default:
		return domain.NewCheckoutError(domain.ErrInvalidRequest,
			fmt.Sprintf("order service returned status %d: %s", resp.StatusCode, readMessage(resp.Body, "")), "BACKEND_REJECTED")
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.NewCheckoutError(domain.ErrBackendUnavailable, "failed to decode response: "+err.Error(), "DECODE_ERROR")
	}
	return nil
}

func readMessage(r io.Reader, fallback string) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body errorResponse
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fallback
}
