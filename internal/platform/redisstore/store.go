// Package redisstore persists issued payment preferences in Redis so a
// restarted or scaled-out service does not request a second preference for a
// group that already has one.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/packedgo/checkout-sync/internal/domain"
)

const (
	keyNamespace     = "pgco"
	preferencePrefix = "pref"
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Store implements domain.PreferenceCache.
type Store struct {
	store cmdable
	raw   *redis.Client
	ttl   time.Duration
}

// Options configures the connection.
type Options struct {
	URL           string
	DialTimeout   time.Duration
	PreferenceTTL time.Duration
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}
	raw := redis.NewClient(parsed)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newStore(raw, raw, opts.PreferenceTTL), nil
}

func newStore(store cmdable, raw *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{store: store, raw: raw, ttl: ttl}
}

// PreferenceKey is the key a preference of (session, order) is stored under.
func (s *Store) PreferenceKey(sessionID, orderID string) string {
	return strings.Join([]string{keyNamespace, preferencePrefix, sessionID, orderID}, ":")
}

// Get returns the cached preference; ok is false on a miss.
func (s *Store) Get(ctx context.Context, sessionID, orderID string) (*domain.PaymentPreference, bool, error) {
	raw, err := s.store.Get(ctx, s.PreferenceKey(sessionID, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var pref domain.PaymentPreference
	if err := json.Unmarshal([]byte(raw), &pref); err != nil {
		// a corrupt entry is a miss; it is overwritten by the next Put
		return nil, false, nil
	}
	return &pref, true, nil
}

// Put stores a preference for the configured TTL.
func (s *Store) Put(ctx context.Context, sessionID, orderID string, pref domain.PaymentPreference) error {
	payload, err := json.Marshal(pref)
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}
	if err := s.store.Set(ctx, s.PreferenceKey(sessionID, orderID), string(payload), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Forget drops the cached preferences of the given orders.
func (s *Store) Forget(ctx context.Context, sessionID string, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		keys = append(keys, s.PreferenceKey(sessionID, id))
	}
	return s.store.Del(ctx, keys...).Err()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.store.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.raw == nil {
		return nil
	}
	return s.raw.Close()
}
