package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a key/value store with per-entry expiry.
type Cache interface {
	// Get retrieves a value. The context bounds I/O-backed implementations.
	Get(ctx context.Context, key string) (bool, any, error)
	// Set stores a value with a TTL. If expires <= 0 the configured default
	// TTL is used.
	Set(ctx context.Context, key string, val any, expires time.Duration) error
	// Hits returns the number of times a key has been read since it was set.
	Hits(ctx context.Context, key string) (bool, int)
	// Expire removes a key.
	Expire(ctx context.Context, key string) (bool, error)
	// Close shuts the cache down.
	Close() error
}

// GetValue retrieves a typed value. Values held as-is by the in-memory
// backend are type asserted; values a serializing backend returns as []byte
// are decoded with msgpack.
func GetValue[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	var zero T
	found, val, err := c.Get(ctx, key)
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, errors.Wrapf(err, "cache: decoding %q", key)
		}
		return true, result, nil
	}
	return false, zero, errors.Newf("cache: cannot convert value of type %T to %T", val, zero)
}

// DefaultExpires is the TTL used when Set is called without one.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout bounds every operation of I/O-backed caches.
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout of the Redis backend.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets how often the in-memory backend sweeps expired
// entries.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix namespaces Redis keys.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
