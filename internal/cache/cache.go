package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Store types.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// DefaultKeyPrefix is prepended to every key stored in Redis.
const DefaultKeyPrefix = "avabearer:"

// DefaultMaxEntries bounds the memory store.
const DefaultMaxEntries = 100000

var (
	// ErrInvalidConfig indicates that the store configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrStoreFull is returned by the memory store when every slot holds an
	// unexpired key.
	ErrStoreFull = errors.New("cache store is full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache store is closed")
)

// Store records keys for a limited time. Implementations are safe for
// concurrent use.
type Store interface {
	// SetNX records key until ttl elapses. It reports false, without
	// extending the TTL, when key is already recorded.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}

// Config selects and configures a Store.
type Config struct {
	// Type is TypeMemory (the default) or TypeRedis.
	Type string
	// MaxEntries bounds the memory store.
	MaxEntries int
	Redis      *RedisConfig
}

// RedisConfig configures the Redis store. Sentinel takes precedence over URL
// when a master name is set.
type RedisConfig struct {
	URL            string
	KeyPrefix      string
	HashKeys       bool
	PoolSize       int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLS            *TLSConfig
	Sentinel       *SentinelConfig
}

// TLSConfig enables TLS towards Redis.
type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

// SentinelConfig configures Redis Sentinel failover.
type SentinelConfig struct {
	MasterName       string
	SentinelAddrs    []string
	Password         string
	SentinelPassword string
	DB               int
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		if c.Redis == nil {
			return fmt.Errorf("%w: redis configuration is required", ErrInvalidConfig)
		}
		if s := c.Redis.Sentinel; s != nil && s.MasterName != "" {
			if len(s.SentinelAddrs) == 0 {
				return fmt.Errorf("%w: at least one sentinel address is required", ErrInvalidConfig)
			}
			return nil
		}
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: redis URL is required", ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown cache type %q", ErrInvalidConfig, c.Type)
	}
}

type options struct {
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the clock used by the memory store for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates the Store selected by cfg. A Redis store is connected before
// New returns.
func New(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	o := options{
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Type == TypeRedis {
		return newRedisStore(ctx, cfg.Redis, o)
	}
	return newMemoryStore(cfg.MaxEntries, o), nil
}

// HashKey returns the hex SHA-256 of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
