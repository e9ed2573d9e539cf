package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avabearer/internal/observability"
	"github.com/vyrodovalexey/avabearer/internal/retry"
)

const tracerName = "avabearer/cache"

// connectRetryConfig bounds the initial connection attempts.
func connectRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError reports whether err may be resolved by retrying.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// redisStore keeps keys in Redis so that every replica shares them.
type redisStore struct {
	logger    observability.Logger
	metrics   *Metrics
	client    redis.UniversalClient
	keyPrefix string
	hashKeys  bool
}

func newRedisStore(ctx context.Context, cfg *RedisConfig, o options) (*redisStore, error) {
	var (
		client redis.UniversalClient
		mode   string
	)

	if cfg.Sentinel != nil && cfg.Sentinel.MasterName != "" {
		client = redis.NewFailoverClient(failoverOptions(cfg))
		mode = "sentinel"
	} else {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redis URL: %w", ErrInvalidConfig, err)
		}
		applyPoolOptions(opts, cfg)
		client = redis.NewClient(opts)
		mode = "standalone"
	}

	err := retry.Do(ctx, connectRetryConfig(), func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	},
		retry.WithShouldRetry(isRetryableRedisError),
		retry.WithOnRetry(func(attempt int, err error, backoff time.Duration) {
			o.logger.Warn("retrying redis connection",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err))
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	s := newRedisStoreFromClient(client, cfg.KeyPrefix, cfg.HashKeys, o)

	s.logger.Info("redis cache store initialized",
		observability.String("mode", mode),
		observability.String("keyPrefix", s.keyPrefix),
		observability.Bool("hashKeys", s.hashKeys))

	return s, nil
}

func newRedisStoreFromClient(client redis.UniversalClient, prefix string, hashKeys bool, o options) *redisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &redisStore{
		logger:    o.logger,
		metrics:   o.metrics,
		client:    client,
		keyPrefix: prefix,
		hashKeys:  hashKeys,
	}
}

func failoverOptions(cfg *RedisConfig) *redis.FailoverOptions {
	s := cfg.Sentinel
	opts := &redis.FailoverOptions{
		MasterName:       s.MasterName,
		SentinelAddrs:    s.SentinelAddrs,
		SentinelPassword: s.SentinelPassword,
		Password:         s.Password,
		DB:               s.DB,
		PoolSize:         cfg.PoolSize,
		DialTimeout:      cfg.ConnectTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // User-configurable
		}
	}
	return opts
}

func applyPoolOptions(opts *redis.Options, cfg *RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ConnectTimeout > 0 {
		opts.DialTimeout = cfg.ConnectTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // User-configurable
		}
	}
}

func (s *redisStore) resolveKey(key string) string {
	if s.hashKeys {
		return s.keyPrefix + HashKey(key)
	}
	return s.keyPrefix + key
}

// SetNX is not retried: a retry after a lost reply would report the key
// written by the first attempt as already present.
func (s *redisStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.SetNX",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", TypeRedis)),
	)
	defer span.End()

	start := time.Now()
	stored, err := s.client.SetNX(ctx, s.resolveKey(key), 1, ttl).Result()
	if err != nil {
		s.metrics.recordOp(TypeRedis, "setnx", resultError, time.Since(start))
		observability.RecordError(span, err)
		s.logger.Error("redis setnx failed", observability.Error(err))
		return false, err
	}

	result := resultStored
	if !stored {
		result = resultExists
	}
	s.metrics.recordOp(TypeRedis, "setnx", result, time.Since(start))
	span.SetAttributes(attribute.Bool("cache.stored", stored))
	return stored, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Delete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", TypeRedis)),
	)
	defer span.End()

	start := time.Now()
	err := retry.Do(ctx, connectRetryConfig(), func(ctx context.Context) error {
		return s.client.Del(ctx, s.resolveKey(key)).Err()
	}, retry.WithShouldRetry(isRetryableRedisError))
	if err != nil {
		s.metrics.recordOp(TypeRedis, "delete", resultError, time.Since(start))
		observability.RecordError(span, err)
		return err
	}
	s.metrics.recordOp(TypeRedis, "delete", resultStored, time.Since(start))
	return nil
}

// Ping checks connectivity to Redis.
func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return err
	}
	s.logger.Info("redis cache store closed")
	return nil
}
