package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwt"
	"github.com/vyrodovalexey/avabearer/internal/cache"
	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Defaults applied by SetDefaults.
const (
	DefaultListen            = ":8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMetricsPath       = "/metrics"
	DefaultMetricsNamespace  = "avabearer"
	DefaultServiceName       = "avabearer"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the avabearer proxy configuration.
type Config struct {
	Server         ServerConfig        `yaml:"server"`
	Verifier       VerifierConfig      `yaml:"verifier"`
	Routes         []RouteConfig       `yaml:"routes,omitempty"`
	Replay         ReplayConfig        `yaml:"replay"`
	CircuitBreaker BreakerConfig       `yaml:"circuitBreaker"`
	Observability  ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the listener and the protected upstream.
type ServerConfig struct {
	Listen            string   `yaml:"listen"`
	Upstream          string   `yaml:"upstream"`
	ReadHeaderTimeout Duration `yaml:"readHeaderTimeout,omitempty"`
	ShutdownTimeout   Duration `yaml:"shutdownTimeout,omitempty"`
	// SkipPaths are forwarded without authentication.
	SkipPaths []string `yaml:"skipPaths,omitempty"`
	// CredentialsOptional forwards requests that carry no token at all.
	CredentialsOptional bool `yaml:"credentialsOptional,omitempty"`
}

// VerifierConfig mirrors jwt.Options. Unset fields fall back to the
// verifier's environment variables and defaults.
type VerifierConfig struct {
	IssuerBaseURL   string    `yaml:"issuerBaseURL,omitempty"`
	Issuer          string    `yaml:"issuer,omitempty"`
	JWKSURI         string    `yaml:"jwksUri,omitempty"`
	Audience        []string  `yaml:"audience,omitempty"`
	Secret          string    `yaml:"secret,omitempty"`
	TokenSigningAlg string    `yaml:"tokenSigningAlg,omitempty"`
	Cooldown        *Duration `yaml:"cooldown,omitempty"`
	Timeout         Duration  `yaml:"timeout,omitempty"`
	ClockTolerance  *Duration `yaml:"clockTolerance,omitempty"`
	MaxTokenAge     Duration  `yaml:"maxTokenAge,omitempty"`
	Strict          *bool     `yaml:"strict,omitempty"`
}

// RouteConfig attaches claim requirements to a path prefix. The longest
// matching prefix wins; requests matching no route only need a valid token.
type RouteConfig struct {
	Name       string   `yaml:"name"`
	PathPrefix string   `yaml:"pathPrefix"`
	Methods    []string `yaml:"methods,omitempty"`
	Scopes     []string `yaml:"scopes,omitempty"`
	// ClaimEquals maps a claim name to the value it must equal.
	ClaimEquals map[string]any `yaml:"claimEquals,omitempty"`
	// ClaimIncludes maps a claim name to values it must all contain.
	ClaimIncludes   map[string][]any `yaml:"claimIncludes,omitempty"`
	Expression      string           `yaml:"expression,omitempty"`
	ExpressionError string           `yaml:"expressionError,omitempty"`
}

// ReplayConfig configures jti replay detection.
type ReplayConfig struct {
	Enabled    bool        `yaml:"enabled"`
	FailOpen   bool        `yaml:"failOpen,omitempty"`
	MaxTTL     Duration    `yaml:"maxTTL,omitempty"`
	DefaultTTL Duration    `yaml:"defaultTTL,omitempty"`
	Cache      CacheConfig `yaml:"cache"`
}

// CacheConfig selects the replay store.
type CacheConfig struct {
	Type       string       `yaml:"type,omitempty"`
	MaxEntries int          `yaml:"maxEntries,omitempty"`
	Redis      *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis replay store.
type RedisConfig struct {
	URL            string          `yaml:"url,omitempty"`
	KeyPrefix      string          `yaml:"keyPrefix,omitempty"`
	HashKeys       bool            `yaml:"hashKeys,omitempty"`
	PoolSize       int             `yaml:"poolSize,omitempty"`
	ConnectTimeout Duration        `yaml:"connectTimeout,omitempty"`
	ReadTimeout    Duration        `yaml:"readTimeout,omitempty"`
	WriteTimeout   Duration        `yaml:"writeTimeout,omitempty"`
	TLS            *RedisTLSConfig `yaml:"tls,omitempty"`
	Sentinel       *SentinelConfig `yaml:"sentinel,omitempty"`
}

// RedisTLSConfig enables TLS towards Redis.
type RedisTLSConfig struct {
	Enabled            bool `yaml:"enabled"`
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty"`
}

// SentinelConfig configures Redis Sentinel.
type SentinelConfig struct {
	MasterName       string   `yaml:"masterName"`
	SentinelAddrs    []string `yaml:"sentinelAddrs"`
	Password         string   `yaml:"password,omitempty"`
	SentinelPassword string   `yaml:"sentinelPassword,omitempty"`
	DB               int      `yaml:"db,omitempty"`
}

// BreakerConfig guards discovery and key set requests.
type BreakerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold uint32   `yaml:"threshold,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty"`
}

// ObservabilityConfig groups logging, tracing and metrics.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = Duration(DefaultReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	logDefaults := observability.DefaultLogConfig()
	logging := &c.Observability.Logging
	if logging.Level == "" {
		logging.Level = logDefaults.Level
	}
	if logging.Format == "" {
		logging.Format = logDefaults.Format
	}
	if logging.Output == "" {
		logging.Output = logDefaults.Output
	}

	tracing := &c.Observability.Tracing
	if tracing.ServiceName == "" {
		tracing.ServiceName = DefaultServiceName
	}
	if tracing.Enabled && tracing.SamplingRate == 0 {
		tracing.SamplingRate = 1
	}

	metrics := &c.Observability.Metrics
	if metrics.Path == "" {
		metrics.Path = DefaultMetricsPath
	}
	if metrics.Namespace == "" {
		metrics.Namespace = DefaultMetricsNamespace
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.Server.validate()...)
	errs = append(errs, c.Verifier.validate()...)

	names := make(map[string]bool, len(c.Routes))
	for i := range c.Routes {
		r := &c.Routes[i]
		errs = append(errs, r.validate(i)...)
		if r.Name != "" {
			if names[r.Name] {
				errs = append(errs, fmt.Errorf("routes[%d]: duplicate route name %q", i, r.Name))
			}
			names[r.Name] = true
		}
	}

	if c.Replay.Enabled {
		storeCfg := c.Replay.Cache.StoreConfig()
		if err := storeCfg.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("replay.cache: %w", err))
		}
		if c.Replay.MaxTTL < 0 || c.Replay.DefaultTTL < 0 {
			errs = append(errs, errors.New("replay: TTLs must not be negative"))
		}
	}

	errs = append(errs, c.Observability.validate()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (s *ServerConfig) validate() []error {
	var errs []error
	if s.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if s.Upstream == "" {
		errs = append(errs, errors.New("server.upstream is required"))
	} else if u, err := url.Parse(s.Upstream); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.upstream %q must be an absolute http(s) URL", s.Upstream))
	}
	for _, p := range s.SkipPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("server.skipPaths: %q must start with '/'", p))
		}
	}
	return errs
}

func (v *VerifierConfig) validate() []error {
	var errs []error
	if v.Timeout < 0 || v.MaxTokenAge < 0 {
		errs = append(errs, errors.New("verifier: durations must not be negative"))
	}
	if v.Cooldown != nil && *v.Cooldown < 0 {
		errs = append(errs, errors.New("verifier.cooldown must not be negative"))
	}
	if v.ClockTolerance != nil && *v.ClockTolerance < 0 {
		errs = append(errs, errors.New("verifier.clockTolerance must not be negative"))
	}
	if v.TokenSigningAlg != "" &&
		!slices.Contains(jwt.AsymmetricAlgorithms, v.TokenSigningAlg) &&
		!slices.Contains(jwt.SymmetricAlgorithms, v.TokenSigningAlg) {
		errs = append(errs, fmt.Errorf("verifier.tokenSigningAlg %q is not supported", v.TokenSigningAlg))
	}
	return errs
}

func (r *RouteConfig) validate(i int) []error {
	var errs []error
	if !strings.HasPrefix(r.PathPrefix, "/") {
		errs = append(errs, fmt.Errorf("routes[%d].pathPrefix %q must start with '/'", i, r.PathPrefix))
	}
	for claim, want := range r.ClaimEquals {
		if !claims.IsPrimitive(want) {
			errs = append(errs, fmt.Errorf("routes[%d].claimEquals.%s: value must be a string, number, boolean or null", i, claim))
		}
	}
	for claim, wants := range r.ClaimIncludes {
		if len(wants) == 0 {
			errs = append(errs, fmt.Errorf("routes[%d].claimIncludes.%s: at least one value is required", i, claim))
		}
		for _, want := range wants {
			if !claims.IsPrimitive(want) {
				errs = append(errs, fmt.Errorf("routes[%d].claimIncludes.%s: values must be strings, numbers, booleans or null", i, claim))
				break
			}
		}
	}
	return errs
}

// Matches reports whether the route applies to method and path.
func (r *RouteConfig) Matches(method, path string) bool {
	if !strings.HasPrefix(path, r.PathPrefix) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	return slices.ContainsFunc(r.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

func (o *ObservabilityConfig) validate() []error {
	var errs []error
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level %q is invalid", o.Logging.Level))
	}
	switch o.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format %q is invalid", o.Logging.Format))
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("observability.tracing.samplingRate must be between 0 and 1"))
	}
	if o.Tracing.Enabled && o.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing.otlpEndpoint is required when tracing is enabled"))
	}
	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path %q must start with '/'", o.Metrics.Path))
	}
	return errs
}

// Options converts the verifier section into jwt.Options.
func (v *VerifierConfig) Options() jwt.Options {
	return jwt.Options{
		IssuerBaseURL:    v.IssuerBaseURL,
		Issuer:           v.Issuer,
		JWKSURI:          v.JWKSURI,
		Audience:         slices.Clone(v.Audience),
		Secret:           v.Secret,
		TokenSigningAlg:  v.TokenSigningAlg,
		CooldownDuration: v.Cooldown.Ptr(),
		TimeoutDuration:  v.Timeout.Duration(),
		ClockTolerance:   v.ClockTolerance.Ptr(),
		MaxTokenAge:      v.MaxTokenAge.Duration(),
		Strict:           v.Strict,
	}
}

// StoreConfig converts the cache section into cache.Config.
func (c *CacheConfig) StoreConfig() cache.Config {
	out := cache.Config{Type: c.Type, MaxEntries: c.MaxEntries}
	if r := c.Redis; r != nil {
		out.Redis = &cache.RedisConfig{
			URL:            r.URL,
			KeyPrefix:      r.KeyPrefix,
			HashKeys:       r.HashKeys,
			PoolSize:       r.PoolSize,
			ConnectTimeout: r.ConnectTimeout.Duration(),
			ReadTimeout:    r.ReadTimeout.Duration(),
			WriteTimeout:   r.WriteTimeout.Duration(),
		}
		if r.TLS != nil {
			out.Redis.TLS = &cache.TLSConfig{
				Enabled:            r.TLS.Enabled,
				InsecureSkipVerify: r.TLS.InsecureSkipVerify,
			}
		}
		if s := r.Sentinel; s != nil {
			out.Redis.Sentinel = &cache.SentinelConfig{
				MasterName:       s.MasterName,
				SentinelAddrs:    slices.Clone(s.SentinelAddrs),
				Password:         s.Password,
				SentinelPassword: s.SentinelPassword,
				DB:               s.DB,
			}
		}
	}
	return out
}

// BreakerConfig converts the section into fetch.BreakerConfig.
func (b *BreakerConfig) BreakerConfig(name string) fetch.BreakerConfig {
	return fetch.BreakerConfig{
		Name:      name,
		Threshold: b.Threshold,
		Timeout:   b.Timeout.Duration(),
	}
}

// LogConfig converts the section into observability.LogConfig.
func (l *LoggingConfig) LogConfig() observability.LogConfig {
	return observability.LogConfig{Level: l.Level, Format: l.Format, Output: l.Output}
}

// TracerConfig converts the section into observability.TracerConfig.
func (t *TracingConfig) TracerConfig() observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	}
}
