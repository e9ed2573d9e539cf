package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables that override file values.
const EnvPrefix = "AVABEARER_"

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// envOverrides maps AVABEARER_* variables onto configuration fields.
var envOverrides = map[string]func(c *Config, v string) error{
	"LISTEN":   func(c *Config, v string) error { c.Server.Listen = v; return nil },
	"UPSTREAM": func(c *Config, v string) error { c.Server.Upstream = v; return nil },
	"CREDENTIALS_OPTIONAL": func(c *Config, v string) error {
		return parseBoolInto(&c.Server.CredentialsOptional, v)
	},
	"LOG_LEVEL":  func(c *Config, v string) error { c.Observability.Logging.Level = v; return nil },
	"LOG_FORMAT": func(c *Config, v string) error { c.Observability.Logging.Format = v; return nil },
	"TRACING_ENABLED": func(c *Config, v string) error {
		return parseBoolInto(&c.Observability.Tracing.Enabled, v)
	},
	"OTLP_ENDPOINT": func(c *Config, v string) error { c.Observability.Tracing.OTLPEndpoint = v; return nil },
	"METRICS_ENABLED": func(c *Config, v string) error {
		return parseBoolInto(&c.Observability.Metrics.Enabled, v)
	},
	"REPLAY_ENABLED": func(c *Config, v string) error {
		return parseBoolInto(&c.Replay.Enabled, v)
	},
	"REDIS_URL": func(c *Config, v string) error {
		if c.Replay.Cache.Redis == nil {
			c.Replay.Cache.Redis = &RedisConfig{}
		}
		c.Replay.Cache.Redis.URL = v
		return nil
	},
}

// Loader reads configuration files.
type Loader struct {
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader that reads the process environment.
func NewLoader() *Loader {
	return &Loader{lookupEnv: os.LookupEnv}
}

// LoadConfig loads, defaults and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// LoadConfigFromReader is LoadConfig for an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	return NewLoader().LoadFromReader(r)
}

// Load loads, defaults and validates the configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return l.parseConfig(data)
}

// LoadFromReader loads, defaults and validates configuration from r.
func (l *Loader) LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.parseConfig(data)
}

func (l *Loader) parseConfig(data []byte) (*Config, error) {
	content := l.substituteEnvVars(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default}. "$$" yields a
// literal dollar sign.
func (l *Loader) substituteEnvVars(content string) string {
	const escaped = "\x00DOLLAR\x00"
	content = strings.ReplaceAll(content, "$$", escaped)

	content = envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := l.lookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})

	return strings.ReplaceAll(content, escaped, "$")
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	for name, apply := range envOverrides {
		v, ok := l.lookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		if err := apply(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, name, err)
		}
	}
	return nil
}

func parseBoolInto(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
