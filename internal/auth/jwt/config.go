package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when neither an explicit option nor the environment
// supplies a value.
const (
	DefaultCooldownDuration = 30 * time.Second
	DefaultTimeoutDuration  = 5 * time.Second
	DefaultClockTolerance   = 5 * time.Second
)

// Environment variables consulted by ResolveConfig.
const (
	EnvIssuerBaseURL    = "ISSUER_BASE_URL"
	EnvIssuer           = "ISSUER"
	EnvJWKSURI          = "JWKS_URI"
	EnvAudience         = "AUDIENCE"
	EnvSecret           = "SECRET"
	EnvTokenSigningAlg  = "TOKEN_SIGNING_ALG"
	EnvCooldownDuration = "COOLDOWN_DURATION"
	EnvTimeoutDuration  = "TIMEOUT_DURATION"
	EnvClockTolerance   = "CLOCK_TOLERANCE"
	EnvMaxTokenAge      = "MAX_TOKEN_AGE"
	EnvStrict           = "STRICT"
)

var envKeys = []string{
	EnvIssuerBaseURL, EnvIssuer, EnvJWKSURI, EnvAudience, EnvSecret,
	EnvTokenSigningAlg, EnvCooldownDuration, EnvTimeoutDuration,
	EnvClockTolerance, EnvMaxTokenAge, EnvStrict,
}

// AsymmetricAlgorithms lists the accepted public-key signing algorithms.
var AsymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES256K", "ES384", "ES512",
	"EdDSA",
}

// SymmetricAlgorithms lists the accepted shared-secret signing algorithms.
var SymmetricAlgorithms = []string{"HS256", "HS384", "HS512"}

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid verifier configuration")

// Options is the caller-supplied verifier configuration. Zero values are
// filled from the environment and then from defaults.
type Options struct {
	// IssuerBaseURL enables discovery of issuer, jwks_uri and the allowed
	// signing algorithms.
	IssuerBaseURL string
	Issuer        string
	JWKSURI       string
	// Audience lists the accepted aud values. At least one is required.
	Audience []string
	// Secret selects symmetric verification with a shared key.
	Secret          string
	TokenSigningAlg string

	// CooldownDuration is the minimum interval between key set refetches
	// caused by an unknown key ID. Nil selects the environment or default
	// value; a pointer to zero refetches on every unknown key ID.
	CooldownDuration *time.Duration
	// TimeoutDuration bounds each outbound metadata or key set request.
	TimeoutDuration time.Duration
	// ClockTolerance is the leeway applied to time-based claims. Nil
	// selects the environment or default value; a pointer to zero disables
	// the leeway.
	ClockTolerance *time.Duration
	// MaxTokenAge, when positive, bounds how old iat may be.
	MaxTokenAge time.Duration
	Strict      *bool

	// Validators override or extend the default claim validators.
	Validators Validators
	// HTTPClient carries outbound requests (proxy, TLS, pooling).
	HTTPClient *http.Client
}

// Config is the effective verifier configuration.
type Config struct {
	IssuerBaseURL    string
	Issuer           string
	JWKSURI          string
	Audience         []string
	Secret           string
	TokenSigningAlg  string
	CooldownDuration time.Duration
	TimeoutDuration  time.Duration
	ClockTolerance   time.Duration
	MaxTokenAge      time.Duration
	Strict           bool
	Validators       Validators
	HTTPClient       *http.Client
}

// EnvSnapshot captures the environment variables ResolveConfig consults.
func EnvSnapshot() map[string]string {
	env := make(map[string]string, len(envKeys))
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env
}

// ResolveConfig merges explicit options over env over defaults. env is a
// snapshot such as EnvSnapshot returns; nil means no environment. The result
// is not validated.
func ResolveConfig(explicit Options, env map[string]string) (Config, error) {
	cfg := Config{
		IssuerBaseURL:   firstNonEmpty(explicit.IssuerBaseURL, env[EnvIssuerBaseURL]),
		Issuer:          firstNonEmpty(explicit.Issuer, env[EnvIssuer]),
		JWKSURI:         firstNonEmpty(explicit.JWKSURI, env[EnvJWKSURI]),
		Audience:        explicit.Audience,
		Secret:          firstNonEmpty(explicit.Secret, env[EnvSecret]),
		TokenSigningAlg: firstNonEmpty(explicit.TokenSigningAlg, env[EnvTokenSigningAlg]),
		Validators:      explicit.Validators,
		HTTPClient:      explicit.HTTPClient,
	}

	if len(cfg.Audience) == 0 {
		cfg.Audience = splitList(env[EnvAudience])
	}

	var err error
	if cfg.CooldownDuration, err = resolveOptionalDuration(explicit.CooldownDuration, env, EnvCooldownDuration,
		time.Millisecond, DefaultCooldownDuration); err != nil {
		return Config{}, err
	}
	if cfg.TimeoutDuration, err = resolveDuration(explicit.TimeoutDuration, env, EnvTimeoutDuration,
		time.Millisecond, DefaultTimeoutDuration); err != nil {
		return Config{}, err
	}
	if cfg.MaxTokenAge, err = resolveDuration(explicit.MaxTokenAge, env, EnvMaxTokenAge,
		time.Second, 0); err != nil {
		return Config{}, err
	}

	if cfg.ClockTolerance, err = resolveOptionalDuration(explicit.ClockTolerance, env, EnvClockTolerance,
		time.Second, DefaultClockTolerance); err != nil {
		return Config{}, err
	}

	switch {
	case explicit.Strict != nil:
		cfg.Strict = *explicit.Strict
	case env[EnvStrict] != "":
		if cfg.Strict, err = strconv.ParseBool(env[EnvStrict]); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvStrict, err)
		}
	}

	return cfg, nil
}

// resolveOptionalDuration is resolveDuration for options where an explicit
// zero is meaningful.
func resolveOptionalDuration(
	explicit *time.Duration,
	env map[string]string,
	key string,
	unit time.Duration,
	def time.Duration,
) (time.Duration, error) {
	if explicit == nil {
		return resolveDuration(0, env, key, unit, def)
	}
	if *explicit < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}
	return *explicit, nil
}

// resolveDuration picks explicit, then env[key], then def. Bare integers in
// the environment are read in unit; anything else must parse with
// time.ParseDuration.
func resolveDuration(
	explicit time.Duration,
	env map[string]string,
	key string,
	unit time.Duration,
	def time.Duration,
) (time.Duration, error) {
	if explicit > 0 {
		return explicit, nil
	}

	raw := strings.TrimSpace(env[key])
	if raw == "" {
		return def, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
		}
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}
	return d, nil
}

// Validate reports the first inconsistency in the options.
func (c *Config) Validate() error {
	if c.IssuerBaseURL == "" && (c.Issuer == "" || (c.JWKSURI == "" && c.Secret == "")) {
		return configError("You must provide an 'issuerBaseURL', an 'issuer' and 'jwksUri' or an 'issuer' and 'secret'")
	}
	if c.Secret != "" && c.JWKSURI != "" {
		return configError("You must not provide both a 'secret' and 'jwksUri'")
	}
	if len(c.Audience) == 0 {
		return configError("An 'audience' is required to validate the 'aud' claim")
	}
	if c.Secret != "" && c.TokenSigningAlg == "" {
		return configError("You must provide a 'tokenSigningAlg' for validating symmetric algorithms")
	}
	if c.Secret == "" && c.TokenSigningAlg != "" && !slices.Contains(AsymmetricAlgorithms, c.TokenSigningAlg) {
		return configError(fmt.Sprintf("You must supply one of %s for 'tokenSigningAlg' to validate asymmetrically signed tokens",
			strings.Join(AsymmetricAlgorithms, ", ")))
	}
	if c.Secret != "" && !slices.Contains(SymmetricAlgorithms, c.TokenSigningAlg) {
		return configError(fmt.Sprintf("You must supply one of %s for 'tokenSigningAlg' to validate symmetrically signed tokens",
			strings.Join(SymmetricAlgorithms, ", ")))
	}
	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
