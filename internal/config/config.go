package config

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shpitdev/contact-reveal/pkg/credential"
	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

// Config is the top-level service configuration.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Health   HealthConfig   `mapstructure:"health"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Poll     PollConfig     `mapstructure:"poll"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// ProviderConfig holds the endpoint and the credential pool.
type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Credentials       []string      `mapstructure:"credentials"`
	CredentialsFile   string        `mapstructure:"credentials_file"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Enrich            EnrichConfig  `mapstructure:"enrich"`
}

type EnrichConfig struct {
	Email bool   `mapstructure:"email"`
	Phone bool   `mapstructure:"phone"`
	Depth string `mapstructure:"depth"`
}

type HealthConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecheckInterval  time.Duration `mapstructure:"recheck_interval"`
}

type DispatchConfig struct {
	ConcurrencyPerCredential int           `mapstructure:"concurrency_per_credential"`
	Cooldown                 time.Duration `mapstructure:"cooldown"`
	CooldownWaitSlice        time.Duration `mapstructure:"cooldown_wait_slice"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	MaxRateLimited           int           `mapstructure:"max_rate_limited"`
}

type PollConfig struct {
	FastInterval   time.Duration `mapstructure:"fast_interval"`
	FastPolls      int           `mapstructure:"fast_polls"`
	SteadyInterval time.Duration `mapstructure:"steady_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	MaxErrors      int           `mapstructure:"max_errors"`
}

// StoreConfig selects the result cache backend.
type StoreConfig struct {
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so environment overrides
// are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.credentials", []string{})
	v.SetDefault("provider.credentials_file", "")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.requests_per_second", 0)
	v.SetDefault("provider.enrich.email", true)
	v.SetDefault("provider.enrich.phone", true)
	v.SetDefault("provider.enrich.depth", "")

	v.SetDefault("health.failure_threshold", credential.DefaultFailureThreshold)
	v.SetDefault("health.recheck_interval", credential.DefaultRecheckInterval)

	v.SetDefault("dispatch.concurrency_per_credential", 2)
	v.SetDefault("dispatch.cooldown", 30*time.Second)
	v.SetDefault("dispatch.cooldown_wait_slice", time.Second)
	v.SetDefault("dispatch.max_attempts", 8)
	v.SetDefault("dispatch.max_rate_limited", 64)

	v.SetDefault("poll.fast_interval", 500*time.Millisecond)
	v.SetDefault("poll.fast_polls", 6)
	v.SetDefault("poll.steady_interval", 3*time.Second)
	v.SetDefault("poll.max_wait", 180*time.Second)
	v.SetDefault("poll.max_errors", 3)

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.ttl", 24*time.Hour)
	v.SetDefault("store.max_entries", 10000)

	v.SetDefault("server.listen", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix REVEAL_).
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-supplied viper instance, so CLI flags bound to
// it take precedence over file and environment.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("REVEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, rerr.Errorf(rerr.CodeConfigInvalid, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, rerr.Errorf(rerr.CodeConfigInvalid, "unmarshalling config: %w", err)
	}
	cfg.Provider.Credentials = splitCredentials(cfg.Provider.Credentials)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, rerr.Errorf(rerr.CodeConfigInvalid, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Tokens returns the inline credentials plus those from the credentials file.
func (c *Config) Tokens() ([]string, error) {
	tokens := append([]string(nil), c.Provider.Credentials...)
	if c.Provider.CredentialsFile != "" {
		fromFile, err := credential.LoadFile(c.Provider.CredentialsFile)
		if err != nil {
			return nil, rerr.Wrap(err, rerr.CodeConfigInvalid, "load credentials file")
		}
		tokens = append(tokens, fromFile...)
	}
	return tokens, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateProvider()...)
	errs = append(errs, c.validateTuning()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func (c *Config) validateProvider() []error {
	var errs []error
	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		errs = append(errs, invalid("config: provider.base_url must not be empty"))
	} else if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, invalid("config: provider.base_url must be an absolute URL, got %q", c.Provider.BaseURL))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, invalid("config: provider.timeout must be positive, got %s", c.Provider.Timeout))
	}
	if c.Provider.RequestsPerSecond < 0 {
		errs = append(errs, invalid("config: provider.requests_per_second must not be negative"))
	}
	return errs
}

func (c *Config) validateTuning() []error {
	var errs []error
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, invalid("config: health.failure_threshold must be at least 1, got %d", c.Health.FailureThreshold))
	}
	if c.Health.RecheckInterval <= 0 {
		errs = append(errs, invalid("config: health.recheck_interval must be positive"))
	}
	if c.Dispatch.ConcurrencyPerCredential < 1 {
		errs = append(errs, invalid("config: dispatch.concurrency_per_credential must be at least 1, got %d", c.Dispatch.ConcurrencyPerCredential))
	}
	if c.Dispatch.Cooldown <= 0 {
		errs = append(errs, invalid("config: dispatch.cooldown must be positive"))
	}
	if c.Dispatch.MaxAttempts < 1 {
		errs = append(errs, invalid("config: dispatch.max_attempts must be at least 1"))
	}
	if c.Dispatch.MaxRateLimited < 1 {
		errs = append(errs, invalid("config: dispatch.max_rate_limited must be at least 1"))
	}
	if c.Poll.FastInterval <= 0 || c.Poll.SteadyInterval <= 0 {
		errs = append(errs, invalid("config: poll intervals must be positive"))
	}
	if c.Poll.MaxWait <= 0 {
		errs = append(errs, invalid("config: poll.max_wait must be positive"))
	}
	if c.Poll.MaxErrors < 1 {
		errs = append(errs, invalid("config: poll.max_errors must be at least 1"))
	}
	return errs
}

func (c *Config) validateStore() []error {
	var errs []error
	switch c.Store.Backend {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Store.RedisURL) == "" {
			errs = append(errs, invalid("config: store.redis_url is required when store.backend is redis"))
		}
	default:
		errs = append(errs, invalid("config: store.backend must be one of [none, memory, redis], got %q", c.Store.Backend))
	}
	if c.Store.TTL < 0 {
		errs = append(errs, invalid("config: store.ttl must not be negative"))
	}
	if c.Store.MaxEntries < 1 {
		errs = append(errs, invalid("config: store.max_entries must be at least 1"))
	}
	return errs
}

func (c *Config) validateServer() []error {
	var errs []error
	if c.Server.Listen == "" {
		return append(errs, invalid("config: server.listen must not be empty"))
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, invalid("config: server.listen must be a valid host:port address, got %q", c.Server.Listen))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, invalid("config: server.listen port must be between 1 and 65535, got %q", portStr))
	}
	return errs
}

func invalid(format string, args ...any) error {
	return rerr.Errorf(rerr.CodeConfigInvalid, format, args...)
}

// splitCredentials accepts comma or newline separated entries.
func splitCredentials(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
