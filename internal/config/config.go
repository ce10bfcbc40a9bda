package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	pkgconfig "github.com/kartikbazzad/bunbase/stage/pkg/config"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "STAGE_"

// Logical backend names known to the portal.
const (
	BackendComposition = "composition"
	BackendInstrument  = "instrument"
	BackendGrowth      = "growth"
)

// Config is the gateway configuration. It is built once at startup and
// handed to constructors; nothing reads it after that.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Upstream  UpstreamConfig           `mapstructure:"upstream"`
	Arranger  map[string]BackendConfig `mapstructure:"arranger"`
	Sets      SetsConfig               `mapstructure:"sets"`
	RateLimit RateLimitConfig          `mapstructure:"ratelimit"`
	Log       logger.Config            `mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	CORSOrigin        string        `mapstructure:"cors_origin"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig controls the outbound transport shared by the proxy and
// the saved-set client.
type UpstreamConfig struct {
	// VerifyTLS is the process-wide certificate policy toward backends.
	// false accepts any certificate and is logged loudly at startup.
	VerifyTLS             bool          `mapstructure:"verify_tls"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	// RetryAttempts is the number of extra attempts for bodiless
	// GET/HEAD/OPTIONS requests that fail before reaching the backend.
	RetryAttempts int `mapstructure:"retry_attempts"`
}

// BackendConfig is one Arranger backend.
type BackendConfig struct {
	API    string `mapstructure:"api"`
	Prefix string `mapstructure:"prefix"`
}

type SetsConfig struct {
	Backend     string        `mapstructure:"backend"`
	GraphQLPath string        `mapstructure:"graphql_path"`
	Type        string        `mapstructure:"type"`
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			CORSOrigin:        "*",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Upstream: UpstreamConfig{
			VerifyTLS:             true,
			DialTimeout:           10 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			RetryAttempts:         2,
		},
		Arranger: map[string]BackendConfig{
			BackendComposition: {Prefix: DefaultPrefix(BackendComposition)},
			BackendInstrument:  {Prefix: DefaultPrefix(BackendInstrument)},
			BackendGrowth:      {Prefix: DefaultPrefix(BackendGrowth)},
		},
		Sets: SetsConfig{
			Backend:     BackendComposition,
			GraphQLPath: "/graphql",
			Type:        "file",
			Path:        "name",
			Timeout:     30 * time.Second,
		},
		Log: logger.Config{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// DefaultPrefix is the routing prefix for a backend name, e.g.
// /api/composition-arranger.
func DefaultPrefix(name string) string {
	return "/api/" + name + "-arranger"
}

// Load returns Default overlaid with the config file at path (optional),
// .env and STAGE_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := pkgconfig.Load(EnvPrefix, path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills values the decoder may have dropped. Decoding a map entry
// replaces the whole BackendConfig, so a backend configured only by its api
// loses the default prefix.
func (c *Config) normalize() {
	for name, b := range c.Arranger {
		b.API = strings.TrimSpace(b.API)
		if strings.TrimSpace(b.Prefix) == "" {
			b.Prefix = DefaultPrefix(name)
		}
		c.Arranger[name] = b
	}
}

var (
	ErrNoBackends     = errors.New("at least one arranger backend is required")
	ErrUnknownBackend = errors.New("unknown backend")
)

// Validate checks the parts of the configuration the process cannot start
// without. A backend with an empty or malformed api is allowed: requests to
// it fail at request time instead.
func (c *Config) Validate() error {
	if len(c.Arranger) == 0 {
		return ErrNoBackends
	}
	if _, ok := c.Arranger[c.Sets.Backend]; !ok {
		return fmt.Errorf("sets.backend %q: %w", c.Sets.Backend, ErrUnknownBackend)
	}
	if c.Upstream.RetryAttempts < 0 {
		return fmt.Errorf("upstream.retry_attempts must not be negative, got %d", c.Upstream.RetryAttempts)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("ratelimit values must not be negative")
	}
	return nil
}

// BackendNames returns the configured backend names in sorted order.
func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Arranger))
	for name := range c.Arranger {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
