package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the application configuration, loadable from environment
// variables (HOMECHEF_ prefix), flags or YAML files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (HOMECHEF_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWTSecret   string `usage:"HS256 secret for bearer tokens (HOMECHEF_JWT_SECRET)" flag:"jwt-secret"`
	// RefDataPath overrides the embedded estimator tables and is watched
	// for changes.
	RefDataPath string `default:"" usage:"Reference tables YAML override" flag:"ref-data"`
	Outbox      OutboxConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// OutboxConfig controls event relaying. The relay is off without an AMQP
// URL; events then accumulate in the outbox table.
type OutboxConfig struct {
	AMQPURL      string        `usage:"RabbitMQ URL (HOMECHEF_OUTBOX_AMQPURL)" flag:"amqp-url"`
	Exchange     string        `default:"homechef.orders" usage:"Topic exchange for order events"`
	Interval     time.Duration `default:"1s" usage:"Outbox poll interval"`
	BatchSize    int           `default:"100" usage:"Events per relay batch"`
	MaxBacklog   int           `default:"10000" usage:"Pending events above which readiness fails"`
	BacklogCheck bool          `default:"true" usage:"Fail readiness on outbox backlog"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "HOMECHEF",
		Files:     []string{"config.yaml", "/etc/homechef/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set HOMECHEF_DATABASE_URL or DATABASE_URL")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT secret of at least 16 bytes is required: set HOMECHEF_JWT_SECRET")
	}
	if c.Outbox.BatchSize < 1 {
		return errors.Errorf("outbox batch size must be positive, got %d", c.Outbox.BatchSize)
	}
	return nil
}

// applyPlatformDefaults maps DATABASE_URL and PORT, as set by hosting
// platforms, onto the HOMECHEF_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
