package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/orderkeeper/internal/domain/archive"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Migrate     bool   `default:"true" usage:"Apply pending migrations on startup"`
	Catalog     CatalogConfig
	Archive     ArchiveConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CatalogConfig selects the price source. With an empty URL prices are read
// from the local items table.
type CatalogConfig struct {
	URL     string        `default:"" usage:"Remote catalog base URL"`
	Timeout time.Duration `default:"3s" usage:"Remote catalog request timeout"`
	Retries int           `default:"2" usage:"Remote catalog retries on 5xx and network errors"`
}

// ArchiveConfig controls archival of old orders.
type ArchiveConfig struct {
	Enabled   bool          `default:"false" usage:"Run the archival scheduler inside the API server"`
	Once      bool          `default:"false" usage:"Archiver: perform a single run and exit"`
	Retention time.Duration `default:"168h" usage:"Orders older than this are archived"`
	Interval  time.Duration `default:"1h" usage:"Time between scheduled archival runs"`
	Bucket    string        `default:"week" usage:"Aggregation bucket: week or day"`
	Timeout   time.Duration `default:"5m" usage:"Maximum duration of one archival run"`
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"orders" usage:"Topic for order events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if _, err := archive.ParseBucketing(c.Archive.Bucket); err != nil {
		return errors.Wrap(err, "archive bucket")
	}
	if c.Archive.Retention <= 0 {
		return errors.Errorf("archive retention must be positive, got %s", c.Archive.Retention)
	}
	if c.Archive.Enabled && c.Archive.Interval <= 0 {
		return errors.Errorf("archive interval must be positive, got %s", c.Archive.Interval)
	}
	return nil
}

// Bucketing returns the parsed archive bucket granularity.
func (c *Config) Bucketing() archive.Bucketing {
	b, err := archive.ParseBucketing(c.Archive.Bucket)
	if err != nil {
		return archive.BucketWeek
	}
	return b
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, PORT) onto the ORDERS_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
