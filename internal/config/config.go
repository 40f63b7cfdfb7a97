package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tickwise/internal/engine"
)

// DefaultPath is where Load looks when TICKWISE_CONFIG is unset.
const DefaultPath = "config/tickwise.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tickwise.
type Config struct {
	Server   Server        `yaml:"server"`
	Feed     Feed          `yaml:"feed"`
	S3       S3            `yaml:"s3"`
	Prices   Prices        `yaml:"prices"`
	Alpaca   Alpaca        `yaml:"alpaca"`
	Storage  Storage       `yaml:"storage"`
	Redis    Redis         `yaml:"redis"`
	Logging  Logging       `yaml:"logging"`
	Backtest engine.Params `yaml:"backtest"`
}

// Server holds network listener configuration.
type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HTTPAddr returns the HTTP listen address.
func (s Server) HTTPAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the gRPC listen address, or "" when gRPC is disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort <= 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Feed locates the recommendation and price documents.
type Feed struct {
	// Source is "http", "file" or "s3".
	Source           string        `yaml:"source"`
	BaseURL          string        `yaml:"base_url"`
	Dir              string        `yaml:"dir"`
	SnapshotPath     string        `yaml:"snapshot_path"`
	HistoryPath      string        `yaml:"history_path"`
	PricesPathFormat string        `yaml:"prices_path_format"`
	Timeout          time.Duration `yaml:"timeout"`
	Attempts         int           `yaml:"attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	RateLimitPerMin  int           `yaml:"rate_limit_per_min"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
	FetchWorkers     int           `yaml:"fetch_workers"`
	RefreshSchedule  string        `yaml:"refresh_schedule"`
}

// S3 configures the S3 feed source.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Prices selects the price-history provider.
type Prices struct {
	// Provider is "feed" (per-ticker JSON documents) or "alpaca".
	Provider string `yaml:"provider"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
	Years     int    `yaml:"years"`
}

// Storage holds paths for the local mirrors. An empty DataDir disables the
// parquet price mirror.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Redis configures the shared price-history cache. An empty Addr disables it.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCPort:        9090,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Feed: Feed{
			Source:         "http",
			Attempts:       3,
			RetryDelay:     500 * time.Millisecond,
			RateLimitBurst: 1,
			FetchWorkers:   engine.DefaultFetchWorkers,
		},
		Prices:   Prices{Provider: "feed"},
		Alpaca:   Alpaca{Feed: "iex", Years: 2},
		Storage:  Storage{SQLitePath: "tickwise.db"},
		Redis:    Redis{Prefix: "tickwise:"},
		Logging:  Logging{Level: "info"},
		Backtest: engine.DefaultParams(),
	}
}

// Load reads the YAML configuration file at the given path over the
// defaults, then applies environment variable overrides. A .env file in the
// working directory is loaded into the environment first. A missing config
// file is not an error when path is empty; the path then comes from
// TICKWISE_CONFIG or DefaultPath.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("TICKWISE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Feed.Source {
	case "http":
		if c.Feed.BaseURL == "" {
			return errors.New("feed.base_url is required for the http source")
		}
	case "file":
		if c.Feed.Dir == "" {
			return errors.New("feed.dir is required for the file source")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket is required for the s3 source")
		}
	default:
		return fmt.Errorf("unknown feed.source %q", c.Feed.Source)
	}
	switch c.Prices.Provider {
	case "feed":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			return errors.New("alpaca credentials are required for the alpaca price provider")
		}
	default:
		return fmt.Errorf("unknown prices.provider %q", c.Prices.Provider)
	}
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest defaults: %w", err)
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TICKWISE_FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("TICKWISE_FEED_SOURCE"); v != "" {
		cfg.Feed.Source = v
	}
	if v := os.Getenv("TICKWISE_FEED_DIR"); v != "" {
		cfg.Feed.Dir = v
	}
	if v := os.Getenv("TICKWISE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("S3_PREFIX"); v != "" {
		cfg.S3.Prefix = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		cfg.S3.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		cfg.S3.SecretKey = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
