package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Feed     FeedConfig     `yaml:"feed"`
	Strategy StrategyConfig `yaml:"strategy"`
	Relay    RelayConfig    `yaml:"relay"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	Environment    string          `yaml:"environment"`
	Symbols        []string        `yaml:"symbols"`
	RequestTimeout time.Duration   `yaml:"request_timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	// RESTURL and WSURL override the venue defaults, mostly for local fakes.
	RESTURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type FeedConfig struct {
	DepthLevels      int           `yaml:"depth_levels"`
	IntervalMs       int           `yaml:"interval_ms"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReadTimeout drops a silent connection; zero waits forever.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	Reconnect   RetryConfig   `yaml:"reconnect"`
}

type RetryConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type StrategyConfig struct {
	TargetSize       string `yaml:"target_size"`
	OffsetTicks      int    `yaml:"offset_ticks"`
	ReactToDepth     bool   `yaml:"react_to_depth"`
	FetchPosition    bool   `yaml:"fetch_position"`
	CancelOnShutdown bool   `yaml:"cancel_on_shutdown"`
}

// Size returns the per-side target quantity.
func (s StrategyConfig) Size() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s.TargetSize))
}

type RelayConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ClientBuffer int           `yaml:"client_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Address    string           `yaml:"address"`
	Path       string           `yaml:"path"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Buffer       int           `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		App: AppConfig{Name: "quoteflow", Version: "dev"},
		Exchange: ExchangeConfig{
			Environment:    VenueTestnet,
			RequestTimeout: 10 * time.Second,
			RateLimit:      RateLimitConfig{RequestsPerSecond: 10, BurstSize: 20},
		},
		Feed: FeedConfig{
			DepthLevels:      20,
			IntervalMs:       100,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      time.Minute,
			Reconnect: RetryConfig{
				BaseDelay:         500 * time.Millisecond,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Strategy: StrategyConfig{
			TargetSize:    "100",
			FetchPosition: true,
		},
		Relay: RelayConfig{
			Address:      ":8080",
			ClientBuffer: 16,
			WriteTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Address:    ":9100",
			Path:       "/metrics",
			CloudWatch: CloudWatchConfig{Namespace: "QuoteFlow"},
		},
		Audit: AuditConfig{
			Topic:        "quoteflow.orders",
			BatchTimeout: time.Second,
			Buffer:       256,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("QUOTEFLOW_ENVIRONMENT"); v != "" {
		config.Exchange.Environment = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
	}
	config.normalize()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ApplyOverrides replaces the venue and symbol list with command line values
// and revalidates. Empty arguments leave the file values untouched.
func (c *Config) ApplyOverrides(environment, pair string) error {
	if environment != "" {
		c.Exchange.Environment = environment
	}
	if pair != "" {
		c.Exchange.Symbols = []string{pair}
	}
	c.normalize()
	return validateConfig(c)
}

func (c *Config) normalize() {
	c.Exchange.Environment = strings.ToLower(strings.TrimSpace(c.Exchange.Environment))
	symbols := make([]string, 0, len(c.Exchange.Symbols))
	seen := make(map[string]struct{}, len(c.Exchange.Symbols))
	for _, s := range c.Exchange.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	c.Exchange.Symbols = symbols
	c.Strategy.TargetSize = strings.TrimSpace(c.Strategy.TargetSize)
}

// Venue resolves the configured environment, applying URL overrides.
func (c *Config) Venue() (Venue, error) {
	v, err := LookupVenue(c.Exchange.Environment)
	if err != nil {
		return Venue{}, err
	}
	if c.Exchange.RESTURL != "" {
		v.RESTURL = strings.TrimRight(c.Exchange.RESTURL, "/")
	}
	if c.Exchange.WSURL != "" {
		v.WSURL = strings.TrimRight(c.Exchange.WSURL, "/")
	}
	return v, nil
}

var symbolRegexp = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return configErr("app.name", "is required")
	}

	if _, err := LookupVenue(cfg.Exchange.Environment); err != nil {
		return err
	}
	if len(cfg.Exchange.Symbols) == 0 {
		return configErr("exchange.symbols", "at least one symbol is required")
	}
	for _, s := range cfg.Exchange.Symbols {
		if !symbolRegexp.MatchString(s) {
			return configErr("exchange.symbols", fmt.Sprintf("symbol %q is invalid", s))
		}
	}
	if cfg.Exchange.RequestTimeout <= 0 {
		return configErr("exchange.request_timeout", "must be greater than 0")
	}
	if cfg.Exchange.RateLimit.RequestsPerSecond <= 0 {
		return configErr("exchange.rate_limit.requests_per_second", "must be greater than 0")
	}
	if cfg.Exchange.RateLimit.BurstSize <= 0 {
		return configErr("exchange.rate_limit.burst_size", "must be greater than 0")
	}

	switch cfg.Feed.DepthLevels {
	case 5, 10, 20:
	default:
		return configErr("feed.depth_levels", "must be one of 5, 10 or 20")
	}
	if cfg.Feed.IntervalMs != 100 && cfg.Feed.IntervalMs != 1000 {
		return configErr("feed.interval_ms", "must be 100 or 1000")
	}
	if cfg.Feed.Reconnect.BaseDelay <= 0 || cfg.Feed.Reconnect.MaxDelay < cfg.Feed.Reconnect.BaseDelay {
		return configErr("feed.reconnect", "base_delay must be positive and not exceed max_delay")
	}
	if cfg.Feed.Reconnect.BackoffMultiplier < 1 {
		return configErr("feed.reconnect.backoff_multiplier", "must be at least 1")
	}

	size, err := cfg.Strategy.Size()
	if err != nil {
		return configErr("strategy.target_size", fmt.Sprintf("%q is not a decimal", cfg.Strategy.TargetSize))
	}
	if !size.IsPositive() {
		return configErr("strategy.target_size", "must be greater than 0")
	}
	if cfg.Strategy.OffsetTicks < 0 {
		return configErr("strategy.offset_ticks", "must not be negative")
	}

	if cfg.Relay.Enabled {
		if strings.TrimSpace(cfg.Relay.Address) == "" {
			return configErr("relay.address", "is required when the relay is enabled")
		}
		if cfg.Relay.ClientBuffer <= 0 {
			return configErr("relay.client_buffer", "must be greater than 0")
		}
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Address) == "" {
		return configErr("metrics.address", "is required when metrics are enabled")
	}
	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return configErr("metrics.cloudwatch.region", "is required when cloudwatch is enabled")
	}

	if cfg.Audit.Enabled {
		if len(cfg.Audit.Brokers) == 0 {
			return configErr("audit.brokers", "at least one broker is required when audit is enabled")
		}
		if cfg.Audit.Topic == "" {
			return configErr("audit.topic", "is required when audit is enabled")
		}
	}

	return nil
}
