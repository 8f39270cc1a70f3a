package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"metalwatch/internal/domain"
	"metalwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Assets       []string           `mapstructure:"assets"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	StaticPrices map[string]float64 `mapstructure:"static_prices"`
	Calibration  CalibrationConfig  `mapstructure:"calibration"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourcesConfig wires the price source fallback chain.
type SourcesConfig struct {
	// Priority lists source names in the order the resolver tries them.
	Priority  []string        `mapstructure:"priority"`
	MetalsDev MetalsDevConfig `mapstructure:"metalsdev"`
	GoldAPI   GoldAPIConfig   `mapstructure:"goldapi"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// MetalsDevConfig captures metals.dev connectivity.
type MetalsDevConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// GoldAPIConfig captures goldapi.io connectivity.
type GoldAPIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AccessToken    string        `mapstructure:"access_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainlinkConfig covers the on-chain feed tier.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// CalibrationConfig parameterises the daily proxy-instrument calibration.
type CalibrationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Instrument     string        `mapstructure:"instrument"`
	Asset          string        `mapstructure:"asset"`
	DefaultRatio   float64       `mapstructure:"default_ratio"`
	ProxyBaseURL   string        `mapstructure:"proxy_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines evaluation policy and the push transport.
type AlertingConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	FireOnStatic bool       `mapstructure:"fire_on_static"`
	Push         PushConfig `mapstructure:"push"`
}

// PushConfig captures push gateway connectivity.
type PushConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	BatchSize      int           `mapstructure:"batch_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "metalwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d77617463))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("assets", []string{"gold", "silver", "platinum", "palladium"})

	v.SetDefault("sources.priority", []string{"metalsdev", "goldapi", "chainlink"})
	v.SetDefault("sources.metalsdev.base_url", "https://api.metals.dev")
	v.SetDefault("sources.metalsdev.request_timeout", "10s")
	v.SetDefault("sources.metalsdev.user_agent", "metalwatch/1.0")
	v.SetDefault("sources.goldapi.base_url", "https://www.goldapi.io")
	v.SetDefault("sources.goldapi.request_timeout", "10s")
	v.SetDefault("sources.chainlink.request_timeout", "10s")
	// Mainnet XAU/USD and XAG/USD aggregators.
	v.SetDefault("sources.chainlink.feeds", map[string]string{
		"gold":   "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6",
		"silver": "0x379589227b15F1a12195D3f2d90bBc9F31f95235",
	})

	// Last-resort constants, USD per troy ounce.
	v.SetDefault("static_prices", map[string]float64{
		"gold":      2400.0,
		"silver":    28.0,
		"platinum":  950.0,
		"palladium": 1000.0,
	})

	v.SetDefault("calibration.enabled", true)
	v.SetDefault("calibration.instrument", "PAXG")
	v.SetDefault("calibration.asset", "gold")
	v.SetDefault("calibration.default_ratio", 1.0)
	v.SetDefault("calibration.proxy_base_url", "https://api.coinbase.com")
	v.SetDefault("calibration.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.fire_on_static", false)
	v.SetDefault("alerting.push.base_url", "https://exp.host")
	v.SetDefault("alerting.push.batch_size", 100)
	v.SetDefault("alerting.push.request_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets must not be empty")
	}
	if _, err := c.AssetList(); err != nil {
		return err
	}
	for _, name := range c.Sources.Priority {
		switch name {
		case "metalsdev", "goldapi", "chainlink":
		default:
			return fmt.Errorf("sources.priority contains unknown source %q", name)
		}
	}
	if c.Calibration.Enabled {
		if c.Calibration.Instrument == "" {
			return fmt.Errorf("calibration.instrument must be configured")
		}
		if _, err := domain.ParseAsset(c.Calibration.Asset); err != nil {
			return fmt.Errorf("calibration.asset: %w", err)
		}
		if c.Calibration.DefaultRatio <= 0 {
			return fmt.Errorf("calibration.default_ratio must be greater than zero")
		}
	}
	if c.Alerting.Enabled && c.Alerting.Push.BatchSize <= 0 {
		return fmt.Errorf("alerting.push.batch_size must be greater than zero")
	}
	return nil
}

// AssetList parses the configured asset names.
func (c *Config) AssetList() ([]domain.Asset, error) {
	assets := make([]domain.Asset, 0, len(c.Assets))
	for _, name := range c.Assets {
		asset, err := domain.ParseAsset(name)
		if err != nil {
			return nil, fmt.Errorf("assets: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// StaticPriceMap converts the configured last-resort constants.
func (c *Config) StaticPriceMap() map[domain.Asset]decimal.Decimal {
	out := make(map[domain.Asset]decimal.Decimal, len(c.StaticPrices))
	for name, price := range c.StaticPrices {
		asset, err := domain.ParseAsset(name)
		if err != nil {
			continue
		}
		out[asset] = decimal.NewFromFloat(price)
	}
	return out
}

// FeedMap converts the configured Chainlink feed addresses.
func (c *ChainlinkConfig) FeedMap() map[domain.Asset]string {
	out := make(map[domain.Asset]string, len(c.Feeds))
	for name, addr := range c.Feeds {
		asset, err := domain.ParseAsset(name)
		if err != nil {
			continue
		}
		out[asset] = addr
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
