package config

import (
	"fmt"
	"os"
	"strings"

	httpapi "github.com/jekabolt/sales-rollup/internal/api/http"
	"github.com/jekabolt/sales-rollup/internal/cache"
	"github.com/jekabolt/sales-rollup/internal/commerce/shopify"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/internal/events"
	"github.com/jekabolt/sales-rollup/internal/rollup"
	"github.com/jekabolt/sales-rollup/internal/rollupsync"
	"github.com/jekabolt/sales-rollup/internal/store"
	"github.com/jekabolt/sales-rollup/log"
	"github.com/spf13/viper"
)

// Config represents the global configuration for the service.
type Config struct {
	DB         store.Config      `mapstructure:"mysql"`
	Logger     log.Config        `mapstructure:"logger"`
	HTTP       httpapi.Config    `mapstructure:"http"`
	Shopify    shopify.Config    `mapstructure:"shopify"`
	Rollup     rollup.Config     `mapstructure:"rollup"`
	RollupSync rollupsync.Config `mapstructure:"rollup_sync"`
	Redis      cache.Config      `mapstructure:"redis"`
	Kafka      events.Config     `mapstructure:"kafka"`
	Accounts   []entity.Account  `mapstructure:"accounts"`
}

// LoadConfig loads the configuration from a file and/or environment variables.
// Environment variables take precedence over config file values.
// Env vars use underscores and uppercase, e.g., MYSQL_DSN, SHOPIFY_API_VERSION
// Nested config keys use double underscore, e.g., MYSQL__DSN for mysql.dsn
func LoadConfig(cfgFile string) (*Config, error) {
	viper.SetConfigType("toml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "__"))

	setDefaults()
	bindEnvVars()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %v", err)
			}
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("$HOME/config/sales-rollup")
		viper.AddConfigPath("/etc/sales-rollup")
		_ = viper.ReadInConfig()
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config into struct: %v", err)
	}

	// A single account can be configured from env vars alone.
	if len(config.Accounts) == 0 {
		if domain := os.Getenv("SHOPIFY_SHOP_DOMAIN"); domain != "" {
			id := os.Getenv("SHOPIFY_ACCOUNT_ID")
			if id == "" {
				id = "default"
			}
			config.Accounts = append(config.Accounts, entity.Account{
				Id:          id,
				ShopDomain:  domain,
				AccessToken: os.Getenv("SHOPIFY_ACCESS_TOKEN"),
				Timezone:    os.Getenv("SHOPIFY_TIMEZONE"),
			})
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the account list is usable.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Id == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if acc.ShopDomain == "" {
			return fmt.Errorf("account %s: shop_domain is required", acc.Id)
		}
		if _, dup := seen[acc.Id]; dup {
			return fmt.Errorf("account %s: duplicate id", acc.Id)
		}
		seen[acc.Id] = struct{}{}
	}
	return nil
}

func setDefaults() {
	sc := shopify.DefaultConfig()
	viper.SetDefault("shopify.api_version", sc.APIVersion)
	viper.SetDefault("shopify.page_limit", sc.PageLimit)
	viper.SetDefault("shopify.http_timeout", sc.HTTPTimeout)
	viper.SetDefault("shopify.min_request_interval", sc.MinRequestInterval)
	viper.SetDefault("shopify.rate_limit_delay", sc.RateLimitDelay)
	viper.SetDefault("shopify.max_rate_limit_retries", sc.MaxRateLimitRetry)
	viper.SetDefault("shopify.max_cursor_restarts", sc.MaxCursorRestarts)

	rc := rollup.DefaultConfig()
	viper.SetDefault("rollup.windows_per_day", rc.WindowsPerDay)
	viper.SetDefault("rollup.max_range_days", rc.MaxRangeDays)

	wc := rollupsync.DefaultConfig()
	viper.SetDefault("rollup_sync.worker_interval", wc.WorkerInterval)
	viper.SetDefault("rollup_sync.lookback_days", wc.LookbackDays)
	viper.SetDefault("rollup_sync.concurrency", wc.Concurrency)

	cc := cache.DefaultConfig()
	viper.SetDefault("redis.enabled", cc.Enabled)
	viper.SetDefault("redis.url", cc.URL)
	viper.SetDefault("redis.ttl", cc.TTL)

	ec := events.DefaultConfig()
	viper.SetDefault("kafka.enabled", ec.Enabled)
	viper.SetDefault("kafka.topic", ec.Topic)
	viper.SetDefault("kafka.write_timeout", ec.WriteTimeout)

	viper.SetDefault("http.port", "8080")
	viper.SetDefault("logger.level", 0)
}

// bindEnvVars binds environment variables to config keys
// This allows using both nested keys (MYSQL__DSN) and flat keys (MYSQL_DSN)
func bindEnvVars() {
	// MySQL
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.automigrate", "MYSQL_AUTOMIGRATE")
	viper.BindEnv("mysql.max_open_connections", "MYSQL_MAX_OPEN_CONNECTIONS")
	viper.BindEnv("mysql.max_idle_connections", "MYSQL_MAX_IDLE_CONNECTIONS")
	viper.BindEnv("mysql.tls_ca_path", "MYSQL_TLS_CA_PATH")

	// Logger
	viper.BindEnv("logger.level", "LOG_LEVEL")
	viper.BindEnv("logger.add_source", "LOG_ADD_SOURCE")

	// HTTP
	viper.BindEnv("http.port", "HTTP_PORT")
	viper.BindEnv("http.address", "HTTP_ADDRESS")
	viper.BindEnv("http.allowed_origins", "HTTP_ALLOWED_ORIGINS")
	viper.BindEnv("http.request_timeout", "HTTP_REQUEST_TIMEOUT")

	// Shopify
	viper.BindEnv("shopify.base_url", "SHOPIFY_BASE_URL")
	viper.BindEnv("shopify.api_version", "SHOPIFY_API_VERSION")
	viper.BindEnv("shopify.page_limit", "SHOPIFY_PAGE_LIMIT")
	viper.BindEnv("shopify.http_timeout", "SHOPIFY_HTTP_TIMEOUT")
	viper.BindEnv("shopify.min_request_interval", "SHOPIFY_MIN_REQUEST_INTERVAL")
	viper.BindEnv("shopify.rate_limit_delay", "SHOPIFY_RATE_LIMIT_DELAY")
	viper.BindEnv("shopify.max_rate_limit_retries", "SHOPIFY_MAX_RATE_LIMIT_RETRIES")
	viper.BindEnv("shopify.max_cursor_restarts", "SHOPIFY_MAX_CURSOR_RESTARTS")

	// Rollup engine
	viper.BindEnv("rollup.windows_per_day", "ROLLUP_WINDOWS_PER_DAY")
	viper.BindEnv("rollup.max_range_days", "ROLLUP_MAX_RANGE_DAYS")

	// Rollup sync worker
	viper.BindEnv("rollup_sync.worker_interval", "ROLLUP_SYNC_WORKER_INTERVAL")
	viper.BindEnv("rollup_sync.lookback_days", "ROLLUP_SYNC_LOOKBACK_DAYS")
	viper.BindEnv("rollup_sync.concurrency", "ROLLUP_SYNC_CONCURRENCY")

	// Redis result cache
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.ttl", "REDIS_TTL")

	// Kafka events
	viper.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_TOPIC")
	viper.BindEnv("kafka.write_timeout", "KAFKA_WRITE_TIMEOUT")
}
