package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[http]
port = "9090"

[mysql]
dsn = "user:pass@(localhost:3306)/rollup?charset=utf8&parseTime=true"

[shopify]
rate_limit_delay = "2s"

[rollup_sync]
lookback_days = 3

[redis]
enabled = true
url = "redis://localhost:6379/1"

[kafka]
enabled = true
brokers = ["k1:9092", "k2:9092"]

[[accounts]]
id = "main"
shop_domain = "main.myshopify.com"
access_token = "token"
timezone = "Europe/Riga"

[[accounts]]
id = "outlet"
shop_domain = "outlet.myshopify.com"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Contains(t, cfg.DB.DSN, "parseTime=true")
	assert.Equal(t, 2*time.Second, cfg.Shopify.RateLimitDelay)
	assert.Equal(t, 3, cfg.RollupSync.LookbackDays)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)

	// defaults fill what the file leaves out
	assert.Equal(t, "2024-01", cfg.Shopify.APIVersion)
	assert.Equal(t, time.Second, cfg.Shopify.MinRequestInterval)
	assert.Equal(t, 4, cfg.Rollup.WindowsPerDay)
	assert.Equal(t, time.Hour, cfg.RollupSync.WorkerInterval)
	assert.Equal(t, "rollup.reconciled", cfg.Kafka.Topic)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "main", cfg.Accounts[0].Id)
	assert.Equal(t, "Europe/Riga", cfg.Accounts[0].Timezone)
	assert.Empty(t, cfg.Accounts[1].Timezone)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("SHOPIFY_MAX_CURSOR_RESTARTS", "5")
	t.Setenv("ROLLUP_SYNC_CONCURRENCY", "8")

	cfg, err := LoadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Shopify.MaxCursorRestarts)
	assert.Equal(t, 8, cfg.RollupSync.Concurrency)
}

func TestLoadConfig_AccountFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SHOPIFY_SHOP_DOMAIN", "env.myshopify.com")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "secret")

	cfg, err := LoadConfig(writeConfig(t, "[http]\nport = \"8080\"\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "default", cfg.Accounts[0].Id)
	assert.Equal(t, "secret", cfg.Accounts[0].AccessToken)
}

func TestValidate(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	_, err := LoadConfig(writeConfig(t, `
[[accounts]]
id = "a"
shop_domain = "a.myshopify.com"

[[accounts]]
id = "a"
shop_domain = "b.myshopify.com"
`))
	assert.ErrorContains(t, err, "duplicate id")

	viper.Reset()
	_, err = LoadConfig(writeConfig(t, `
[[accounts]]
id = "a"
`))
	assert.ErrorContains(t, err, "shop_domain is required")
}
