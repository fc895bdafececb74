package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"negative balance", func(c *Config) { c.Account.OpeningBalance = decimal.NewFromInt(-1) }},
		{"finnhub without key", func(c *Config) { c.Feed.Source = "finnhub" }},
		{"kafka without brokers", func(c *Config) { c.Feed.Source = "kafka" }},
		{"replay without path", func(c *Config) { c.Feed.Source = "replay" }},
		{"unknown feed", func(c *Config) { c.Feed.Source = "carrier-pigeon" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}

	c := Default()
	c.Store.Driver = "memory"
	c.Store.DSN = ""
	assert.NoError(t, c.Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocksim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
store:
  driver: postgres
  dsn: postgres://localhost/stocksim
account:
  opening_balance: 2500.50
feed:
  source: finnhub
  finnhub:
    api_key: abc
    interval: 30s
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.True(t, cfg.Account.OpeningBalance.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, 30*time.Second, cfg.Feed.Finnhub.Interval)
	assert.Equal(t, 55, cfg.Feed.Finnhub.RequestsPerMinute, "unset keys keep defaults")
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  driver: mongo\n"), 0o644))
	_, err := LoadFromFile(bad)
	assert.Error(t, err)

	_, err = LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not: [valid"), 0o644))
	_, err = LoadFromFile(garbage)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := Default()
			want.Store.DSN = "/var/lib/stocksim.db"
			want.Feed.Kafka.Brokers = []string{"k1:9092", "k2:9092"}
			require.NoError(t, want.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, want.Store, got.Store)
			assert.Equal(t, want.Feed.Kafka, got.Feed.Kafka)
			assert.Equal(t, want.Feed.Finnhub.Interval, got.Feed.Finnhub.Interval)
			assert.True(t, want.Account.OpeningBalance.Equal(got.Account.OpeningBalance))
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STOCKSIM_STORE_DRIVER", "memory")
	t.Setenv("STOCKSIM_FEED", "kafka")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("STOCKSIM_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Feed.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STOCKSIM_ADDR=:7000\n"), 0o644))
	// godotenv never overrides variables that are already set.
	t.Setenv("STOCKSIM_ADDR", "")
	os.Unsetenv("STOCKSIM_ADDR")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}
