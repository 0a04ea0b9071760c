package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/story-ledger/config"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(30), cfg.Settlement.Fee)
	assert.Equal(t, int64(15), cfg.Settlement.Earning)
	assert.True(t, cfg.Settlement.RecordMargin)
	assert.Equal(t, int64(10), cfg.Rewards.DefaultDaily)
	assert.Equal(t, int64(50), cfg.Rewards.DefaultWeekly)
	assert.Equal(t, 5, cfg.Database.MaxTxAttempts)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "storyledger.toml", `
[server]
addr = ":9090"
read_timeout = "5s"

[settlement]
fee = 40
earning = 20

[calendar]
default_time_zone = "Asia/Seoul"

[generation]
url = "http://gen.local"
timeout = "2m"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, int64(40), cfg.Settlement.Fee)
	assert.Equal(t, int64(20), cfg.Settlement.Earning)
	assert.Equal(t, "http://gen.local", cfg.Generation.URL)
	assert.Equal(t, 2*time.Minute, cfg.Generation.Timeout)
	assert.Equal(t, int64(10), cfg.Rewards.DefaultDaily, "untouched sections keep defaults")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Seoul", loc.String())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "typo.toml", "[settlement]\nfees = 40\n")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "settlement.fees")
}

func TestLoad_RejectsInvalidAmounts(t *testing.T) {
	path := writeFile(t, "bad.toml", "[settlement]\nfee = 15\nearning = 15\n")
	_, err := config.Load(path)
	assert.ErrorContains(t, err, "settlement")
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("STORYLEDGER_DATABASE_PATH", ":memory:")
	t.Setenv("STORYLEDGER_SETTLEMENT_FEE", "50")
	path := writeFile(t, "c.toml", "[settlement]\nfee = 40\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, int64(50), cfg.Settlement.Fee)
}

func TestApplyEnv_ParseErrors(t *testing.T) {
	env := map[string]string{
		"STORYLEDGER_SETTLEMENT_FEE":             "thirty",
		"STORYLEDGER_GENERATION_TIMEOUT":         "soon",
		"STORYLEDGER_SERVER_CORS_ORIGINS":        "http://a,http://b",
		"STORYLEDGER_CALENDAR_DEFAULT_TIME_ZONE": "Europe/Paris",
	}
	cfg := config.DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORYLEDGER_SETTLEMENT_FEE")
	assert.Contains(t, err.Error(), "STORYLEDGER_GENERATION_TIMEOUT")
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "Europe/Paris", cfg.Calendar.DefaultTimeZone)
}

func TestLoadEnv_DoesNotOverrideExisting(t *testing.T) {
	t.Setenv("STORYLEDGER_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("STORYLEDGER_GENERATION_URL") })
	path := writeFile(t, ".env", "STORYLEDGER_LOG_LEVEL=debug\nSTORYLEDGER_GENERATION_URL=http://from-env-file\n")

	require.NoError(t, config.LoadEnv(path))
	assert.Equal(t, "warn", os.Getenv("STORYLEDGER_LOG_LEVEL"))
	assert.Equal(t, "http://from-env-file", os.Getenv("STORYLEDGER_GENERATION_URL"))

	assert.Error(t, config.LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero fee", func(c *config.Config) { c.Settlement.Fee = 0 }},
		{"earning above fee", func(c *config.Config) { c.Settlement.Earning = 31 }},
		{"zero daily", func(c *config.Config) { c.Rewards.DefaultDaily = 0 }},
		{"no attempts", func(c *config.Config) { c.Database.MaxTxAttempts = 0 }},
		{"bad zone", func(c *config.Config) { c.Calendar.DefaultTimeZone = "Mars/Olympus" }},
		{"bad level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *config.Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Log = config.Log{Level: "debug", Format: "json"}

	l, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}
