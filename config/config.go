/*
config.go - Service configuration

PURPOSE:
  One Config value for the whole service, assembled in three layers:
    1. DefaultConfig()
    2. a TOML file (optional)
    3. STORYLEDGER_* environment variables, optionally preloaded from .env

FILE FORMAT:
  [server]
  addr = ":8080"
  read_timeout = "15s"
  cors_origins = ["http://localhost:5173"]
  rate_per_second = 5.0
  rate_burst = 10

  [database]
  path = "storyledger.db"
  max_tx_attempts = 5

  [settlement]
  fee = 30
  earning = 15
  record_margin = true

  [rewards]
  default_daily = 10
  default_weekly = 50
  privileged_multiplier = 2

  [calendar]
  default_time_zone = "Asia/Seoul"

  [generation]
  url = "http://localhost:9000"
  timeout = "60s"

  [log]
  level = "info"
  format = "text"

  Unknown keys are rejected so a typo never silently falls back to a default.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/rewards"
	"github.com/warp/story-ledger/settlement"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STORYLEDGER_"

// =============================================================================
// SECTIONS
// =============================================================================

type Server struct {
	Addr            string        `toml:"addr"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string      `toml:"cors_origins"`
	RatePerSecond   float64       `toml:"rate_per_second"` // per account; 0 disables
	RateBurst       int           `toml:"rate_burst"`
}

type Database struct {
	Path          string        `toml:"path"`
	MaxTxAttempts int           `toml:"max_tx_attempts"`
	Backoff       time.Duration `toml:"backoff"`
}

type Settlement struct {
	Fee          int64 `toml:"fee"`
	Earning      int64 `toml:"earning"`
	RecordMargin bool  `toml:"record_margin"`
}

type Rewards struct {
	DefaultDaily         int64 `toml:"default_daily"`
	DefaultWeekly        int64 `toml:"default_weekly"`
	PrivilegedMultiplier int64 `toml:"privileged_multiplier"`
}

type Calendar struct {
	DefaultTimeZone string `toml:"default_time_zone"`
}

type Generation struct {
	URL     string        `toml:"url"`
	Timeout time.Duration `toml:"timeout"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

type Config struct {
	Server     Server     `toml:"server"`
	Database   Database   `toml:"database"`
	Settlement Settlement `toml:"settlement"`
	Rewards    Rewards    `toml:"rewards"`
	Calendar   Calendar   `toml:"calendar"`
	Generation Generation `toml:"generation"`
	Log        Log        `toml:"log"`
}

func DefaultConfig() Config {
	sc := settlement.DefaultConfig()
	rc := rewards.DefaultConfig()
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
			RatePerSecond:   5,
			RateBurst:       10,
		},
		Database: Database{
			Path:          "storyledger.db",
			MaxTxAttempts: 5,
			Backoff:       10 * time.Millisecond,
		},
		Settlement: Settlement{Fee: sc.Fee, Earning: sc.Earning, RecordMargin: sc.RecordMargin},
		Rewards: Rewards{
			DefaultDaily:         rc.DefaultDaily,
			DefaultWeekly:        rc.DefaultWeekly,
			PrivilegedMultiplier: rc.PrivilegedMultiplier,
		},
		Calendar:   Calendar{DefaultTimeZone: "UTC"},
		Generation: Generation{Timeout: 60 * time.Second},
		Log:        Log{Level: "info", Format: "text"},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv loads .env style files into the process environment. Variables
// already set win.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from STORYLEDGER_<SECTION>_<KEY> variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []string
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
			}
		}
	}
	i64 := func(dst *int64) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.ParseInt(v, 10, 64); return err }
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) { *dst, err = time.ParseDuration(v); return err }
	}

	str("SERVER_ADDR", &c.Server.Addr)
	parse("SERVER_CORS_ORIGINS", func(v string) error {
		c.Server.CORSOrigins = strings.Split(v, ",")
		return nil
	})
	parse("SERVER_RATE_PER_SECOND", func(v string) (err error) {
		c.Server.RatePerSecond, err = strconv.ParseFloat(v, 64)
		return err
	})
	str("DATABASE_PATH", &c.Database.Path)
	parse("DATABASE_MAX_TX_ATTEMPTS", func(v string) (err error) {
		c.Database.MaxTxAttempts, err = strconv.Atoi(v)
		return err
	})
	parse("SETTLEMENT_FEE", i64(&c.Settlement.Fee))
	parse("SETTLEMENT_EARNING", i64(&c.Settlement.Earning))
	parse("SETTLEMENT_RECORD_MARGIN", func(v string) (err error) {
		c.Settlement.RecordMargin, err = strconv.ParseBool(v)
		return err
	})
	parse("REWARDS_DEFAULT_DAILY", i64(&c.Rewards.DefaultDaily))
	parse("REWARDS_DEFAULT_WEEKLY", i64(&c.Rewards.DefaultWeekly))
	str("CALENDAR_DEFAULT_TIME_ZONE", &c.Calendar.DefaultTimeZone)
	str("GENERATION_URL", &c.Generation.URL)
	parse("GENERATION_TIMEOUT", dur(&c.Generation.Timeout))
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// =============================================================================
// VALIDATION & DERIVED VALUES
// =============================================================================

func (c Config) Validate() error {
	if err := c.SettlementConfig().Validate(); err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	if err := c.RewardsConfig().Validate(); err != nil {
		return fmt.Errorf("rewards: %w", err)
	}
	if c.Database.MaxTxAttempts < 1 {
		return fmt.Errorf("database: max_tx_attempts must be positive, got %d", c.Database.MaxTxAttempts)
	}
	if c.Server.RatePerSecond < 0 {
		return fmt.Errorf("server: rate_per_second must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log: format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c Config) SettlementConfig() settlement.Config {
	return settlement.Config{Fee: c.Settlement.Fee, Earning: c.Settlement.Earning, RecordMargin: c.Settlement.RecordMargin}
}

func (c Config) RewardsConfig() rewards.Config {
	return rewards.Config{
		DefaultDaily:         c.Rewards.DefaultDaily,
		DefaultWeekly:        c.Rewards.DefaultWeekly,
		PrivilegedMultiplier: c.Rewards.PrivilegedMultiplier,
	}
}

// Location resolves the default calendar time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Calendar.DefaultTimeZone)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	return loc, nil
}

// NewLogger builds the service logger from the [log] section.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(level)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}
