package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pricecontest/internal/contest"
	cronrunner "pricecontest/internal/cron"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Contest ContestConfig `mapstructure:"contest"`
	Oracle  OracleConfig  `mapstructure:"oracle"`
	Lock    LockConfig    `mapstructure:"lock"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Discord DiscordConfig `mapstructure:"discord"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// AdminToken guards the write endpoints under /api/. Empty disables the check.
	AdminToken string `mapstructure:"admin_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// CronConfig holds the three weekly triggers as six-field cron specs (with seconds).
type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	Open     string `mapstructure:"open"`
	Close    string `mapstructure:"close"`
	Settle   string `mapstructure:"settle"`
}

type ContestConfig struct {
	Assets            []contest.Asset `mapstructure:"assets"`
	LeaderboardSize   int             `mapstructure:"leaderboard_size"`
	ClaimTTL          time.Duration   `mapstructure:"claim_ttl"`
	UnavailablePolicy string          `mapstructure:"unavailable_policy"`
	SettleTimeout     time.Duration   `mapstructure:"settle_timeout"`
}

type OracleConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	BreakerFails   uint32        `mapstructure:"breaker_consecutive_failures"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
	// Fallback is "" or "binance": the exchange asked for assets the primary could not price.
	Fallback       string        `mapstructure:"fallback"`
	BinanceBaseURL string        `mapstructure:"binance_base_url"`
}

type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DiscordConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Token               string `mapstructure:"token"`
	GuildID             string `mapstructure:"guild_id"`
	PredictionChannelID string `mapstructure:"prediction_channel_id"`
	ResultsChannelID    string `mapstructure:"results_channel_id"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// maxFormAssets is the most text inputs a Discord modal can hold.
const maxFormAssets = 5

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.timezone", "America/New_York")
	v.SetDefault("cron.open", "0 0 0 * * MON")
	v.SetDefault("cron.close", "0 59 23 * * WED")
	v.SetDefault("cron.settle", "0 1 20 * * SUN")

	v.SetDefault("contest.assets", []map[string]any{
		{"symbol": "BTC", "coingecko_id": "bitcoin"},
		{"symbol": "ETH", "coingecko_id": "ethereum"},
		{"symbol": "XRP", "coingecko_id": "ripple"},
		{"symbol": "SOL", "coingecko_id": "solana"},
		{"symbol": "HYPE", "coingecko_id": "hyperliquid"},
	})
	v.SetDefault("contest.leaderboard_size", contest.DefaultLeaderboardSize)
	v.SetDefault("contest.claim_ttl", "10m")
	v.SetDefault("contest.unavailable_policy", string(contest.PolicyExcludeAsset))
	v.SetDefault("contest.settle_timeout", "2m")

	v.SetDefault("oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.timeout", "15s")
	v.SetDefault("oracle.rate_per_second", 0.5)
	v.SetDefault("oracle.burst", 1)
	v.SetDefault("oracle.breaker_consecutive_failures", 3)
	v.SetDefault("oracle.breaker_timeout", "60s")
	v.SetDefault("oracle.fallback", "")
	v.SetDefault("oracle.binance_base_url", "https://api.binance.com")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", "5m")
	v.SetDefault("lock.prefix", "pricecontest:settle:")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("discord.enabled", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	for i := range cfg.Contest.Assets {
		cfg.Contest.Assets[i].Symbol = contest.NormalizeSymbol(cfg.Contest.Assets[i].Symbol)
		cfg.Contest.Assets[i].SourceID = strings.TrimSpace(cfg.Contest.Assets[i].SourceID)
		cfg.Contest.Assets[i].Pair = strings.ToUpper(strings.TrimSpace(cfg.Contest.Assets[i].Pair))
	}

	return cfg, nil
}

// Validate checks the settings the contest cannot run without.
func (c Config) Validate() error {
	var errs []error
	if len(c.Contest.Assets) == 0 {
		errs = append(errs, errors.New("contest.assets is empty"))
	}
	if c.Discord.Enabled && len(c.Contest.Assets) > maxFormAssets {
		errs = append(errs, fmt.Errorf("contest.assets has %d entries, the discord form holds %d", len(c.Contest.Assets), maxFormAssets))
	}
	seen := map[string]struct{}{}
	for _, a := range c.Contest.Assets {
		if a.Symbol == "" || a.SourceID == "" {
			errs = append(errs, fmt.Errorf("asset %+v needs symbol and coingecko_id", a))
			continue
		}
		if _, dup := seen[a.Symbol]; dup {
			errs = append(errs, fmt.Errorf("asset %s listed twice", a.Symbol))
		}
		seen[a.Symbol] = struct{}{}
	}
	if _, err := contest.ParseUnavailablePolicy(c.Contest.UnavailablePolicy); err != nil {
		errs = append(errs, err)
	}
	loc, err := c.Cron.Location()
	if err != nil {
		errs = append(errs, err)
	} else if err := cronrunner.ValidateWeekly(c.Cron.Open, c.Cron.Close, c.Cron.Settle, loc, time.Now()); err != nil {
		errs = append(errs, err)
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	switch c.Oracle.Fallback {
	case "", "binance":
	default:
		errs = append(errs, fmt.Errorf("unknown oracle.fallback %q", c.Oracle.Fallback))
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend %q", c.Lock.Backend))
	}
	if c.Discord.Enabled && strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord.token is required when discord is enabled"))
	}
	return errors.Join(errs...)
}

// Location is the timezone periods, schedules and stats buckets are computed in.
func (c CronConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("cron.timezone: %w", err)
	}
	return loc, nil
}
