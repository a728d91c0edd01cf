package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pricecontest/internal/config"
	"pricecontest/internal/contest"
	"pricecontest/internal/db"
	"pricecontest/internal/lock"
	"pricecontest/internal/logger"
	"pricecontest/internal/metrics"
	"pricecontest/internal/notify"
	"pricecontest/internal/oracle"
	gormrepository "pricecontest/internal/repository/gorm"
	"pricecontest/internal/service"

	_ "time/tzdata"
)

// app is the wired process shared by every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *db.DB
	store   *gormrepository.Store
	metrics *metrics.Registry
	discord *discordgo.Session
	locker  lock.Locker

	settings   *service.SystemSettingsService
	settlement *service.SettlementService
	window     *service.WindowService
	submission *service.SubmissionService
	stats      *service.StatsService
}

func loadConfig() (config.Config, error) {
	cfgPath := os.Getenv("PC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("PC_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Cron.Location()
	if err != nil {
		return nil, err
	}
	policy, err := contest.ParseUnavailablePolicy(cfg.Contest.UnavailablePolicy)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := db.SetTimezone(conn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(conn); err != nil {
		_ = db.Close(conn)
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, db: conn, store: gormrepository.New(conn.Gorm)}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	a.settings = &service.SystemSettingsService{Repo: a.store}
	if err := a.settings.EnsureDefaultSwitches(ctx); err != nil {
		log.Warn("init default system switches failed", zap.Error(err))
	}

	cg := oracle.NewCoinGecko(cfg.Oracle, &http.Client{Timeout: cfg.Oracle.Timeout})
	cg.Logger = log.Named("oracle")
	cg.Metrics = a.metrics
	var prices oracle.Oracle = cg
	oracleTimeout := cfg.Oracle.Timeout
	if cfg.Oracle.Fallback == "binance" {
		// The fallback runs after the primary inside the same settlement deadline.
		oracleTimeout *= 2
		bn := oracle.NewBinance(cfg.Oracle.BinanceBaseURL, &http.Client{Timeout: cfg.Oracle.Timeout})
		bn.Logger = log.Named("oracle")
		bn.Metrics = a.metrics
		prices = oracle.NewChain(log.Named("oracle"), cg, bn)
	}

	a.locker = lock.NewMemoryLocker()
	if cfg.Lock.Backend == "redis" {
		rl := lock.NewRedisLocker(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Lock.Prefix)
		rl.Logger = log.Named("lock")
		a.locker = rl
	}

	notifiers := []notify.Notifier{&notify.Log{Logger: log.Named("notify")}}
	if cfg.Discord.Enabled {
		a.discord, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			a.close()
			return nil, err
		}
		notifiers = append(notifiers, &notify.Discord{
			Session:             a.discord,
			PredictionChannelID: cfg.Discord.PredictionChannelID,
			ResultsChannelID:    cfg.Discord.ResultsChannelID,
		})
	}
	notifier := notify.NewMulti(log.Named("notify"), notifiers...)

	assets := contest.AssetSet(cfg.Contest.Assets)
	a.settlement = &service.SettlementService{
		Repo:            a.store,
		Oracle:          prices,
		Locker:          a.locker,
		Notifier:        notifier,
		Metrics:         a.metrics,
		Logger:          log.Named("settlement"),
		Assets:          assets,
		Policy:          policy,
		Location:        loc,
		LeaderboardSize: cfg.Contest.LeaderboardSize,
		LockTTL:         cfg.Lock.TTL,
		ClaimTTL:        cfg.Contest.ClaimTTL,
		OracleTimeout:   oracleTimeout,
	}
	a.window = &service.WindowService{
		Settings:   a.settings,
		Settlement: a.settlement,
		Notifier:   notifier,
		Metrics:    a.metrics,
		Logger:     log.Named("window"),
		Location:   loc,
	}
	a.submission = &service.SubmissionService{
		Repo:     a.store,
		Settings: a.settings,
		Assets:   assets,
		Location: loc,
		Metrics:  a.metrics,
		Logger:   log.Named("submission"),
	}
	a.stats = &service.StatsService{Repo: a.store}
	return a, nil
}

// close releases the database and any outbound sessions.
func (a *app) close() {
	if a == nil {
		return
	}
	if rl, ok := a.locker.(*lock.RedisLocker); ok {
		if c, ok := rl.Client.(*redis.Client); ok {
			_ = c.Close()
		}
	}
	if a.db != nil {
		_ = db.Close(a.db)
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
