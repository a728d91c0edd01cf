package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pricecontest/internal/bot"
	"pricecontest/internal/contest"
	cronrunner "pricecontest/internal/cron"
	"pricecontest/internal/handler"
	"pricecontest/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the weekly schedule and the Discord bot",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger
	a.window.SyncMetrics(ctx)

	if a.cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(handler.RequireBearer(a.cfg.Server.AdminToken))
	engine.Use(handler.AuditWrites(logger.Named("audit")))

	(&handler.HealthHandler{DB: a.db.Gorm, Window: a.window}).Register(engine)
	(&handler.ContestHandler{
		Repo:       a.store,
		Window:     a.window,
		Submission: a.submission,
		Settlement: a.settlement,
		Stats:      a.stats,
	}).Register(engine)
	(&handler.SystemSettingsHandler{Settings: a.settings}).Register(engine)
	if a.metrics != nil {
		engine.GET(a.cfg.Metrics.Path, gin.WrapH(a.metrics.Handler()))
	}

	srv := &http.Server{
		Addr:    a.cfg.Server.HTTPAddr,
		Handler: engine,
	}

	if a.cfg.Cron.Enabled {
		loc, _ := a.cfg.Cron.Location()
		runner := cronrunner.New(logger, ctx, loc)
		if err := schedule(runner, a); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()
	} else {
		logger.Info("cron disabled, window moves only on manual commands")
	}

	if a.discord != nil {
		b := &bot.Bot{
			Session:    a.discord,
			GuildID:    a.cfg.Discord.GuildID,
			Window:     a.window,
			Submission: a.submission,
			Stats:      a.stats,
			Assets:     contest.AssetSet(a.cfg.Contest.Assets),
			Logger:     logger.Named("bot"),
		}
		if err := b.Start(ctx); err != nil {
			return err
		}
		defer b.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", a.cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func schedule(runner *cronrunner.Runner, a *app) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{"window_open", a.cfg.Cron.Open, a.window.ScheduledOpen},
		{"window_close", a.cfg.Cron.Close, a.window.ScheduledClose},
		{"settle", a.cfg.Cron.Settle, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, a.cfg.Contest.SettleTimeout)
			defer cancel()
			a.window.ScheduledSettle(ctx)
		}},
	}
	for _, j := range jobs {
		id, err := runner.Add(j.name, j.spec, j.run)
		if err != nil {
			return err
		}
		a.logger.Info("cron job registered",
			zap.String("job", j.name),
			zap.String("spec", j.spec),
			zap.Time("next", runner.Next(id)),
		)
	}
	return nil
}

// manualTrigger tags operator actions taken from this binary.
var manualTrigger = service.ManualTrigger("cli")
