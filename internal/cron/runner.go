package cronrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Parser accepts the six-field specs (leading seconds) used by the Runner.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context, loc *time.Location) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name. A panicking job is logged and the schedule keeps running.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		ctx := r.baseCtx
		if ctx == nil {
			ctx = context.Background()
		}
		defer func() {
			if rec := recover(); rec != nil && r.logger != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", rec))
			}
		}()
		if r.logger != nil {
			r.logger.Debug("cron job fired", zap.String("job", name))
		}
		job(ctx)
	})
}

// Next reports when the entry fires next, zero if it is unknown.
func (r *Runner) Next(id cron.EntryID) time.Time {
	return r.cron.Entry(id).Next
}

func (r *Runner) Start() {
	if r.logger != nil {
		r.logger.Info("cron started", zap.String("location", r.cron.Location().String()))
	}
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	if r.logger != nil {
		r.logger.Info("cron stopped")
	}
}

// weeksChecked spans a full year so both DST changes are covered.
const weeksChecked = 53

// ValidateWeekly checks that open, close and settle each fire exactly once in every Monday-anchored
// week in loc, in that order, for the year following from.
func ValidateWeekly(open, close, settle string, loc *time.Location, from time.Time) error {
	if loc == nil {
		loc = time.UTC
	}
	specs := []struct {
		name string
		spec string
	}{{"open", open}, {"close", close}, {"settle", settle}}

	scheds := make([]cron.Schedule, len(specs))
	for i, s := range specs {
		sched, err := Parser.Parse(s.spec)
		if err != nil {
			return fmt.Errorf("cron.%s %q: %w", s.name, s.spec, err)
		}
		scheds[i] = sched
	}

	week := mondayOf(from.In(loc))
	for w := 0; w < weeksChecked; w++ {
		end := week.AddDate(0, 0, 7)
		var prev time.Time
		for i, sched := range scheds {
			first := sched.Next(week.Add(-time.Second))
			if first.IsZero() || !first.Before(end) {
				return fmt.Errorf("cron.%s %q does not fire in the week of %s", specs[i].name, specs[i].spec, week.Format("2006-01-02"))
			}
			if again := sched.Next(first); again.Before(end) {
				return fmt.Errorf("cron.%s %q fires more than once in the week of %s", specs[i].name, specs[i].spec, week.Format("2006-01-02"))
			}
			if i > 0 && !first.After(prev) {
				return fmt.Errorf("cron.%s must fire after cron.%s (week of %s)", specs[i].name, specs[i-1].name, week.Format("2006-01-02"))
			}
			prev = first
		}
		week = end
	}
	return nil
}

func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}
