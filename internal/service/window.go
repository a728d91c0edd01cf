package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricecontest/internal/contest"
	"pricecontest/internal/metrics"
	"pricecontest/internal/notify"
)

// WindowService moves the submission window between closed and open and triggers settlement.
// The state lives in system_settings so a restart neither reopens nor closes the window.
type WindowService struct {
	Settings   *SystemSettingsService
	Settlement *SettlementService
	Notifier   notify.Notifier
	Metrics    *metrics.Registry
	Logger     *zap.Logger
	Location   *time.Location
	Now        func() time.Time

	mu sync.Mutex
}

func (s *WindowService) State(ctx context.Context) (WindowState, error) {
	if s == nil || s.Settings == nil {
		return WindowState{}, errors.New("window service is not configured")
	}
	return s.Settings.WindowState(ctx)
}

// Open opens the window and reports whether it was closed before. Opening an open window changes
// nothing; manual triggers still re-announce it.
func (s *WindowService) Open(ctx context.Context, trigger string) (bool, error) {
	return s.transition(ctx, true, trigger)
}

// Close closes the window. Submissions check the state themselves; closing only flips the flag.
func (s *WindowService) Close(ctx context.Context, trigger string) (bool, error) {
	return s.transition(ctx, false, trigger)
}

// Settle settles the current period whatever the window state.
func (s *WindowService) Settle(ctx context.Context, trigger string) (*SettlementOutcome, error) {
	if s == nil || s.Settlement == nil {
		return nil, errors.New("window service is not configured")
	}
	return s.Settlement.Run(ctx, s.Period(), trigger)
}

// Period is the contest week the current instant belongs to.
func (s *WindowService) Period() contest.Period {
	return contest.PeriodFor(s.now(), s.location())
}

func (s *WindowService) transition(ctx context.Context, open bool, trigger string) (bool, error) {
	if s == nil || s.Settings == nil {
		return false, errors.New("window service is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.Settings.WindowState(ctx)
	if err != nil {
		return false, err
	}
	changed := cur.Open != open
	if changed {
		next := WindowState{Open: open, ChangedAt: s.now(), ChangedBy: trigger}
		if err := s.Settings.SetWindowState(ctx, next); err != nil {
			return false, err
		}
	}
	s.Metrics.SetWindowOpen(open)

	period := s.Period()
	log := s.logger().With(zap.String("period", period.String()), zap.String("trigger", trigger), zap.Bool("changed", changed))
	if open {
		log.Info("window open")
	} else {
		log.Info("window closed")
	}

	if s.Notifier == nil || (!changed && !isManual(trigger)) {
		return changed, nil
	}
	var nerr error
	if open {
		nerr = s.Notifier.WindowOpened(ctx, period)
	} else {
		nerr = s.Notifier.WindowClosed(ctx, period)
	}
	if nerr != nil {
		log.Warn("window announcement failed", zap.Error(nerr))
	}
	return changed, nil
}

// SyncMetrics publishes the persisted state to the window gauge.
func (s *WindowService) SyncMetrics(ctx context.Context) {
	st, err := s.State(ctx)
	if err != nil {
		s.logger().Warn("read window state failed", zap.Error(err))
		return
	}
	s.Metrics.SetWindowOpen(st.Open)
}

// Scheduled jobs honour the feature switches; manual commands do not.

func (s *WindowService) ScheduledOpen(ctx context.Context) {
	if !s.Settings.IsEnabled(ctx, FeatureScheduleOpen, true) {
		s.logger().Info("scheduled open skipped", zap.String("switch", FeatureScheduleOpen))
		return
	}
	if _, err := s.Open(ctx, TriggerSchedule); err != nil {
		s.logger().Error("scheduled open failed", zap.Error(err))
	}
}

func (s *WindowService) ScheduledClose(ctx context.Context) {
	if !s.Settings.IsEnabled(ctx, FeatureScheduleClose, true) {
		s.logger().Info("scheduled close skipped", zap.String("switch", FeatureScheduleClose))
		return
	}
	if _, err := s.Close(ctx, TriggerSchedule); err != nil {
		s.logger().Error("scheduled close failed", zap.Error(err))
	}
}

func (s *WindowService) ScheduledSettle(ctx context.Context) {
	if !s.Settings.IsEnabled(ctx, FeatureScheduleSettle, true) {
		s.logger().Info("scheduled settle skipped", zap.String("switch", FeatureScheduleSettle))
		return
	}
	// Run already logs and audits the outcome.
	_, _ = s.Settle(ctx, TriggerSchedule)
}

func isManual(trigger string) bool {
	return strings.HasPrefix(trigger, "manual:")
}

func (s *WindowService) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *WindowService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *WindowService) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
