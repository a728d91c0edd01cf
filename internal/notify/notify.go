package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"pricecontest/internal/contest"
)

// SubmitButtonID is the custom id of the button attached to the window-opened announcement.
const SubmitButtonID = "submit_predictions"

const (
	DefaultOpenText      = "🔮 Prediction window is now open! Click the button to submit your predictions (closes Wednesday 11:59 PM ET)."
	DefaultCloseText     = "Prediction window is closed. Results Sunday at 8:01 PM ET!"
	NoPredictionsText    = "No predictions this week."
	ResultsTitle         = "Weekly Prediction Results"
	resultsColor         = 0x00ff00
	discordFieldMaxChars = 1024
)

// Notifier publishes contest events to participants.
type Notifier interface {
	WindowOpened(ctx context.Context, period contest.Period) error
	WindowClosed(ctx context.Context, period contest.Period) error
	NoPredictions(ctx context.Context, period contest.Period) error
	Results(ctx context.Context, lb *contest.Leaderboard) error
}

// Multi fans every event out to all notifiers. One failing notifier does not stop the others.
type Multi struct {
	Notifiers []Notifier
	Logger    *zap.Logger
}

func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	out := &Multi{Logger: logger}
	for _, n := range notifiers {
		if n != nil {
			out.Notifiers = append(out.Notifiers, n)
		}
	}
	return out
}

func (m *Multi) WindowOpened(ctx context.Context, period contest.Period) error {
	return m.each("window_opened", func(n Notifier) error { return n.WindowOpened(ctx, period) })
}

func (m *Multi) WindowClosed(ctx context.Context, period contest.Period) error {
	return m.each("window_closed", func(n Notifier) error { return n.WindowClosed(ctx, period) })
}

func (m *Multi) NoPredictions(ctx context.Context, period contest.Period) error {
	return m.each("no_predictions", func(n Notifier) error { return n.NoPredictions(ctx, period) })
}

func (m *Multi) Results(ctx context.Context, lb *contest.Leaderboard) error {
	return m.each("results", func(n Notifier) error { return n.Results(ctx, lb) })
}

func (m *Multi) each(event string, fn func(Notifier) error) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, n := range m.Notifiers {
		if err := fn(n); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("notify failed", zap.String("event", event), zap.Error(err))
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes every event to the service log. It backs the CLI and deployments without a chat.
type Log struct {
	Logger *zap.Logger
}

func (l *Log) WindowOpened(_ context.Context, period contest.Period) error {
	l.logger().Info("prediction window opened", zap.String("period", period.String()))
	return nil
}

func (l *Log) WindowClosed(_ context.Context, period contest.Period) error {
	l.logger().Info("prediction window closed", zap.String("period", period.String()))
	return nil
}

func (l *Log) NoPredictions(_ context.Context, period contest.Period) error {
	l.logger().Info(NoPredictionsText, zap.String("period", period.String()))
	return nil
}

func (l *Log) Results(_ context.Context, lb *contest.Leaderboard) error {
	if lb == nil {
		return nil
	}
	l.logger().Info("weekly results",
		zap.String("period", lb.Period.String()),
		zap.Int("participants", lb.Participants),
		zap.Int("ranked", len(lb.Entries)),
	)
	return nil
}

func (l *Log) logger() *zap.Logger {
	if l == nil || l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
