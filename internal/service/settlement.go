package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pricecontest/internal/contest"
	"pricecontest/internal/lock"
	"pricecontest/internal/metrics"
	"pricecontest/internal/models"
	"pricecontest/internal/notify"
	"pricecontest/internal/oracle"
	"pricecontest/internal/repository"
)

const (
	TriggerSchedule = "schedule"

	defaultLockTTL       = 5 * time.Minute
	defaultClaimTTL      = 10 * time.Minute
	defaultOracleTimeout = 30 * time.Second
	releaseTimeout       = 10 * time.Second
)

// ManualTrigger names a settlement or window change requested by a person through surface.
func ManualTrigger(surface string) string {
	return "manual:" + surface
}

// SettlementOutcome reports what one Run did.
type SettlementOutcome struct {
	Period      contest.Period       `json:"period"`
	Outcome     string               `json:"outcome"`
	RunID       uint64               `json:"run_id"`
	Rows        int                  `json:"rows"`
	Users       int                  `json:"users"`
	Unavailable []string             `json:"unavailable,omitempty"`
	Leaderboard *contest.Leaderboard `json:"leaderboard,omitempty"`
}

type SettlementService struct {
	Repo     repository.Repository
	Oracle   oracle.Oracle
	Locker   lock.Locker
	Notifier notify.Notifier
	Metrics  *metrics.Registry
	Logger   *zap.Logger

	Assets          contest.AssetSet
	Policy          contest.UnavailablePolicy
	Location        *time.Location
	LeaderboardSize int
	LockTTL         time.Duration
	ClaimTTL        time.Duration
	OracleTimeout   time.Duration

	Now func() time.Time

	lockerOnce sync.Once
}

// Run settles every pending prediction of period. A run that finds nothing pending is a no-op that
// leaves stats untouched, so repeated runs for the same period are safe. A concurrent run for the
// same period gets contest.ErrSettlementInProgress.
func (s *SettlementService) Run(ctx context.Context, period contest.Period, trigger string) (*SettlementOutcome, error) {
	if s == nil || s.Repo == nil || s.Oracle == nil {
		return nil, errors.New("settlement service is not configured")
	}
	started := s.now()
	out := &SettlementOutcome{Period: period}
	log := s.logger().With(zap.String("period", period.String()), zap.String("trigger", trigger))

	release, ok, err := s.locker().TryLock(ctx, period.String(), durationOr(s.LockTTL, defaultLockTTL))
	if err != nil {
		return nil, fmt.Errorf("settlement lock: %w", err)
	}
	if !ok {
		out.Outcome = models.SettlementOutcomeInProgress
		s.record(ctx, log, out, trigger, "", started, nil)
		return out, contest.ErrSettlementInProgress
	}
	defer release()

	token := uuid.NewString()
	claimed, err := s.Repo.ClaimPending(ctx, period.String(), token, started, started.Add(-durationOr(s.ClaimTTL, defaultClaimTTL)))
	if err != nil {
		out.Outcome = models.SettlementOutcomeFailed
		s.record(ctx, log, out, trigger, token, started, err)
		return out, fmt.Errorf("claim pending predictions: %w", err)
	}
	if len(claimed) == 0 {
		return s.nothingClaimed(ctx, log, out, trigger, started)
	}
	out.Rows = len(claimed)

	rows := make([]contest.PendingPrediction, 0, len(claimed))
	for _, p := range claimed {
		rows = append(rows, contest.PendingPrediction{UserID: p.UserID, Asset: p.Asset, Predicted: p.Predicted})
	}

	quotes, err := s.fetchQuotes(ctx, log)
	if err != nil {
		s.releaseClaim(log, token)
		out.Outcome = models.SettlementOutcomeFailed
		s.record(ctx, log, out, trigger, token, started, err)
		return out, err
	}

	result := contest.Score(rows, quotes, s.policy())
	out.Unavailable = result.Unavailable
	out.Users = len(result.Users)

	settledAt := s.now()
	userIDs := make([]string, 0, len(result.Users))
	for id := range result.Users {
		userIDs = append(userIDs, id)
	}
	// Fixed order keeps concurrent settlements of different periods from deadlocking on stats rows.
	sort.Strings(userIDs)

	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.SettlePredictionsTx(ctx, tx, period.String(), token, result.Rows, settledAt); err != nil {
			return err
		}
		for _, id := range userIDs {
			mean := result.Users[id].Mean
			if err := s.Repo.UpdateUserStatsTx(ctx, tx, id, func(st contest.Stats) contest.Stats {
				return st.Apply(mean, settledAt, s.location())
			}); err != nil {
				return fmt.Errorf("update stats for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		s.releaseClaim(log, token)
		out.Outcome = models.SettlementOutcomeFailed
		if errors.Is(err, repository.ErrClaimLost) {
			out.Outcome = models.SettlementOutcomeInProgress
			s.record(ctx, log, out, trigger, token, started, err)
			return out, fmt.Errorf("%w: %v", contest.ErrSettlementInProgress, err)
		}
		s.record(ctx, log, out, trigger, token, started, err)
		return out, fmt.Errorf("write settlement: %w", err)
	}

	settled, unavailable := countStatuses(result.Rows)
	s.Metrics.Scored(string(contest.StatusSettled), settled)
	s.Metrics.Scored(string(contest.StatusUnavailable), unavailable)

	names := s.usernames(ctx, log, userIDs)
	out.Leaderboard = contest.BuildLeaderboard(period, result.Users, quotes, s.Assets, names, s.LeaderboardSize)
	out.Outcome = models.SettlementOutcomeSettled
	s.record(ctx, log, out, trigger, token, started, nil)

	if s.Notifier != nil {
		if err := s.Notifier.Results(ctx, out.Leaderboard); err != nil {
			log.Warn("publish results failed", zap.Error(err))
		}
	}
	return out, nil
}

// nothingClaimed separates an empty week from rows another runner still holds and from a week
// that was already settled.
func (s *SettlementService) nothingClaimed(ctx context.Context, log *zap.Logger, out *SettlementOutcome, trigger string, started time.Time) (*SettlementOutcome, error) {
	p := out.Period.String()
	pending := string(contest.StatusPending)
	stillPending, err := s.Repo.CountPredictions(ctx, repository.ListPredictionsParams{Period: &p, Status: &pending})
	if err != nil {
		out.Outcome = models.SettlementOutcomeFailed
		s.record(ctx, log, out, trigger, "", started, err)
		return out, err
	}
	if stillPending > 0 {
		out.Outcome = models.SettlementOutcomeInProgress
		s.record(ctx, log, out, trigger, "", started, nil)
		return out, contest.ErrSettlementInProgress
	}

	total, err := s.Repo.CountPredictions(ctx, repository.ListPredictionsParams{Period: &p})
	if err != nil {
		out.Outcome = models.SettlementOutcomeFailed
		s.record(ctx, log, out, trigger, "", started, err)
		return out, err
	}
	out.Outcome = models.SettlementOutcomeNoPredictions
	s.record(ctx, log, out, trigger, "", started, nil)
	if total > 0 {
		log.Info("period already settled", zap.Int64("rows", total))
		return out, nil
	}
	if s.Notifier != nil {
		if err := s.Notifier.NoPredictions(ctx, out.Period); err != nil {
			log.Warn("publish no predictions failed", zap.Error(err))
		}
	}
	return out, nil
}

// fetchQuotes asks the oracle for every tracked asset. A failed call degrades to "nothing
// available". Under the exclude policy a week where nothing is available is not settled at all,
// so the rows stay pending for a later run.
func (s *SettlementService) fetchQuotes(ctx context.Context, log *zap.Logger) (contest.Quotes, error) {
	qctx, cancel := context.WithTimeout(ctx, durationOr(s.OracleTimeout, defaultOracleTimeout))
	defer cancel()
	quotes, err := s.Oracle.Quotes(qctx, s.Assets)
	if err != nil {
		log.Warn("oracle unavailable", zap.Error(err))
		quotes = contest.Quotes{}
	}
	if s.policy() == contest.PolicyZero {
		return quotes, nil
	}
	for _, q := range quotes {
		if q.Available {
			return quotes, nil
		}
	}
	if err == nil {
		err = errors.New("oracle returned no prices")
	}
	return nil, fmt.Errorf("%w: %v", contest.ErrPriceUnavailable, err)
}

func (s *SettlementService) releaseClaim(log *zap.Logger, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := s.Repo.ReleaseClaim(ctx, token); err != nil {
		log.Error("release claim failed", zap.String("token", token), zap.Error(err))
	}
}

func (s *SettlementService) usernames(ctx context.Context, log *zap.Logger, userIDs []string) map[string]string {
	names := make(map[string]string, len(userIDs))
	items, err := s.Repo.ListUserStatsByIDs(ctx, userIDs)
	if err != nil {
		log.Warn("load usernames failed", zap.Error(err))
		return names
	}
	for _, item := range items {
		names[item.UserID] = item.Username
	}
	return names
}

// record writes the audit row and metrics for a finished run.
func (s *SettlementService) record(ctx context.Context, log *zap.Logger, out *SettlementOutcome, trigger, token string, started time.Time, runErr error) {
	finished := s.now()
	run := &models.SettlementRun{
		Period:     out.Period.String(),
		Trigger:    trigger,
		Outcome:    out.Outcome,
		ClaimToken: token,
		RowCount:   out.Rows,
		UserCount:  out.Users,
		StartedAt:  started,
		FinishedAt: &finished,
	}
	if len(out.Unavailable) > 0 {
		raw, _ := json.Marshal(out.Unavailable)
		run.Unavailable = datatypes.JSON(raw)
	}
	if runErr != nil {
		msg := runErr.Error()
		run.LastError = &msg
	}
	// The audit row must land even when the caller's context is already done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.Repo.InsertSettlementRun(wctx, run); err != nil {
		log.Warn("record settlement run failed", zap.Error(err))
	}
	out.RunID = run.ID

	seconds := 0.0
	if out.Rows > 0 {
		seconds = finished.Sub(started).Seconds()
	}
	s.Metrics.Settlement(out.Outcome, seconds)

	fields := []zap.Field{
		zap.String("outcome", out.Outcome),
		zap.Int("rows", out.Rows),
		zap.Int("users", out.Users),
		zap.Strings("unavailable", out.Unavailable),
		zap.Duration("took", finished.Sub(started)),
	}
	if runErr != nil {
		log.Error("settlement failed", append(fields, zap.Error(runErr))...)
		return
	}
	log.Info("settlement finished", fields...)
}

// Leaderboard rebuilds the results of an already settled period from the stored rows.
func (s *SettlementService) Leaderboard(ctx context.Context, period contest.Period) (*contest.Leaderboard, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("settlement service is not configured")
	}
	p := period.String()
	rows, err := allPredictions(ctx, s.Repo, repository.ListPredictionsParams{Period: &p})
	if err != nil {
		return nil, err
	}

	quotes := contest.Quotes{}
	users := map[string]*contest.UserResult{}
	sums := map[string]float64{}
	for _, row := range rows {
		if row.Status != string(contest.StatusSettled) || row.Actual == nil || row.Accuracy == nil {
			continue
		}
		quotes[row.Asset] = contest.Quote{Price: *row.Actual, Available: true}
		ur, ok := users[row.UserID]
		if !ok {
			ur = &contest.UserResult{UserID: row.UserID}
			users[row.UserID] = ur
		}
		actual := *row.Actual
		acc := *row.Accuracy
		ur.Assets = append(ur.Assets, contest.ScoredPrediction{
			UserID:    row.UserID,
			Asset:     row.Asset,
			Predicted: row.Predicted,
			Actual:    &actual,
			Accuracy:  &acc,
			Status:    contest.StatusSettled,
		})
		sums[row.UserID] += acc
	}
	ids := make([]string, 0, len(users))
	for id, ur := range users {
		ur.Mean = sums[id] / float64(len(ur.Assets))
		ids = append(ids, id)
	}
	names := s.usernames(ctx, s.logger(), ids)
	return contest.BuildLeaderboard(period, users, quotes, s.Assets, names, s.LeaderboardSize), nil
}

func countStatuses(rows []contest.ScoredPrediction) (settled, unavailable int) {
	for _, r := range rows {
		switch r.Status {
		case contest.StatusSettled:
			settled++
		case contest.StatusUnavailable:
			unavailable++
		}
	}
	return settled, unavailable
}

func (s *SettlementService) locker() lock.Locker {
	s.lockerOnce.Do(func() {
		if s.Locker == nil {
			s.Locker = lock.NewMemoryLocker()
		}
	})
	return s.Locker
}

func (s *SettlementService) policy() contest.UnavailablePolicy {
	if s.Policy == "" {
		return contest.PolicyExcludeAsset
	}
	return s.Policy
}

func (s *SettlementService) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *SettlementService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SettlementService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
