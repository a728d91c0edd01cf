package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"pricecontest/internal/contest"
	"pricecontest/internal/metrics"
	"pricecontest/internal/models"
	"pricecontest/internal/repository"
)

type SubmitRequest struct {
	UserID      string
	Username    string
	Predictions map[string]string
}

type SubmitResult struct {
	Period      contest.Period    `json:"period"`
	UserID      string            `json:"user_id"`
	Predictions map[string]string `json:"predictions"`
}

type SubmissionService struct {
	Repo     repository.Repository
	Settings *SystemSettingsService
	Assets   contest.AssetSet
	Location *time.Location
	Metrics  *metrics.Registry
	Logger   *zap.Logger
	Now      func() time.Time
}

// Submit stores one user's full batch for the current period. The batch is rejected as a whole on
// bad input, while the window is closed, or when the user already submitted this period.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("submission service is not configured")
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		s.Metrics.Submission("invalid")
		return nil, &contest.InputError{Reason: "user id is required"}
	}

	st, err := s.Settings.WindowState(ctx)
	if err != nil {
		return nil, err
	}
	if !st.Open {
		s.Metrics.Submission("window_closed")
		return nil, contest.ErrWindowClosed
	}

	prices, err := s.Assets.ParseBatch(req.Predictions)
	if err != nil {
		s.Metrics.Submission("invalid")
		return nil, err
	}

	period := contest.PeriodFor(s.now(), s.location())
	symbols := make([]string, 0, len(prices))
	for sym := range prices {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	items := make([]models.Prediction, 0, len(prices))
	out := &SubmitResult{Period: period, UserID: userID, Predictions: map[string]string{}}
	for _, sym := range symbols {
		items = append(items, models.Prediction{
			Period:    period.String(),
			UserID:    userID,
			Asset:     sym,
			Predicted: prices[sym],
			Status:    string(contest.StatusPending),
		})
		out.Predictions[sym] = prices[sym].String()
	}
	sub := &models.Submission{
		Period:   period.String(),
		UserID:   userID,
		Username: strings.TrimSpace(req.Username),
		Assets:   len(items),
	}

	log := s.logger().With(zap.String("period", period.String()), zap.String("user_id", userID))
	if err := s.Repo.InsertSubmission(ctx, sub, items); err != nil {
		if errors.Is(err, contest.ErrDuplicateSubmission) {
			s.Metrics.Submission("duplicate")
			log.Info("duplicate submission rejected")
			return nil, err
		}
		s.Metrics.Submission("error")
		log.Error("store submission failed", zap.Error(err))
		return nil, err
	}
	s.Metrics.Submission("accepted")
	log.Info("predictions saved", zap.Int("assets", len(items)))
	return out, nil
}

// HasSubmitted is an advisory pre-check for the current period. Submit enforces uniqueness itself.
func (s *SubmissionService) HasSubmitted(ctx context.Context, userID string) (bool, error) {
	if s == nil || s.Repo == nil {
		return false, nil
	}
	return s.Repo.HasSubmission(ctx, s.CurrentPeriod().String(), strings.TrimSpace(userID))
}

// PendingFor lists the rows of period that still wait for an actual price.
func (s *SubmissionService) PendingFor(ctx context.Context, period contest.Period) ([]contest.PendingPrediction, error) {
	p := period.String()
	pending := string(contest.StatusPending)
	rows, err := allPredictions(ctx, s.Repo, repository.ListPredictionsParams{Period: &p, Status: &pending})
	if err != nil {
		return nil, err
	}
	out := make([]contest.PendingPrediction, 0, len(rows))
	for _, r := range rows {
		out = append(out, contest.PendingPrediction{UserID: r.UserID, Asset: r.Asset, Predicted: r.Predicted})
	}
	return out, nil
}

func (s *SubmissionService) List(ctx context.Context, params repository.ListPredictionsParams) ([]models.Prediction, int64, error) {
	items, err := s.Repo.ListPredictions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountPredictions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *SubmissionService) CurrentPeriod() contest.Period {
	return contest.PeriodFor(s.now(), s.location())
}

func (s *SubmissionService) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *SubmissionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SubmissionService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
