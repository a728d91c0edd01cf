package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"pricecontest/internal/contest"
	"pricecontest/internal/models"
)

// ErrClaimLost means a row claimed by a settlement run was taken over or settled by another run.
var ErrClaimLost = errors.New("settlement claim lost")

// Repository is the storage contract of the contest: predictions, per-user stats, settlement audit
// and persisted settings. Methods ending in Tx run inside a transaction opened with InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Submissions
	// InsertSubmission stores the marker row and every prediction atomically. It returns
	// contest.ErrDuplicateSubmission when the user already has a submission for the period.
	InsertSubmission(ctx context.Context, sub *models.Submission, items []models.Prediction) error
	HasSubmission(ctx context.Context, period, userID string) (bool, error)
	ListPredictions(ctx context.Context, params ListPredictionsParams) ([]models.Prediction, error)
	CountPredictions(ctx context.Context, params ListPredictionsParams) (int64, error)

	// Settlement
	// ClaimPending stamps token on every pending, unclaimed (or stale-claimed) row of the period
	// and returns the rows now owned by token.
	ClaimPending(ctx context.Context, period, token string, now, staleBefore time.Time) ([]models.Prediction, error)
	ReleaseClaim(ctx context.Context, token string) (int64, error)
	SettlePredictionsTx(ctx context.Context, tx *gorm.DB, period, token string, rows []contest.ScoredPrediction, settledAt time.Time) error
	// UpdateUserStatsTx loads (or creates) the user's stats under a row lock, applies fn, and stores
	// lifetime, quarterly and yearly values together.
	UpdateUserStatsTx(ctx context.Context, tx *gorm.DB, userID string, fn func(contest.Stats) contest.Stats) error

	InsertSettlementRun(ctx context.Context, item *models.SettlementRun) error
	FinishSettlementRun(ctx context.Context, item *models.SettlementRun) error
	ListSettlementRuns(ctx context.Context, params ListSettlementRunsParams) ([]models.SettlementRun, error)

	// User stats
	UpsertUsername(ctx context.Context, userID, username string) error
	GetUserStats(ctx context.Context, userID string) (*models.UserStats, error)
	ListUserStatsByIDs(ctx context.Context, userIDs []string) ([]models.UserStats, error)

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

type ListPredictionsParams struct {
	Limit   int
	Offset  int
	Period  *string
	UserID  *string
	Status  *string
	OrderBy string
	Asc     *bool
}

type ListSettlementRunsParams struct {
	Limit  int
	Offset int
	Period *string
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}
