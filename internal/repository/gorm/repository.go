package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pricecontest/internal/contest"
	"pricecontest/internal/models"
	"pricecontest/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- submissions ------------------------------------------------------------

func (s *Store) InsertSubmission(ctx context.Context, sub *models.Submission, items []models.Prediction) error {
	if s == nil || s.db == nil || sub == nil {
		return nil
	}
	if len(items) == 0 {
		return fmt.Errorf("submission %s/%s has no predictions", sub.Period, sub.UserID)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return contest.ErrDuplicateSubmission
		}
		if err := tx.Create(&items).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return contest.ErrDuplicateSubmission
			}
			return err
		}
		return upsertUsername(tx, sub.UserID, sub.Username)
	})
}

func (s *Store) HasSubmission(ctx context.Context, period, userID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	var subs int64
	if err := s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("period = ? AND user_id = ?", period, userID).
		Count(&subs).Error; err != nil {
		return false, err
	}
	if subs > 0 {
		return true, nil
	}
	// Rows imported without a marker still count.
	var preds int64
	if err := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("period = ? AND user_id = ?", period, userID).
		Count(&preds).Error; err != nil {
		return false, err
	}
	return preds > 0, nil
}

func (s *Store) ListPredictions(ctx context.Context, params repository.ListPredictionsParams) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyPredictionFilters(s.db.WithContext(ctx).Model(&models.Prediction{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "user_id")
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.Prediction
	if err := query.Order("asset asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPredictions(ctx context.Context, params repository.ListPredictionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := applyPredictionFilters(s.db.WithContext(ctx).Model(&models.Prediction{}), params)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func applyPredictionFilters(query *gorm.DB, params repository.ListPredictionsParams) *gorm.DB {
	if params.Period != nil && strings.TrimSpace(*params.Period) != "" {
		query = query.Where("period = ?", strings.TrimSpace(*params.Period))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

// --- settlement -------------------------------------------------------------

func (s *Store) ClaimPending(ctx context.Context, period, token string, now, staleBefore time.Time) ([]models.Prediction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("claim token is required")
	}
	res := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("period = ? AND status = ?", period, string(contest.StatusPending)).
		Where("(claim_token IS NULL OR claimed_at < ?)", staleBefore).
		Updates(map[string]any{
			"claim_token": token,
			"claimed_at":  now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	var items []models.Prediction
	if err := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("period = ? AND claim_token = ? AND status = ?", period, token, string(contest.StatusPending)).
		Order("user_id asc").
		Order("asset asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ReleaseClaim(ctx context.Context, token string) (int64, error) {
	if s == nil || s.db == nil || strings.TrimSpace(token) == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Prediction{}).
		Where("claim_token = ? AND status = ?", token, string(contest.StatusPending)).
		Updates(map[string]any{
			"claim_token": nil,
			"claimed_at":  nil,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) SettlePredictionsTx(ctx context.Context, tx *gorm.DB, period, token string, rows []contest.ScoredPrediction, settledAt time.Time) error {
	if tx == nil {
		return errors.New("settle predictions requires a transaction")
	}
	for _, row := range rows {
		updates := map[string]any{
			"status":      string(row.Status),
			"settled_at":  settledAt,
			"claim_token": nil,
			"claimed_at":  nil,
		}
		if row.Actual != nil {
			updates["actual"] = *row.Actual
		}
		if row.Accuracy != nil {
			updates["accuracy"] = *row.Accuracy
		}
		res := tx.WithContext(ctx).
			Model(&models.Prediction{}).
			Where("period = ? AND user_id = ? AND asset = ?", period, row.UserID, row.Asset).
			Where("claim_token = ? AND status = ?", token, string(contest.StatusPending)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("prediction %s/%s/%s: %w", period, row.UserID, row.Asset, repository.ErrClaimLost)
		}
	}
	return nil
}

func (s *Store) UpdateUserStatsTx(ctx context.Context, tx *gorm.DB, userID string, fn func(contest.Stats) contest.Stats) error {
	if tx == nil {
		return errors.New("update user stats requires a transaction")
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	tx = tx.WithContext(ctx)
	seed := models.UserStats{
		UserID:              userID,
		Username:            userID,
		QuarterlyAccuracies: datatypes.JSON("{}"),
		YearlyAccuracies:    datatypes.JSON("{}"),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return err
	}

	var row models.UserStats
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&row).Error; err != nil {
		return err
	}
	current, err := row.ToStats()
	if err != nil {
		return fmt.Errorf("decode stats for %s: %w", userID, err)
	}
	if err := row.SetStats(fn(current)); err != nil {
		return fmt.Errorf("encode stats for %s: %w", userID, err)
	}
	return tx.Model(&models.UserStats{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"total_participations":      row.TotalParticipations,
			"lifetime_average_accuracy": row.LifetimeAverageAccuracy,
			"quarterly_accuracies":      row.QuarterlyAccuracies,
			"yearly_accuracies":         row.YearlyAccuracies,
		}).Error
}

func (s *Store) InsertSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) FinishSettlementRun(ctx context.Context, item *models.SettlementRun) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.SettlementRun{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"outcome":     item.Outcome,
			"claim_token": item.ClaimToken,
			"row_count":   item.RowCount,
			"user_count":  item.UserCount,
			"unavailable": item.Unavailable,
			"last_error":  item.LastError,
			"finished_at": item.FinishedAt,
		}).Error
}

func (s *Store) ListSettlementRuns(ctx context.Context, params repository.ListSettlementRunsParams) ([]models.SettlementRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SettlementRun{})
	if params.Period != nil && strings.TrimSpace(*params.Period) != "" {
		query = query.Where("period = ?", strings.TrimSpace(*params.Period))
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.SettlementRun
	if err := query.Order("started_at desc").Order("id desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- user stats -------------------------------------------------------------

func (s *Store) UpsertUsername(ctx context.Context, userID, username string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return upsertUsername(s.db.WithContext(ctx), userID, username)
}

func upsertUsername(db *gorm.DB, userID, username string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	username = strings.TrimSpace(username)
	item := &models.UserStats{
		UserID:              userID,
		Username:            username,
		QuarterlyAccuracies: datatypes.JSON("{}"),
		YearlyAccuracies:    datatypes.JSON("{}"),
	}
	if username == "" {
		item.Username = userID
		return db.Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetUserStats(ctx context.Context, userID string) (*models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.UserStats
	err := s.db.WithContext(ctx).Model(&models.UserStats{}).Where("user_id = ?", strings.TrimSpace(userID)).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListUserStatsByIDs(ctx context.Context, userIDs []string) ([]models.UserStats, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	ids := cleanStrings(userIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.UserStats
	if err := s.db.WithContext(ctx).
		Model(&models.UserStats{}).
		Where("user_id IN ?", ids).
		Order("user_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- system settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		pattern := strings.TrimSpace(*params.Prefix) + "%"
		query = query.Where("key LIKE ?", pattern)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		pattern := strings.TrimSpace(*params.Prefix) + "%"
		query = query.Where("key LIKE ?", pattern)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
