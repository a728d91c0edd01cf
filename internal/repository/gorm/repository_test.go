package gormrepository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pricecontest/internal/config"
	"pricecontest/internal/contest"
	"pricecontest/internal/db"
	"pricecontest/internal/models"
	"pricecontest/internal/repository"
)

const period = "2025-02-10"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "contest.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))
	return New(conn.Gorm)
}

func submission(userID string, prices map[string]string) (*models.Submission, []models.Prediction) {
	sub := &models.Submission{Period: period, UserID: userID, Username: "name-" + userID, Assets: len(prices)}
	items := make([]models.Prediction, 0, len(prices))
	for asset, p := range prices {
		items = append(items, models.Prediction{
			Period:    period,
			UserID:    userID,
			Asset:     asset,
			Predicted: decimal.RequireFromString(p),
			Status:    string(contest.StatusPending),
		})
	}
	return sub, items
}

func TestInsertSubmission_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub, items := submission("u1", map[string]string{"BTC": "100", "ETH": "50"})
	require.NoError(t, store.InsertSubmission(ctx, sub, items))

	ok, err := store.HasSubmission(ctx, period, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A different asset set for the same user and period is still a duplicate.
	sub2, items2 := submission("u1", map[string]string{"SOL": "10"})
	err = store.InsertSubmission(ctx, sub2, items2)
	require.ErrorIs(t, err, contest.ErrDuplicateSubmission)

	total, err := store.CountPredictions(ctx, repository.ListPredictionsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	stats, err := store.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "name-u1", stats.Username)
	assert.Equal(t, 0, stats.TotalParticipations)
}

func TestInsertSubmission_ConcurrentSameUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, items := submission("u1", map[string]string{"BTC": "100", "ETH": "50"})
			errs[i] = store.InsertSubmission(ctx, sub, items)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, contest.ErrDuplicateSubmission)
	}
	assert.Equal(t, 1, ok)
	total, err := store.CountPredictions(ctx, repository.ListPredictionsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestClaimPending_Exclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sub, items := submission("u1", map[string]string{"BTC": "100", "ETH": "50"})
	require.NoError(t, store.InsertSubmission(ctx, sub, items))

	now := time.Now().UTC()
	first, err := store.ClaimPending(ctx, period, "tok-1", now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "BTC", first[0].Asset)

	second, err := store.ClaimPending(ctx, period, "tok-2", now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second)

	// A claim older than the stale cutoff can be taken over.
	later := now.Add(time.Hour)
	third, err := store.ClaimPending(ctx, period, "tok-3", later, later.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, third, 2)

	n, err := store.ReleaseClaim(ctx, "tok-3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	again, err := store.ClaimPending(ctx, period, "tok-4", later, later.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestSettleAndStats_Atomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sub, items := submission("u1", map[string]string{"BTC": "100", "ETH": "50"})
	require.NoError(t, store.InsertSubmission(ctx, sub, items))

	now := time.Date(2025, 2, 16, 20, 1, 0, 0, time.UTC)
	claimed, err := store.ClaimPending(ctx, period, "tok", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	actual := decimal.NewFromInt(110)
	acc := 90.9
	rows := []contest.ScoredPrediction{
		{UserID: "u1", Asset: "BTC", Predicted: decimal.NewFromInt(100), Actual: &actual, Accuracy: &acc, Status: contest.StatusSettled},
		{UserID: "u1", Asset: "ETH", Predicted: decimal.NewFromInt(50), Status: contest.StatusUnavailable},
	}

	// A failing stats update rolls the row write-back back too.
	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.SettlePredictionsTx(ctx, tx, period, "tok", rows, now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	pending := string(contest.StatusPending)
	stillPending, err := store.CountPredictions(ctx, repository.ListPredictionsParams{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stillPending)

	err = store.InTx(ctx, func(tx *gorm.DB) error {
		if err := store.SettlePredictionsTx(ctx, tx, period, "tok", rows, now); err != nil {
			return err
		}
		return store.UpdateUserStatsTx(ctx, tx, "u1", func(s contest.Stats) contest.Stats {
			return s.Apply(acc, now, time.UTC)
		})
	})
	require.NoError(t, err)

	p := period
	got, err := store.ListPredictions(ctx, repository.ListPredictionsParams{Period: &p, Asc: boolPtr(true)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, string(contest.StatusSettled), got[0].Status)
	require.NotNil(t, got[0].Actual)
	assert.True(t, got[0].Actual.Equal(actual))
	assert.Nil(t, got[0].ClaimToken)
	assert.Equal(t, string(contest.StatusUnavailable), got[1].Status)
	assert.Nil(t, got[1].Actual)

	stats, err := store.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalParticipations)
	assert.InDelta(t, 90.9, stats.LifetimeAverageAccuracy, 1e-9)
	decoded, err := stats.ToStats()
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Quarterly["2025-Q1"].Count)
	assert.Equal(t, 1, decoded.Yearly["2025"].Count)

	// The same token cannot settle the rows twice.
	err = store.InTx(ctx, func(tx *gorm.DB) error {
		return store.SettlePredictionsTx(ctx, tx, period, "tok", rows, now)
	})
	require.ErrorIs(t, err, repository.ErrClaimLost)
}

func TestUpdateUserStatsTx_CreatesPlaceholder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	for _, v := range []float64{80, 100} {
		v := v
		require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
			return store.UpdateUserStatsTx(ctx, tx, "ghost", func(s contest.Stats) contest.Stats {
				return s.Apply(v, at, time.UTC)
			})
		}))
	}
	stats, err := store.GetUserStats(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", stats.Username)
	assert.Equal(t, 2, stats.TotalParticipations)
	assert.InDelta(t, 90, stats.LifetimeAverageAccuracy, 1e-9)

	list, err := store.ListUserStatsByIDs(ctx, []string{"ghost", " ", "ghost", "nobody"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSettlementRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := &models.SettlementRun{Period: period, Trigger: "schedule", Outcome: models.SettlementOutcomeInProgress, StartedAt: time.Now().UTC()}
	require.NoError(t, store.InsertSettlementRun(ctx, run))
	require.NotZero(t, run.ID)

	finished := time.Now().UTC()
	run.Outcome = models.SettlementOutcomeSettled
	run.RowCount = 4
	run.UserCount = 2
	run.FinishedAt = &finished
	require.NoError(t, store.FinishSettlementRun(ctx, run))

	p := period
	runs, err := store.ListSettlementRuns(ctx, repository.ListSettlementRunsParams{Period: &p})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SettlementOutcomeSettled, runs[0].Outcome)
	assert.Equal(t, 4, runs[0].RowCount)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestSystemSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertSystemSetting(ctx, &models.SystemSetting{Key: "feature.schedule_open", Value: []byte("true")}))
	require.NoError(t, store.UpsertSystemSetting(ctx, &models.SystemSetting{Key: "feature.schedule_open", Value: []byte("false")}))
	require.NoError(t, store.UpsertSystemSetting(ctx, &models.SystemSetting{Key: "window.state", Value: []byte(`{"open":true}`)}))

	item, err := store.GetSystemSettingByKey(ctx, "feature.schedule_open")
	require.NoError(t, err)
	assert.JSONEq(t, "false", string(item.Value))

	missing, err := store.GetSystemSettingByKey(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	prefix := "feature."
	items, err := store.ListSystemSettings(ctx, repository.ListSystemSettingsParams{Prefix: &prefix})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	total, err := store.CountSystemSettings(ctx, repository.ListSystemSettingsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func boolPtr(v bool) *bool { return &v }
