package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricecontest/internal/config"
	"pricecontest/internal/contest"
	"pricecontest/internal/db"
	"pricecontest/internal/lock"
	"pricecontest/internal/oracle"
	gormrepository "pricecontest/internal/repository/gorm"
	"pricecontest/internal/service"
)

var (
	et        = time.FixedZone("ET", -5*3600)
	fixedNow  = time.Date(2025, 2, 16, 20, 1, 0, 0, et)
	apiAssets = contest.AssetSet{{Symbol: "BTC", SourceID: "bitcoin"}, {Symbol: "ETH", SourceID: "ethereum"}}
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
}

func newRouter(t *testing.T, adminToken string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn, err := db.Open(config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "contest.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(conn) })
	require.NoError(t, db.AutoMigrate(conn))

	store := gormrepository.New(conn.Gorm)
	settings := &service.SystemSettingsService{Repo: store}
	require.NoError(t, settings.EnsureDefaultSwitches(context.Background()))
	now := func() time.Time { return fixedNow }
	settlement := &service.SettlementService{
		Repo:     store,
		Oracle:   oracle.NewStatic(map[string]decimal.Decimal{"BTC": decimal.NewFromInt(110), "ETH": decimal.NewFromInt(50)}),
		Locker:   lock.NewMemoryLocker(),
		Assets:   apiAssets,
		Location: et,
		Now:      now,
	}
	window := &service.WindowService{Settings: settings, Settlement: settlement, Location: et, Now: now}
	submission := &service.SubmissionService{Repo: store, Settings: settings, Assets: apiAssets, Location: et, Now: now}

	r := gin.New()
	r.Use(RequireBearer(adminToken))
	(&HealthHandler{DB: conn.Gorm, Window: window}).Register(r)
	(&ContestHandler{
		Repo:       store,
		Window:     window,
		Submission: submission,
		Settlement: settlement,
		Stats:      &service.StatsService{Repo: store},
	}).Register(r)
	(&SystemSettingsHandler{Settings: settings}).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w.Code, env
}

func submitBody(user string, preds map[string]string) map[string]any {
	return map[string]any{"user_id": user, "username": "name-" + user, "predictions": preds}
}

func TestContestFlow(t *testing.T) {
	r := newRouter(t, "")

	code, env := do(t, r, http.MethodPost, "/api/v1/predictions", submitBody("u1", map[string]string{"BTC": "100", "ETH": "50"}))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, env.Message, "closed")

	code, env = do(t, r, http.MethodPost, "/api/v1/window/open", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"open":true,"changed":true}`, string(env.Data))

	code, _ = do(t, r, http.MethodPost, "/api/v1/predictions", submitBody("u1", map[string]string{"BTC": "100", "ETH": "50"}))
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/predictions", submitBody("u1", map[string]string{"BTC": "1", "ETH": "1"}))
	assert.Equal(t, http.StatusConflict, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/predictions", submitBody("u2", map[string]string{"BTC": "abc", "ETH": "1"}))
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/predictions?period=2025-02-10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, env.Meta["total"])

	code, env = do(t, r, http.MethodPost, "/api/v1/settlements/run", nil)
	require.Equal(t, http.StatusOK, code)
	var out service.SettlementOutcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "settled", out.Outcome)
	assert.Equal(t, contest.Period("2025-02-10"), out.Period)

	code, env = do(t, r, http.MethodGet, "/api/v1/leaderboard?period=2025-02-10", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, env.Meta["text"], "#1 name-u1")

	code, env = do(t, r, http.MethodGet, "/api/v1/users/u1/stats", nil)
	require.Equal(t, http.StatusOK, code)
	var stats service.UserStatsView
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.TotalParticipations)
	assert.InDelta(t, 95.4545, stats.LifetimeAverageAccuracy, 1e-3)

	code, _ = do(t, r, http.MethodGet, "/api/v1/users/nobody/stats", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/settlements", nil)
	require.Equal(t, http.StatusOK, code)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 1)

	code, _ = do(t, r, http.MethodGet, "/api/v1/leaderboard?period=2025-02-11", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReadyz(t *testing.T) {
	r := newRouter(t, "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, false, body["window_open"])
	assert.Equal(t, "2025-02-10", body["period"])
}

func TestSwitches(t *testing.T) {
	r := newRouter(t, "")
	code, env := do(t, r, http.MethodPut, "/api/v1/settings/switches/schedule_settle", map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"name":"schedule_settle","key":"feature.schedule_settle","enabled":false}`, string(env.Data))

	code, _ = do(t, r, http.MethodPut, "/api/v1/settings/switches/catalog_sync", map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, r, http.MethodPut, "/api/v1/settings/switches/schedule_open", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodGet, "/api/v1/settings/switches", nil)
	require.Equal(t, http.StatusOK, code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 3)
	assert.Equal(t, "schedule_settle", items[2]["name"])
	assert.Equal(t, false, items[2]["enabled"])
}

func TestRequireBearer(t *testing.T) {
	r := newRouter(t, "s3cret")
	code, _ := do(t, r, http.MethodPost, "/api/v1/window/open", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/window/open", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = do(t, r, http.MethodPost, "/api/v1/window/open", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, r, http.MethodGet, "/api/v1/window", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&contest.InputError{Asset: "BTC", Reason: "bad"}, http.StatusBadRequest},
		{contest.ErrWindowClosed, http.StatusForbidden},
		{fmt.Errorf("wrap: %w", contest.ErrDuplicateSubmission), http.StatusConflict},
		{contest.ErrSettlementInProgress, http.StatusConflict},
		{contest.ErrPriceUnavailable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v)=%d want=%d", tc.err, got, tc.want)
		}
	}
}
