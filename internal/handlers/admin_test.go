package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediagate/internal/stats"
)

func newAdminRouter(t *testing.T) (chi.Router, *stats.Store) {
	t.Helper()
	store, err := stats.Open(filepath.Join(t.TempDir(), "stats.json"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewAdminHandler(store)
	r := chi.NewRouter()
	r.Get("/v1/admin/violators", h.TopViolators)
	r.Get("/v1/admin/users/{user}", h.UserStats)
	return r, store
}

func TestTopViolators(t *testing.T) {
	r, store := newAdminRouter(t)

	for i := 0; i < 10; i++ {
		store.RecordRequest("alice")
	}
	store.RecordViolation("alice")
	for i := 0; i < 10; i++ {
		store.RecordRequest("mallory")
	}
	for i := 0; i < 6; i++ {
		store.RecordViolation("mallory")
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/violators?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp violatorsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Violators, 1)
	assert.Equal(t, "mallory", resp.Violators[0].User)
	assert.InDelta(t, 0.6, resp.Violators[0].Rate, 1e-9)
}

func TestTopViolatorsRejectsBadLimit(t *testing.T) {
	r, _ := newAdminRouter(t)

	for _, raw := range []string{"0", "-3", "ten"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/violators?limit="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", raw)
	}
}

func TestUserStats(t *testing.T) {
	r, store := newAdminRouter(t)

	store.RecordRequest("alice")
	store.RecordRequest("alice")
	store.RecordViolation("alice")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/users/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		User  string          `json:"user"`
		Stats stats.UserStats `json:"stats"`
		Rate  float64         `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.User)
	assert.EqualValues(t, 2, resp.Stats.Requests)
	assert.EqualValues(t, 1, resp.Stats.Violations)
	assert.InDelta(t, 0.5, resp.Rate, 1e-9)
}

func TestUserStatsUnknownUserIsZero(t *testing.T) {
	r, _ := newAdminRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/users/nobody", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats stats.UserStats `json:"stats"`
		Rate  float64         `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, stats.UserStats{}, resp.Stats)
	assert.Zero(t, resp.Rate)
}
