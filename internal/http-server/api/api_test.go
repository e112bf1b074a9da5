package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"invitegate/entity"
	"invitegate/internal/config"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "test-api-key-123"

type fakeHandler struct {
	mu        sync.Mutex
	running   bool
	bulkUsers []int64
	regen     bool
	banned    []int64
	healthErr error
}

func (f *fakeHandler) Health(context.Context) error { return f.healthErr }

func (f *fakeHandler) Overview(context.Context) (entity.Overview, error) {
	return entity.Overview{ActiveChannels: 2, TotalUsers: 10}, nil
}

func (f *fakeHandler) GeneratorStats() linkgen.Stats { return linkgen.Stats{Created: 4} }

func (f *fakeHandler) CleanupStats(context.Context) (entity.CleanupStats, error) {
	return entity.CleanupStats{}, nil
}

func (f *fakeHandler) ChannelPerformance(_ context.Context, channelId int64, days int) (entity.ChannelPerformance, error) {
	return entity.ChannelPerformance{}, nil
}

func (f *fakeHandler) RunMaintenance(context.Context) (maintenance.Report, error) {
	return maintenance.Report{Channels: 1}, nil
}

func (f *fakeHandler) EmergencyCleanup(context.Context) (maintenance.Report, error) {
	return maintenance.Report{Emergency: true}, nil
}

func (f *fakeHandler) Bulk(userIds []int64, _ func(linkgen.BulkReport, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return linkgen.ErrBulkRunning
	}
	f.running = true
	f.bulkUsers = userIds
	return nil
}

func (f *fakeHandler) RegenerateAll(_ func(linkgen.BulkReport, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regen = true
	return nil
}

func (f *fakeHandler) AbortBulk() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.running = false
	return was
}

func (f *fakeHandler) BulkProgress() (linkgen.BulkReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return linkgen.BulkReport{Id: "job"}, f.running
}

func (f *fakeHandler) BanUser(_ context.Context, userId int64) (int64, error) {
	f.banned = append(f.banned, userId)
	return 2, nil
}

func (f *fakeHandler) UnbanUser(context.Context, int64) error { return nil }

func (f *fakeHandler) LinkHistory(context.Context, int64) ([]*entity.LinkHistoryItem, error) {
	return nil, nil
}

type result struct {
	Data          json.RawMessage `json:"data"`
	Success       bool            `json:"success"`
	StatusMessage string          `json:"status_message"`
}

func newRouter(h *fakeHandler) http.Handler {
	conf := &config.Config{}
	conf.Listen.ApiKey = apiKey
	return NewRouter(conf, slog.New(slog.NewTextHandler(io.Discard, nil)), h)
}

func do(t *testing.T, router http.Handler, method, path, body string, auth bool) (int, result) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if auth {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var res result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func TestHealth(t *testing.T) {
	h := &fakeHandler{}
	router := newRouter(h)

	code, res := do(t, router, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)

	h.healthErr = errors.New("database is locked")
	code, res = do(t, router, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, res.Success)
}

func TestAuthentication(t *testing.T) {
	router := newRouter(&fakeHandler{})

	code, _ := do(t, router, http.MethodGet, "/v1/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code, res := do(t, router, http.MethodGet, "/v1/stats", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"generator"`)
}

func TestEmptyApiKeyClosesRoutes(t *testing.T) {
	router := NewRouter(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), &fakeHandler{})
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaintenance(t *testing.T) {
	router := newRouter(&fakeHandler{})

	code, res := do(t, router, http.MethodPost, "/v1/maintenance/run", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"channels":1`)

	code, res = do(t, router, http.MethodPost, "/v1/maintenance/emergency", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(res.Data), `"emergency":true`)
}

func TestBulk(t *testing.T) {
	h := &fakeHandler{}
	router := newRouter(h)

	code, _ := do(t, router, http.MethodGet, "/v1/bulk", "", true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, router, http.MethodPost, "/v1/bulk", `{"user_ids":[1,2]}`, true)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, []int64{1, 2}, h.bulkUsers)

	code, _ = do(t, router, http.MethodPost, "/v1/bulk", "", true)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodGet, "/v1/bulk", "", true)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodDelete, "/v1/bulk", "", true)
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodDelete, "/v1/bulk", "", true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, router, http.MethodPost, "/v1/bulk", `{"user_ids":[-1]}`, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodPost, "/v1/bulk", `{"regenerate":true}`, true)
	assert.Equal(t, http.StatusAccepted, code)
	assert.True(t, h.regen)
}

func TestUsers(t *testing.T) {
	h := &fakeHandler{}
	router := newRouter(h)

	code, res := do(t, router, http.MethodPost, "/v1/users/42/ban", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"user_id":42,"deactivated":2}`, string(res.Data))
	assert.Equal(t, []int64{42}, h.banned)

	code, _ = do(t, router, http.MethodDelete, "/v1/users/42/ban", "", true)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodPost, "/v1/users/abc/ban", "", true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestChannelStatsValidation(t *testing.T) {
	router := newRouter(&fakeHandler{})

	code, _ := do(t, router, http.MethodGet, "/v1/stats/channel/1?days=7", "", true)
	assert.Equal(t, http.StatusOK, code)

	code, _ = do(t, router, http.MethodGet, "/v1/stats/channel/1?days=0", "", true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodGet, "/v1/nothing", "", true)
	assert.Equal(t, http.StatusNotFound, code)
}
