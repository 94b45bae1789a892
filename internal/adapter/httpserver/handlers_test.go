package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/internal/usecase"
)

type stubStatusSource struct {
	statuses []domain.WorkerStatus
}

func (s *stubStatusSource) ListRunning() []domain.WorkerStatus { return s.statuses }

type stubAlertsSource struct {
	status usecase.MonitorStatus
}

func (s *stubAlertsSource) Status() usecase.MonitorStatus { return s.status }

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubStatusSource{}, &stubAlertsSource{})
	rec := httptest.NewRecorder()
	srv.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzAllChecksPass(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubStatusSource{}, &stubAlertsSource{},
		ReadyCheck{Name: "store", Check: func(ctx context.Context) error { return nil }},
		ReadyCheck{Name: "telegram", Check: func(ctx context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestReadyzNamesFailures(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubStatusSource{}, &stubAlertsSource{},
		ReadyCheck{Name: "store", Check: func(ctx context.Context) error { return nil }},
		ReadyCheck{Name: "telegram", Check: func(ctx context.Context) error { return errors.New("getMe: status 401") }},
	)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Status   string            `json:"status"`
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Contains(t, body.Failures, "telegram")
	assert.NotContains(t, body.Failures, "store")
}

func TestStatusListsWorkers(t *testing.T) {
	t.Parallel()

	uploaded := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	srv := NewServer(&stubStatusSource{statuses: []domain.WorkerStatus{
		{
			Alias: "acme_tmb", Bank: "TMB", State: domain.WorkerSteady,
			LastBalance: "₹72,500.00 CR", LastUploadAt: uploaded,
			StartedAt: uploaded.Add(-time.Hour), RunID: "run-1",
		},
		{Alias: "acme_kgb", Bank: "KGB", State: domain.WorkerLoggingIn, StartedAt: uploaded},
	}}, &stubAlertsSource{})

	rec := httptest.NewRecorder()
	srv.StatusHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Workers []map[string]any `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Workers, 2)
	assert.Equal(t, "acme_tmb", body.Workers[0]["alias"])
	assert.Equal(t, "steady", body.Workers[0]["state"])
	assert.Equal(t, "₹72,500.00 CR", body.Workers[0]["last_balance"])
	assert.NotEmpty(t, body.Workers[0]["last_upload_at"])
	// No upload yet: the field is omitted rather than zero-valued.
	assert.NotContains(t, body.Workers[1], "last_upload_at")
	assert.NotContains(t, body.Workers[1], "last_balance")
}

func TestStatusEmpty(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubStatusSource{}, &stubAlertsSource{})
	rec := httptest.NewRecorder()
	srv.StatusHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"workers":[]}`, rec.Body.String())
}

func TestAlertsSnapshot(t *testing.T) {
	t.Parallel()

	srv := NewServer(&stubStatusSource{}, &stubAlertsSource{status: usecase.MonitorStatus{
		Targets:        2,
		CheckInterval:  3 * time.Minute,
		RepeatInterval: 5 * time.Minute,
		ActiveAlerts:   1,
		TotalTriggered: 4,
	}})
	rec := httptest.NewRecorder()
	srv.AlertsHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/alerts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"targets": 2,
		"check_interval": "3m0s",
		"repeat_interval": "5m0s",
		"active_alerts": 1,
		"total_triggered": 4
	}`, rec.Body.String())
}

func TestWriteErrorMapsSentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
		{domain.ErrUnsupportedBank, http.StatusUnprocessableEntity, "UNSUPPORTED_BANK"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.code)
		var env errorEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, tc.code, env.Error.Code)
	}
}
