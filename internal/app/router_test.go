package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/moshano/autobot/internal/adapter/httpserver"
	"github.com/moshano/autobot/internal/config"
	"github.com/moshano/autobot/internal/domain"
	"github.com/moshano/autobot/internal/usecase"
)

type stubStatus struct{}

func (stubStatus) ListRunning() []domain.WorkerStatus { return nil }

type stubAlerts struct{}

func (stubAlerts) Status() usecase.MonitorStatus { return usecase.MonitorStatus{} }

func testConfig() config.Config {
	return config.Config{
		CORSAllowOrigins: "*",
		RateLimitPerMin:  60,
	}
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		ParseOrigins(" https://a.example , https://b.example "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , ,"))
}

func TestRouterServesOpsEndpoints(t *testing.T) {
	t.Parallel()

	srv := httpserver.NewServer(stubStatus{}, stubAlerts{},
		httpserver.ReadyCheck{Name: "store", Check: func(ctx context.Context) error { return nil }},
	)
	h := BuildRouter(testConfig(), srv)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/status", "/v1/alerts"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterSetsRequestIDAndHeaders(t *testing.T) {
	t.Parallel()

	h := BuildRouter(testConfig(), httpserver.NewServer(stubStatus{}, stubAlerts{}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouterUnknownRoute(t *testing.T) {
	t.Parallel()

	h := BuildRouter(testConfig(), httpserver.NewServer(stubStatus{}, stubAlerts{}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/upload", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
