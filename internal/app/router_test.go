package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrochem/erp/internal/observability"
	"github.com/ferrochem/erp/internal/shared"
)

func TestHealthzReportsDependencies(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger:  discardLogger(),
		Config:  &Config{RateLimitPerMinute: 100},
		Metrics: observability.NewMetrics(),
		Health: map[string]HealthChecker{
			"postgres": HealthFunc(func(ctx context.Context) error { return nil }),
		},
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok","postgres":"up"}`, rr.Body.String())

	router = NewRouter(RouterParams{
		Logger: discardLogger(),
		Health: map[string]HealthChecker{
			"redis": HealthFunc(func(ctx context.Context) error { return errors.New("refused") }),
		},
	})
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, int64(42), seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
