package echo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curaflow/appcore"
	"github.com/curaflow/appcore/device"
	"github.com/curaflow/appcore/store"
)

func newDiagServer(t *testing.T) *echo.Echo {
	t.Helper()

	st := store.NewMemoryStore()
	auth := appcore.NewAuthManager("http://127.0.0.1:1", st)
	t.Cleanup(auth.Close)
	push := appcore.NewPushRegistrar(auth, st, device.NewProvider(st))
	t.Cleanup(push.Stop)

	e := echo.New()
	NewDiagAPI(auth, push).RegisterRoutes(e)
	return e
}

func TestSessionDiagBeforeBootstrap(t *testing.T) {
	e := newDiagServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diag/session", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bootstrapping", body["state"])
	assert.Equal(t, false, body["authenticated"])
}

func TestPushDiagSnapshot(t *testing.T) {
	e := newDiagServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diag/push", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var state appcore.PushState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, appcore.StatusIdle, state.Status)
	assert.Equal(t, 0, state.Attempts)
	assert.False(t, state.MaxWindowExceeded)
}

func TestPushRetryAccepted(t *testing.T) {
	e := newDiagServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/diag/push/retry", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// A manual retry always clears the paused marker, even with no token
	// tracked yet.
	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diag/push", nil))
		var state appcore.PushState
		if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
			return false
		}
		return state.Status == appcore.StatusRegistering && !state.MaxWindowExceeded
	}, time.Second, 5*time.Millisecond)
}

func TestMetricsExposed(t *testing.T) {
	e := newDiagServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
