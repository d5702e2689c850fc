// Package echo exposes the diagnostics HTTP surface. Push registration
// failures never block app usage; this is the status surface they are
// visible through.
package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curaflow/appcore"
)

// DiagAPI struct to hold dependencies.
type DiagAPI struct {
	auth *appcore.AuthManager
	push *appcore.PushRegistrar
}

// NewDiagAPI initializes the diagnostics API.
func NewDiagAPI(auth *appcore.AuthManager, push *appcore.PushRegistrar) *DiagAPI {
	return &DiagAPI{auth: auth, push: push}
}

// RegisterRoutes registers the diagnostics routes.
func (d *DiagAPI) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/diag/session", d.SessionHandler)
	e.GET("/v1/diag/push", d.PushHandler)
	e.POST("/v1/diag/push/retry", d.PushRetryHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

type sessionDiag struct {
	State         string `json:"state"`
	Authenticated bool   `json:"authenticated"`
	SessionID     string `json:"sessionId,omitempty"`
}

// SessionHandler reports the boot state and session identity. Tokens are
// never exposed here.
func (d *DiagAPI) SessionHandler(c echo.Context) error {
	state := d.auth.BootState()
	out := sessionDiag{
		State:         state.String(),
		Authenticated: state == appcore.BootAuthenticated,
	}
	if sess, ok := d.auth.Session(); ok {
		out.SessionID = sess.SessionID
	}
	return c.JSON(http.StatusOK, out)
}

// PushHandler reports the push registration machine snapshot.
func (d *DiagAPI) PushHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, d.push.State())
}

// PushRetryHandler triggers the manual retry, which restarts the retry
// window and runs a fresh backoff cycle.
func (d *DiagAPI) PushRetryHandler(c echo.Context) error {
	// A failing cycle takes ~31s of backoff; don't hold the request open.
	go d.push.Retry(context.Background())
	return c.JSON(http.StatusAccepted, d.push.State())
}
