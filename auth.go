// Package appcore implements the client-side session lifecycle and the push
// registration reliability engine for the Curaflow backend: token
// acquisition, proactive renewal, single-flight refresh, authenticated
// request replay, and durable push-token registration with bounded backoff.
package appcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/curaflow/appcore/internal/metrics"
	"github.com/curaflow/appcore/store"
)

// BootState is the three-valued startup state. Until bootstrap completes the
// process is neither authenticated nor unauthenticated and callers must not
// treat it as either.
type BootState int

const (
	BootPending BootState = iota
	BootAuthenticated
	BootUnauthenticated
)

func (b BootState) String() string {
	switch b {
	case BootAuthenticated:
		return "authenticated"
	case BootUnauthenticated:
		return "unauthenticated"
	default:
		return "bootstrapping"
	}
}

const (
	defaultRefreshLead     = 60 * time.Second
	defaultMinRefreshDelay = 5 * time.Second
)

// AuthManager owns the session lifecycle: sign-in, sign-out, scheduled and
// forced refresh, and the authenticated request wrapper every downstream
// consumer goes through. It holds at most one armed refresh timer and allows
// at most one refresh call in flight.
type AuthManager struct {
	baseURL  string
	platform string
	http     *http.Client
	store    store.Store
	sessions *SessionStore

	// Serializes refreshes; concurrent callers share one outcome so a
	// rotating refresh token is never spent twice.
	refreshGroup singleflight.Group

	timerMu      sync.Mutex
	refreshTimer *time.Timer

	leadTime time.Duration
	minDelay time.Duration
	now      func() time.Time

	bootMu sync.RWMutex
	boot   BootState
}

// AuthOption customizes an AuthManager.
type AuthOption func(*AuthManager)

// WithHTTPClient sets the HTTP transport used for all calls.
func WithHTTPClient(c *http.Client) AuthOption {
	return func(m *AuthManager) { m.http = c }
}

// WithPlatform sets the platform reported on push (un)registration.
func WithPlatform(p string) AuthOption {
	return func(m *AuthManager) { m.platform = p }
}

// WithRefreshLeadTime sets how long before token expiry the proactive
// refresh fires.
func WithRefreshLeadTime(d time.Duration) AuthOption {
	return func(m *AuthManager) { m.leadTime = d }
}

// WithMinRefreshDelay sets the lower clamp on the proactive refresh delay.
func WithMinRefreshDelay(d time.Duration) AuthOption {
	return func(m *AuthManager) { m.minDelay = d }
}

// NewAuthManager creates an AuthManager persisting into st. baseURL must not
// have a trailing slash.
func NewAuthManager(baseURL string, st store.Store, opts ...AuthOption) *AuthManager {
	m := &AuthManager{
		baseURL:  baseURL,
		platform: runtime.GOOS,
		http:     &http.Client{},
		store:    st,
		sessions: NewSessionStore(st),
		leadTime: defaultRefreshLead,
		minDelay: defaultMinRefreshDelay,
		now:      time.Now,
		boot:     BootPending,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BootState returns the current startup state.
func (m *AuthManager) BootState() BootState {
	m.bootMu.RLock()
	defer m.bootMu.RUnlock()
	return m.boot
}

func (m *AuthManager) setBoot(b BootState) {
	m.bootMu.Lock()
	m.boot = b
	m.bootMu.Unlock()
}

// Session returns the current in-memory session, if any.
func (m *AuthManager) Session() (Session, bool) {
	return m.sessions.Current()
}

// SignIn exchanges credentials for a session. A rejected login returns an
// AuthenticationError carrying the server's response body; on success the
// session is persisted, installed, and a proactive refresh is scheduled.
func (m *AuthManager) SignIn(ctx context.Context, email, password string) error {
	req, err := NewJSONRequest(ctx, http.MethodPost, m.url(loginPath), loginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return err
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(resp.Body)
		metrics.LoginFailureTotal.Inc()
		return NewAuthenticationError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if err := m.establishSession(ctx, tr); err != nil {
		return err
	}

	m.setBoot(BootAuthenticated)
	metrics.LoginSuccessTotal.Inc()
	log.Info().Str("session_id", tr.SessionID).Msg("signed in")
	return nil
}

// SignOut tears the session down. Server-side push unregistration and logout
// are fired without waiting; their failure never blocks the local logout,
// which always succeeds: tokens cleared, session dropped, timer cancelled.
func (m *AuthManager) SignOut(ctx context.Context) {
	refreshToken, _ := m.store.Get(ctx, store.KeyRefreshToken)
	pushToken, _ := m.store.Get(ctx, store.KeyPushToken)
	deviceID, _ := m.store.Get(ctx, store.KeyDeviceID)
	sess, _ := m.sessions.Current()

	if pushToken != "" && sess.AccessToken != "" {
		go m.bestEffort("push unregister", func() error {
			req, err := NewJSONRequest(context.Background(), http.MethodDelete,
				m.url(pushRegisterPath), pushRegistration{
					Token:    pushToken,
					Platform: m.platform,
					DeviceID: deviceID,
				})
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
			if sess.SessionID != "" {
				req.Header.Set(HeaderSessionID, sess.SessionID)
			}
			return m.fire(req)
		})
	}
	if refreshToken != "" {
		go m.bestEffort("logout", func() error {
			req, err := NewJSONRequest(context.Background(), http.MethodPost,
				m.url(logoutPath), refreshRequest{RefreshToken: refreshToken})
			if err != nil {
				return err
			}
			return m.fire(req)
		})
	}

	m.cancelRefreshTimer()
	if err := m.sessions.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("clearing persisted session failed")
	}
	if err := m.store.Delete(ctx, store.KeyPushToken); err != nil {
		log.Warn().Err(err).Msg("clearing persisted push token failed")
	}
	m.setBoot(BootUnauthenticated)
	metrics.ActiveSessionGauge.Set(0)
	log.Info().Msg("signed out")
}

// Refresh exchanges the stored refresh token for a new session. Concurrent
// callers share a single in-flight refresh and observe its outcome; a second
// network call is never issued while one is pending.
func (m *AuthManager) Refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (interface{}, error) {
		refreshToken, err := m.store.Get(ctx, store.KeyRefreshToken)
		if err != nil {
			return nil, err
		}
		if refreshToken == "" {
			return nil, ErrNoRefreshToken
		}
		return nil, m.refreshWithToken(ctx, refreshToken)
	})
	return err
}

func (m *AuthManager) refreshWithToken(ctx context.Context, refreshToken string) error {
	req, err := NewJSONRequest(ctx, http.MethodPost, m.url(refreshPath),
		refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	if sid := m.sessionID(ctx); sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}

	// Transport errors pass through unchanged.
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(resp.Body)
		metrics.RefreshFailureTotal.Inc()
		return NewRefreshFailedError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decoding refresh response: %w", err)
	}
	if err := m.establishSession(ctx, tr); err != nil {
		return err
	}

	metrics.TokensRefreshedTotal.Inc()
	log.Debug().Str("session_id", tr.SessionID).Msg("session refreshed")
	return nil
}

// establishSession installs a freshly issued triplet and re-arms the
// proactive refresh from the new access token, so the schedule always
// follows the latest rotation.
func (m *AuthManager) establishSession(ctx context.Context, tr TokenResponse) error {
	if err := m.sessions.Replace(ctx, Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		SessionID:    tr.SessionID,
	}); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	metrics.ActiveSessionGauge.Set(1)
	m.scheduleRefresh(tr.AccessToken, tr.ExpiresIn)
	return nil
}

// Bootstrap resolves the startup state exactly once at process start. A
// stored refresh token is spent on a refresh attempt; any failure clears the
// local session and resolves unauthenticated.
func (m *AuthManager) Bootstrap(ctx context.Context) BootState {
	refreshToken, err := m.store.Get(ctx, store.KeyRefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("reading stored refresh token failed")
	}
	if refreshToken == "" {
		m.setBoot(BootUnauthenticated)
		return BootUnauthenticated
	}

	if err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap refresh failed, clearing session")
		m.cancelRefreshTimer()
		if cerr := m.sessions.Clear(ctx); cerr != nil {
			log.Warn().Err(cerr).Msg("clearing persisted session failed")
		}
		m.setBoot(BootUnauthenticated)
		return BootUnauthenticated
	}

	m.setBoot(BootAuthenticated)
	return BootAuthenticated
}

// Close cancels the proactive refresh timer. It does not touch the session.
func (m *AuthManager) Close() {
	m.cancelRefreshTimer()
}

// RequestOption customizes a single Do call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	skipAuth bool
}

// WithoutAuth sends the request without credentials and without the
// 401-refresh-replay behavior.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.skipAuth = true }
}

// Do is the sole path for authenticated requests. It attaches the bearer
// credential and session correlation header, and on a 401 refreshes once and
// replays the request once with the renewed credential. If the refresh fails
// the original 401 response is returned untouched; a call never issues more
// than two underlying requests.
func (m *AuthManager) Do(ctx context.Context, req *http.Request, opts ...RequestOption) (*http.Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipAuth {
		m.authorize(ctx, req)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	if o.skipAuth || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	if err := m.Refresh(ctx); err != nil {
		log.Debug().Err(err).Msg("refresh after 401 failed, returning original response")
		return resp, nil
	}
	retry, ok := cloneRequest(ctx, req)
	if !ok {
		// Body already consumed and not replayable.
		return resp, nil
	}
	resp.Body.Close()

	m.authorize(ctx, retry)
	return m.http.Do(retry)
}

// authorize attaches the current credentials, falling back to the persisted
// copies when no in-memory session exists yet.
func (m *AuthManager) authorize(ctx context.Context, req *http.Request) {
	sess, ok := m.sessions.Current()
	token, sid := sess.AccessToken, sess.SessionID
	if !ok {
		token, _ = m.store.Get(ctx, store.KeyAccessToken)
		sid, _ = m.store.Get(ctx, store.KeySessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}
}

func (m *AuthManager) sessionID(ctx context.Context) string {
	if sess, ok := m.sessions.Current(); ok && sess.SessionID != "" {
		return sess.SessionID
	}
	sid, _ := m.store.Get(ctx, store.KeySessionID)
	return sid
}

// scheduleRefresh arms the single proactive refresh timer, replacing any
// prior one. The delay is expiry − now − leadTime, clamped to minDelay so a
// degenerate expiry or clock skew cannot busy-loop the refresher. When the
// token carries no readable expiry the server-reported expiresIn is used.
func (m *AuthManager) scheduleRefresh(accessToken string, expiresIn int64) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}

	expiry, ok := TokenExpiry(accessToken)
	if !ok && expiresIn > 0 {
		expiry = m.now().Add(time.Duration(expiresIn) * time.Second)
		ok = true
	}
	if !ok {
		log.Debug().Msg("access token expiry unknown, proactive refresh not scheduled")
		return
	}

	delay := refreshDelay(expiry, m.now(), m.leadTime, m.minDelay)
	m.refreshTimer = time.AfterFunc(delay, func() {
		// A failed proactive refresh is not user-visible by itself; it
		// surfaces as a 401 on the next authenticated call.
		if err := m.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("proactive token refresh failed")
		}
	})
	log.Debug().Dur("delay", delay).Msg("proactive refresh scheduled")
}

func refreshDelay(expiry, now time.Time, lead, minDelay time.Duration) time.Duration {
	delay := expiry.Sub(now) - lead
	if delay < minDelay {
		return minDelay
	}
	return delay
}

func (m *AuthManager) cancelRefreshTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

func (m *AuthManager) bestEffort(name string, fn func() error) {
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("call", name).Msg("best-effort call failed during sign-out")
	}
}

// fire sends a request and discards the response.
func (m *AuthManager) fire(req *http.Request) error {
	resp, err := m.http.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (m *AuthManager) url(path string) string {
	return m.baseURL + path
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// NewJSONRequest builds a JSON request whose body can be replayed by Do's
// 401 retry.
func NewJSONRequest(ctx context.Context, method, url string, payload interface{}) (*http.Request, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// cloneRequest duplicates a request for the single post-refresh replay.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, bool) {
	clone := req.Clone(ctx)
	if req.Body == nil || req.Body == http.NoBody {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}
