package appcore

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curaflow/appcore/device"
	"github.com/curaflow/appcore/internal/metrics"
	"github.com/curaflow/appcore/store"
)

// PushStatus enumerates the registration machine states.
type PushStatus string

const (
	StatusIdle        PushStatus = "idle"
	StatusRegistering PushStatus = "registering"
	StatusRegistered  PushStatus = "registered"
	StatusFailed      PushStatus = "failed"
	StatusPaused      PushStatus = "paused"
)

// PushState is a snapshot of the registration machine for diagnostic
// surfaces. Attempts counts every individual network attempt across all
// backoff cycles and never resets.
type PushState struct {
	Status            PushStatus `json:"status"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt     *time.Time `json:"lastFailureAt,omitempty"`
	FailureMessage    string     `json:"failureMessage,omitempty"`
	Attempts          int        `json:"attempts"`
	MaxWindowExceeded bool       `json:"maxWindowExceeded"`
}

// failureMeta is the persisted audit trail of an exhausted registration
// cycle. Retry logic does not depend on it.
type failureMeta struct {
	Token       string `json:"token"`
	LastAttempt int64  `json:"lastAttempt"` // epoch ms
}

const (
	defaultMaxAttempts   = 5
	defaultBackoffBase   = time.Second
	defaultMaxJitter     = 250 * time.Millisecond
	defaultRetryInterval = 15 * time.Minute
	defaultRetryWindow   = 24 * time.Hour
)

// PushRegistrar keeps the device's push token durably registered with the
// backend: bounded exponential backoff per cycle, a periodic background
// retry, a time-boxed automatic-retry window, and a manual retry that
// restarts the window. All network calls go through the AuthManager.
type PushRegistrar struct {
	auth    *AuthManager
	store   store.Store
	devices *device.Provider

	maxAttempts   int
	backoffBase   time.Duration
	jitter        func() time.Duration
	retryInterval time.Duration
	retryWindow   time.Duration
	now           func() time.Time

	// busy admits exactly one registration cycle at a time, shared by the
	// initial attempt, the background ticks, and the manual retry. Losers
	// of the CAS no-op.
	busy atomic.Bool

	mu           sync.Mutex
	state        PushState
	token        string
	firstFailure *time.Time

	loopMu   sync.Mutex
	loopStop chan struct{}
}

// PushOption customizes a PushRegistrar.
type PushOption func(*PushRegistrar)

// WithRetryInterval sets the background retry cadence.
func WithRetryInterval(d time.Duration) PushOption {
	return func(r *PushRegistrar) { r.retryInterval = d }
}

// WithRetryWindow sets the automatic-retry budget measured from the first
// exhausted cycle.
func WithRetryWindow(d time.Duration) PushOption {
	return func(r *PushRegistrar) { r.retryWindow = d }
}

// WithBackoffBase sets the first backoff delay; each failed attempt doubles it.
func WithBackoffBase(d time.Duration) PushOption {
	return func(r *PushRegistrar) { r.backoffBase = d }
}

// WithJitter sets the additive randomness applied to each backoff sleep.
func WithJitter(fn func() time.Duration) PushOption {
	return func(r *PushRegistrar) { r.jitter = fn }
}

// NewPushRegistrar creates a PushRegistrar sending through auth.
func NewPushRegistrar(auth *AuthManager, st store.Store, devices *device.Provider, opts ...PushOption) *PushRegistrar {
	r := &PushRegistrar{
		auth:          auth,
		store:         st,
		devices:       devices,
		maxAttempts:   defaultMaxAttempts,
		backoffBase:   defaultBackoffBase,
		jitter:        func() time.Duration { return time.Duration(rand.Int63n(int64(defaultMaxJitter))) },
		retryInterval: defaultRetryInterval,
		retryWindow:   defaultRetryWindow,
		now:           time.Now,
		state:         PushState{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns a snapshot of the registration machine.
func (r *PushRegistrar) State() PushState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins tracking token: one immediate registration cycle plus the
// periodic background retry until the token is registered or the retry
// window closes. A new token restarts the machine; call Start again with it.
func (r *PushRegistrar) Start(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if _, ok := r.auth.Session(); !ok {
		log.Debug().Msg("push registration deferred, no session")
		return
	}

	r.mu.Lock()
	r.token = token
	r.mu.Unlock()

	go r.tryCycle(ctx, token)
	r.startRetryLoop(ctx, token)
}

// Stop cancels the background retry loop. It does not interrupt a cycle
// already in flight.
func (r *PushRegistrar) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopStop != nil {
		close(r.loopStop)
		r.loopStop = nil
	}
}

// RegisterNow runs a single registration cycle for token synchronously,
// without arming the background retry loop. Used by one-shot callers.
func (r *PushRegistrar) RegisterNow(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
	return r.tryCycle(ctx, token)
}

// Retry is the manual, user-triggered retry. It restarts the 24h budget,
// clears the paused marker, and runs one cycle under the shared guard.
func (r *PushRegistrar) Retry(ctx context.Context) {
	r.mu.Lock()
	token := r.token
	r.firstFailure = nil
	r.state.MaxWindowExceeded = false
	r.state.Status = StatusRegistering
	r.mu.Unlock()

	if token == "" {
		log.Debug().Msg("manual push retry with no tracked token")
		return
	}
	r.tryCycle(ctx, token)
}

// tryCycle runs one registration cycle if no other is in progress. Returns
// whether the token ended up registered.
func (r *PushRegistrar) tryCycle(ctx context.Context, token string) bool {
	if !r.busy.CompareAndSwap(false, true) {
		return false
	}
	defer r.busy.Store(false)
	return r.attemptRegisterWithBackoff(ctx, token)
}

func (r *PushRegistrar) startRetryLoop(ctx context.Context, token string) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.loopStop != nil {
		// Replace the running loop; it may be tracking a stale token.
		close(r.loopStop)
	}
	stored, _ := r.store.Get(ctx, store.KeyPushToken)
	if stored == token {
		r.loopStop = nil
		return
	}

	stop := make(chan struct{})
	r.loopStop = stop

	go func() {
		ticker := time.NewTicker(r.retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if r.windowExceeded() {
					r.pause()
					r.stopLoop(stop)
					return
				}
				if r.tryCycle(ctx, token) {
					r.stopLoop(stop)
					return
				}
			}
		}
	}()
}

// stopLoop clears loopStop only if it still owns the loop; Start may have
// armed a newer one in the meantime.
func (r *PushRegistrar) stopLoop(stop chan struct{}) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopStop == stop {
		close(r.loopStop)
		r.loopStop = nil
	}
}

func (r *PushRegistrar) windowExceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstFailure != nil && r.now().Sub(*r.firstFailure) >= r.retryWindow
}

// pause parks the machine once the retry window closes. MaxWindowExceeded is
// true exactly while paused.
func (r *PushRegistrar) pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == StatusRegistered {
		return
	}
	r.state.Status = StatusPaused
	r.state.MaxWindowExceeded = true
	log.Info().Msg("push registration retry window exceeded, pausing")
}

// attemptRegisterWithBackoff runs one full cycle: up to maxAttempts calls
// with doubling delay plus jitter between them. Success persists the token
// and clears failure metadata; exhaustion persists failure metadata and
// starts the retry window if this was the first exhausted cycle.
func (r *PushRegistrar) attemptRegisterWithBackoff(ctx context.Context, token string) bool {
	stored, err := r.store.Get(ctx, store.KeyPushToken)
	if err == nil && stored == token {
		// Already registered; repeated attempts for the same token are free.
		return true
	}

	deviceID, err := r.devices.ID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("device id unavailable for push registration")
	}

	r.setStatus(StatusRegistering)
	delay := r.backoffBase

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		r.mu.Lock()
		r.state.Attempts++
		r.mu.Unlock()
		metrics.PushAttemptsTotal.Inc()

		ok, failMsg := r.registerOnce(ctx, token, deviceID)
		if ok {
			r.recordSuccess(ctx, token)
			return true
		}

		log.Warn().
			Int("attempt", attempt).
			Int("max", r.maxAttempts).
			Str("reason", failMsg).
			Msg("push token registration failed")
		r.recordFailure(failMsg)

		if attempt < r.maxAttempts {
			if !sleepCtx(ctx, delay+r.jitter()) {
				return false
			}
			delay *= 2
		}
	}

	r.recordExhausted(ctx, token)
	return false
}

// registerOnce performs a single authenticated register call. Returns
// success and, on failure, a human-readable reason.
func (r *PushRegistrar) registerOnce(ctx context.Context, token, deviceID string) (bool, string) {
	req, err := NewJSONRequest(ctx, http.MethodPost, r.auth.url(pushRegisterPath), pushRegistration{
		Token:    token,
		Platform: r.auth.platform,
		DeviceID: deviceID,
	})
	if err != nil {
		return false, err.Error()
	}

	resp, err := r.auth.Do(ctx, req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if isSuccess(resp.StatusCode) {
		return true, ""
	}
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = strconv.Itoa(resp.StatusCode)
	}
	return false, msg
}

func (r *PushRegistrar) recordSuccess(ctx context.Context, token string) {
	if err := r.store.Set(ctx, store.KeyPushToken, token); err != nil {
		log.Warn().Err(err).Msg("persisting registered push token failed")
	}
	if err := r.store.Delete(ctx, store.KeyPushTokenFailed); err != nil {
		log.Warn().Err(err).Msg("clearing push failure metadata failed")
	}

	now := r.now()
	r.mu.Lock()
	r.state.Status = StatusRegistered
	r.state.LastSuccessAt = &now
	r.state.FailureMessage = ""
	r.state.MaxWindowExceeded = false
	r.mu.Unlock()

	metrics.PushRegisteredTotal.Inc()
	log.Info().Msg("push token registered")
}

func (r *PushRegistrar) recordFailure(msg string) {
	now := r.now()
	r.mu.Lock()
	r.state.Status = StatusRegistering
	r.state.LastFailureAt = &now
	r.state.FailureMessage = msg
	r.mu.Unlock()
}

func (r *PushRegistrar) recordExhausted(ctx context.Context, token string) {
	now := r.now()
	meta, err := json.Marshal(failureMeta{Token: token, LastAttempt: now.UnixMilli()})
	if err == nil {
		if serr := r.store.Set(ctx, store.KeyPushTokenFailed, string(meta)); serr != nil {
			log.Warn().Err(serr).Msg("persisting push failure metadata failed")
		}
	}

	r.mu.Lock()
	if r.firstFailure == nil {
		r.firstFailure = &now
	}
	r.state.Status = StatusFailed
	r.state.LastFailureAt = &now
	r.mu.Unlock()

	metrics.PushExhaustedTotal.Inc()
}

func (r *PushRegistrar) setStatus(s PushStatus) {
	r.mu.Lock()
	r.state.Status = s
	r.mu.Unlock()
}

// sleepCtx sleeps for d unless ctx is cancelled first; reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
