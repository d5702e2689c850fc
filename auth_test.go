package appcore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curaflow/appcore/store"
)

func accessTokenExpiring(t *testing.T, in time.Duration) string {
	t.Helper()
	return signedToken(t, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(in)),
	})
}

func writeTokens(t *testing.T, w http.ResponseWriter, tr TokenResponse) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(tr))
}

func newTestAuth(t *testing.T, handler http.Handler, opts ...AuthOption) (*AuthManager, *store.MemoryStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore()
	m := NewAuthManager(srv.URL, st, opts...)
	t.Cleanup(m.Close)
	return m, st
}

func TestSignInSuccess(t *testing.T) {
	ctx := context.Background()
	access := accessTokenExpiring(t, time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.com", body["email"])
		assert.Equal(t, "hunter2", body["password"])
		writeTokens(t, w, TokenResponse{
			AccessToken:  access,
			RefreshToken: "rt-1",
			ExpiresIn:    3600,
			SessionID:    "sess-1",
		})
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, m.SignIn(ctx, "user@example.com", "hunter2"))

	sess, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, access, sess.AccessToken)
	assert.Equal(t, "sess-1", sess.SessionID)
	assert.Equal(t, BootAuthenticated, m.BootState())

	persisted, err := st.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", persisted)
}

func TestSignInRejectedCarriesServerMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid credentials"))
	})

	m, _ := newTestAuth(t, mux)
	err := m.SignIn(context.Background(), "user@example.com", "wrong")

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Equal(t, "invalid credentials", authErr.Message)

	_, ok := m.Session()
	assert.False(t, ok)
}

func TestRefreshSingleFlight(t *testing.T) {
	ctx := context.Background()
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold callers in flight
		writeTokens(t, w, TokenResponse{
			AccessToken:  "opaque-access",
			RefreshToken: "rt-2",
			ExpiresIn:    3600,
			SessionID:    "sess-1",
		})
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Refresh(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), refreshCalls.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}

	rotated, err := st.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", rotated)
}

func TestRefreshWithoutStoredToken(t *testing.T) {
	m, _ := newTestAuth(t, http.NewServeMux())
	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRefreshRejectedLeavesSessionUntouched(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("refresh token reused"))
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-spent"))

	err := m.Refresh(ctx)
	var refreshErr *RefreshFailedError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusUnauthorized, refreshErr.Status)

	// Failure does not mutate state; bootstrap owns the clearing policy.
	stored, gerr := st.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, gerr)
	assert.Equal(t, "rt-spent", stored)
}

func TestRefreshSendsSessionIDHeader(t *testing.T) {
	ctx := context.Background()
	var gotHeader atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get(HeaderSessionID))
		writeTokens(t, w, TokenResponse{
			AccessToken: "opaque", RefreshToken: "rt-2", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))
	require.NoError(t, st.Set(ctx, store.KeySessionID, "sess-1"))

	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, "sess-1", gotHeader.Load())
}

func TestDoRetriesOnceAfterRefresh(t *testing.T) {
	ctx := context.Background()
	var dataCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTokens(t, w, TokenResponse{
			AccessToken: "fresh-access", RefreshToken: "rt-2", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		dataCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyAccessToken, "stale-access"))
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	req, err := NewJSONRequest(ctx, http.MethodPost, m.url("/data"), map[string]string{"q": "x"})
	require.NoError(t, err)

	resp, err := m.Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), dataCalls.Load())
}

func TestDoReturnsOriginal401WhenRefreshFails(t *testing.T) {
	ctx := context.Background()
	var dataCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url("/data"), nil)
	require.NoError(t, err)

	resp, err := m.Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), dataCalls.Load())
}

func TestDoNeverRetriesTwice(t *testing.T) {
	ctx := context.Background()
	var dataCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTokens(t, w, TokenResponse{
			AccessToken: "still-rejected", RefreshToken: "rt-2", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		dataCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized) // 401 no matter what
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url("/data"), nil)
	require.NoError(t, err)

	resp, err := m.Do(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), dataCalls.Load())
}

func TestDoSkipAuth(t *testing.T) {
	ctx := context.Background()
	var gotAuth atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/open", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyAccessToken, "at-1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url("/open"), nil)
	require.NoError(t, err)

	resp, err := m.Do(ctx, req, WithoutAuth())
	require.NoError(t, err)
	defer resp.Body.Close()

	// No credential attached and no refresh triggered by the 401.
	assert.Equal(t, "", gotAuth.Load())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSignOutClearsEverything(t *testing.T) {
	ctx := context.Background()
	var gotAuth atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeTokens(t, w, TokenResponse{
			AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})
	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/push/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, m.SignIn(ctx, "user@example.com", "hunter2"))
	require.NoError(t, st.Set(ctx, store.KeyPushToken, "push-1"))

	m.SignOut(ctx)

	_, ok := m.Session()
	assert.False(t, ok)
	assert.Equal(t, BootUnauthenticated, m.BootState())

	for _, key := range []string{store.KeyAccessToken, store.KeyRefreshToken, store.KeySessionID, store.KeyPushToken} {
		val, err := st.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, val, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url("/check"), nil)
	require.NoError(t, err)
	resp, err := m.Do(ctx, req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "", gotAuth.Load())
}

func TestBootstrapWithoutTokenResolvesUnauthenticated(t *testing.T) {
	m, _ := newTestAuth(t, http.NewServeMux())
	assert.Equal(t, BootPending, m.BootState())
	assert.Equal(t, BootUnauthenticated, m.Bootstrap(context.Background()))
}

func TestBootstrapRefreshesStoredToken(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTokens(t, w, TokenResponse{
			AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	assert.Equal(t, BootAuthenticated, m.Bootstrap(ctx))
	sess, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, "at-2", sess.AccessToken)
}

func TestBootstrapFailureClearsTokens(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	m, st := newTestAuth(t, mux)
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-stale"))

	assert.Equal(t, BootUnauthenticated, m.Bootstrap(ctx))

	stored, err := st.Get(ctx, store.KeyRefreshToken)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestProactiveRefreshFiresAndRotates(t *testing.T) {
	ctx := context.Background()
	var refreshCalls atomic.Int32

	access := accessTokenExpiring(t, 30*time.Millisecond)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeTokens(t, w, TokenResponse{
			AccessToken: access, RefreshToken: "rt-1", ExpiresIn: 0, SessionID: "sess-1",
		})
	})
	mux.HandleFunc("/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeTokens(t, w, TokenResponse{
			AccessToken: "opaque", RefreshToken: "rt-2", ExpiresIn: 3600, SessionID: "sess-1",
		})
	})

	m, st := newTestAuth(t, mux,
		WithRefreshLeadTime(0),
		WithMinRefreshDelay(5*time.Millisecond))
	require.NoError(t, m.SignIn(ctx, "user@example.com", "hunter2"))

	require.Eventually(t, func() bool {
		return refreshCalls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		rotated, err := st.Get(ctx, store.KeyRefreshToken)
		return err == nil && rotated == "rt-2"
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshDelayClamping(t *testing.T) {
	now := time.Now()
	lead := 60 * time.Second
	minDelay := 5 * time.Second

	cases := []struct {
		name   string
		expiry time.Time
		want   time.Duration
	}{
		{"normal lead", now.Add(10 * time.Minute), 9 * time.Minute},
		{"inside lead window", now.Add(61 * time.Second), minDelay},
		{"already expired", now.Add(-time.Minute), minDelay},
		{"exactly lead plus min", now.Add(65 * time.Second), minDelay},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, refreshDelay(tc.expiry, now, lead, minDelay))
		})
	}
}

func TestTransportErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, store.KeyRefreshToken, "rt-1"))

	// Nothing is listening here.
	m := NewAuthManager("http://127.0.0.1:1", st)
	t.Cleanup(m.Close)

	err := m.Refresh(ctx)
	require.Error(t, err)

	var refreshErr *RefreshFailedError
	assert.False(t, errors.As(err, &refreshErr))
}
