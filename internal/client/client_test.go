package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	util "github.com/spec-kit/ticket-bridge/pkg/util"
)

type fakeProvider struct {
	generateCalls int32
	refreshCalls  int32
	ticketCalls   int32

	generateStatus int
	refreshStatus  int
	refreshDelay   time.Duration
	ticketRejects  int32 // number of leading 401 responses on /tickets

	srv *httptest.Server
}

func newFakeProvider(t *testing.T) *fakeProvider {
	f := &fakeProvider{generateStatus: http.StatusOK, refreshStatus: http.StatusOK}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.generateCalls, 1)
		if f.generateStatus != http.StatusOK {
			w.WriteHeader(f.generateStatus)
			return
		}
		f.writeToken(w, "generated")
	})
	mux.HandleFunc("/v1/auth/token/refresh", func(w http.ResponseWriter, r *http.Request) {
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}
		atomic.AddInt32(&f.refreshCalls, 1)
		if f.refreshStatus != http.StatusOK {
			w.WriteHeader(f.refreshStatus)
			return
		}
		f.writeToken(w, "refreshed")
	})
	mux.HandleFunc("/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.ticketCalls, 1)
		if n <= atomic.LoadInt32(&f.ticketRejects) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total": 1,
			"results": []map[string]any{
				{"_id": "R1", "_number": 7, "title": "Ascenseur en panne", "status": "Clôturée"},
			},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) writeToken(w http.ResponseWriter, prefix string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accessToken":            prefix + "-access",
		"expiresIn":              3600,
		"refreshToken":           prefix + "-refresh",
		"refreshTokenExpiration": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	cfg := config.ProviderConfig{
		BaseURL:    f.srv.URL,
		APIVersion: "v1",
		APIKey:     "test-secret",
		Workspace:  "test-workspace",
		UserAgent:  "ticket-bridge-test",
		TokenFile:  filepath.Join(t.TempDir(), "token.json"),
	}
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func seedCredential(t *testing.T, c *Client, cred *Credential) {
	require.NoError(t, c.tokens.Save(cred))
	c.cred = cred
}

func TestEnsureValidGeneratesWhenNoToken(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	require.NoError(t, c.EnsureValid(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.generateCalls))
	cred := c.currentCredential()
	require.NotNil(t, cred)
	assert.Equal(t, "generated-access", cred.AccessToken)
	assert.False(t, cred.ExpiringSoon(time.Now()))
}

func TestEnsureValidPersistsCredentialAtomically(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)

	require.NoError(t, c.EnsureValid(context.Background()))

	info, err := os.Stat(c.tokens.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := c.tokens.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "generated-access", loaded.AccessToken)
	assert.Equal(t, "generated-refresh", loaded.RefreshToken)

	_, err = os.Stat(c.tokens.path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a committed write")
}

func TestEnsureValidRefreshesExpiringToken(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "stale-access",
		ExpireAt:               time.Now().Add(10 * time.Second).UnixMilli(),
		RefreshToken:           "stale-refresh",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	require.NoError(t, c.EnsureValid(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refreshCalls))
	assert.EqualValues(t, 0, atomic.LoadInt32(&f.generateCalls))
	assert.Equal(t, "refreshed-access", c.currentCredential().AccessToken)
}

func TestEnsureValidFallsBackToGenerateWhenRefreshTokenExpired(t *testing.T) {
	f := newFakeProvider(t)
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "stale-access",
		ExpireAt:               time.Now().Add(10 * time.Second).UnixMilli(),
		RefreshToken:           "expired-refresh",
		RefreshTokenExpiration: time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})

	require.NoError(t, c.EnsureValid(context.Background()))

	assert.EqualValues(t, 0, atomic.LoadInt32(&f.refreshCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.generateCalls))
	assert.Equal(t, "generated-access", c.currentCredential().AccessToken)
}

func TestEnsureValidFallsBackToGenerateWhenRefreshRejected(t *testing.T) {
	f := newFakeProvider(t)
	f.refreshStatus = http.StatusUnauthorized
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "stale-access",
		ExpireAt:               time.Now().Add(10 * time.Second).UnixMilli(),
		RefreshToken:           "bad-refresh",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	require.NoError(t, c.EnsureValid(context.Background()))

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refreshCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.generateCalls))
	assert.Equal(t, "generated-access", c.currentCredential().AccessToken)
}

func TestEnsureValidReportsAuthErrorWhenExhausted(t *testing.T) {
	f := newFakeProvider(t)
	f.generateStatus = http.StatusInternalServerError
	f.refreshStatus = http.StatusInternalServerError
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "stale-access",
		ExpireAt:               time.Now().Add(10 * time.Second).UnixMilli(),
		RefreshToken:           "r",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	err := c.EnsureValid(context.Background())
	require.Error(t, err)
	assert.True(t, util.HasCode(err, "AUTH_ERROR"))

	// A failed flight must not wedge later callers.
	f.generateStatus = http.StatusOK
	f.refreshStatus = http.StatusOK
	assert.NoError(t, c.EnsureValid(context.Background()))
}

func TestEnsureValidSingleFlightUnderBurst(t *testing.T) {
	f := newFakeProvider(t)
	f.refreshDelay = 50 * time.Millisecond
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "stale-access",
		ExpireAt:               time.Now().Add(10 * time.Second).UnixMilli(),
		RefreshToken:           "stale-refresh",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	var wg sync.WaitGroup
	errs := make([]error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.EnsureValid(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refreshCalls),
		"a burst of concurrent callers must coalesce onto one refresh")
}

func TestListTicketsRetriesOnceAfterUnauthorized(t *testing.T) {
	f := newFakeProvider(t)
	f.ticketRejects = 1
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "revoked-access",
		ExpireAt:               time.Now().Add(time.Hour).UnixMilli(),
		RefreshToken:           "valid-refresh",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	tickets, err := c.ListTickets(context.Background())
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "R1", tickets[0].ID)

	assert.EqualValues(t, 1, atomic.LoadInt32(&f.refreshCalls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.ticketCalls))
}

func TestListTicketsSecondUnauthorizedIsTerminal(t *testing.T) {
	f := newFakeProvider(t)
	f.ticketRejects = 2
	c := newTestClient(t, f)
	seedCredential(t, c, &Credential{
		AccessToken:            "revoked-access",
		ExpireAt:               time.Now().Add(time.Hour).UnixMilli(),
		RefreshToken:           "valid-refresh",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	_, err := c.ListTickets(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&f.ticketCalls),
		"exactly one retry after a 401, never more")
}

func TestRequestHeaders(t *testing.T) {
	var gotWorkspace, gotUA, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/tickets" {
			gotWorkspace = r.Header.Get("X-MerciYanis-Workspace")
			gotUA = r.Header.Get("User-Agent")
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{"total": 0, "results": []any{}})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	cfg := config.ProviderConfig{
		BaseURL:    srv.URL,
		APIVersion: "v1",
		APIKey:     "k",
		Workspace:  "ws-42",
		UserAgent:  "bridge/1.0",
		TokenFile:  filepath.Join(t.TempDir(), "token.json"),
	}
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	seedCredential(t, c, &Credential{
		AccessToken:            "tok",
		ExpireAt:               time.Now().Add(time.Hour).UnixMilli(),
		RefreshToken:           "r",
		RefreshTokenExpiration: time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})

	_, err = c.ListTickets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws-42", gotWorkspace)
	assert.Equal(t, "bridge/1.0", gotUA)
	assert.Equal(t, "Bearer tok", gotAuth)
}
