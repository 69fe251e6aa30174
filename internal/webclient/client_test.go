package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	body, err := c.Get(context.Background(), HostCommunity, "/anything", WithDecode(DecodeJSON))
	require.NoError(t, err)
	m, ok := body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
}

// TestDo_SessionExpiryTriggersRefreshAndRetry redirects the first GET to
// /login, forcing the retry-on-anomaly loop to refresh the session (via
// the fake AccountHandle) before retrying the original path, which then
// succeeds.
func TestDo_SessionExpiryTriggersRefreshAndRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			http.Redirect(w, r, "/login/home", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	account := &fakeAccount{steamID: 1, connected: true, loggedOn: true, tokens: Tokens{SessionID: "sid2"}}
	c := newTestClient(t, srv, account)

	body, err := c.Get(context.Background(), HostCommunity, "/initial/path", WithDecode(DecodeJSON))
	require.NoError(t, err)
	m, ok := body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, m["ok"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, account.refreshedAt)
}

func TestIsSessionExpiredURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	c := newTestClient(t, srv, &fakeAccount{})

	loginURL := mustParseURL(t, "https://community.platform.example/login/home")
	assert.True(t, c.isSessionExpiredURL(loginURL))

	fallbackURL := mustParseURL(t, "https://login.platform.example/oauth")
	assert.True(t, c.isSessionExpiredURL(fallbackURL))

	fineURL := mustParseURL(t, "https://community.platform.example/my/home")
	assert.False(t, c.isSessionExpiredURL(fineURL))
}

func TestIsOwnProfileURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	c := newTestClient(t, srv, &fakeAccount{steamID: 42})

	ownURL := mustParseURL(t, "https://community.platform.example/profiles/42/inventory")
	assert.True(t, c.isOwnProfileURL(ownURL))

	otherURL := mustParseURL(t, "https://community.platform.example/profiles/99/inventory")
	assert.False(t, c.isOwnProfileURL(otherURL))
}

func TestDo_EmptyBodyDecodesToNilJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	body, err := c.Get(context.Background(), HostCommunity, "/anything", WithDecode(DecodeJSON))
	require.NoError(t, err)
	assert.Nil(t, body)
}
