package webclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlantAndReadSessionIDCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	require.NoError(t, c.plantTokens(Tokens{SessionID: "abc123", SteamLogin: "1||tok", SteamLoginSecure: "1||toksecure"}))

	sid, ok := c.sessionIDCookie(HostCommunity)
	require.True(t, ok)
	assert.Equal(t, "abc123", sid)
}

func TestProbeSession_ValidSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	require.NoError(t, c.probeSession(context.Background()))
	assert.False(t, c.Expired())
}

func TestProbeSession_ExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login/home", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	require.NoError(t, c.probeSession(context.Background()))
	assert.True(t, c.Expired())
}

func TestEnsurePreemptiveCheck_SkipsWhenFresh(t *testing.T) {
	var probes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeAccount{steamID: 1})
	require.NoError(t, c.EnsurePreemptiveCheck(context.Background()))
	require.NoError(t, c.EnsurePreemptiveCheck(context.Background()))
	assert.Equal(t, 1, probes)
}

func TestRefresh_SkipsWhenNotDue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	account := &fakeAccount{steamID: 1, connected: true, loggedOn: true}
	c := newTestClient(t, srv, account)
	c.lastSessionRefresh = time.Now()

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 0, account.refreshedAt)
}

func TestRefresh_RequiresConnectedAndLoggedOn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	account := &fakeAccount{steamID: 1, connected: false, loggedOn: true}
	c := newTestClient(t, srv, account)

	err := c.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, account.refreshedAt)
}

func TestRefresh_PlantsNewTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	account := &fakeAccount{
		steamID: 1, connected: true, loggedOn: true,
		tokens: Tokens{SessionID: "newsid", SteamLogin: "1||a", SteamLoginSecure: "1||b"},
	}
	c := newTestClient(t, srv, account)

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 1, account.refreshedAt)
	sid, ok := c.sessionIDCookie(HostCommunity)
	require.True(t, ok)
	assert.Equal(t, "newsid", sid)
}

func TestPKCS7Pad(t *testing.T) {
	padded := pkcs7Pad([]byte("hello"), 16)
	assert.Len(t, padded, 16)
	assert.Equal(t, byte(11), padded[len(padded)-1])
}

func TestAESEncryptCBC_ProducesIVPrefixedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	out, err := aesEncryptCBC(key, []byte("server-nonce-bytes"))
	require.NoError(t, err)
	assert.Greater(t, len(out), 16)
}
