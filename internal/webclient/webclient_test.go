package webclient

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/webratelimit"
)

// fakeAccount is a minimal AccountHandle for tests.
type fakeAccount struct {
	steamID     uint64
	connected   bool
	loggedOn    bool
	refreshErr  error
	refreshedAt int
	tokens      Tokens
}

func (f *fakeAccount) SteamID() uint64   { return f.steamID }
func (f *fakeAccount) Connected() bool   { return f.connected }
func (f *fakeAccount) LoggedOn() bool    { return f.loggedOn }
func (f *fakeAccount) RefreshSession(ctx context.Context) (Tokens, error) {
	f.refreshedAt++
	if f.refreshErr != nil {
		return Tokens{}, f.refreshErr
	}
	return f.tokens, nil
}

// newTestClient builds a Client wired to srv with rate limiting disabled,
// for fast, deterministic tests. The circuit breaker keeps the defaults
// New gives it.
func newTestClient(t *testing.T, srv *httptest.Server, account AccountHandle) *Client {
	t.Helper()

	cfg, err := testConfig()
	if err != nil {
		t.Fatalf("building test config: %v", err)
	}

	endpoints := Endpoints{
		BaseURL: map[HostKey]string{
			HostCommunity: srv.URL,
			HostStore:     srv.URL,
			HostHelp:      srv.URL,
			HostWebAPI:    srv.URL,
		},
		LoginFallbackHost: "login.platform.example",
	}

	limiter := webratelimit.New(0, webratelimit.DefaultMaxConnections)
	invSem := NewInventorySemaphore(0)
	logger := slog.Default()

	c, err := New(cfg, account, endpoints, limiter, invSem, logger)
	if err != nil {
		t.Fatalf("constructing client: %v", err)
	}
	return c
}

func testConfig() (*config.Config, error) {
	cfg := &config.Config{ConnectionTimeout: 5 * time.Second}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing url %q: %v", raw, err)
	}
	return u
}
