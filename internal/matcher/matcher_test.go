package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tradematch/internal/announce"
	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/directory"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/webclient"
	"github.com/mbd888/tradematch/internal/webratelimit"
)

type fakeProfile struct {
	prefs []string
}

func (f *fakeProfile) HasMobileTwoFactor(context.Context) announce.Outcome { return announce.OutcomeTrue }
func (f *fakeProfile) TradingPreferences(context.Context) ([]string, announce.Outcome) {
	return f.prefs, announce.OutcomeTrue
}
func (f *fakeProfile) InventoryIsPublic(context.Context) announce.Outcome { return announce.OutcomeTrue }
func (f *fakeProfile) TradeToken(context.Context) (string, announce.Outcome) {
	return "token", announce.OutcomeTrue
}
func (f *fakeProfile) RequestPersonaRefresh(context.Context) error { return nil }
func (f *fakeProfile) JoinGroup(context.Context) error             { return nil }

type fakeAccount struct {
	connected bool
}

func (f *fakeAccount) SteamID() uint64 { return 1 }
func (f *fakeAccount) Connected() bool { return f.connected }
func (f *fakeAccount) LoggedOn() bool  { return true }
func (f *fakeAccount) RefreshSession(context.Context) (webclient.Tokens, error) {
	return webclient.Tokens{}, nil
}

type fakeConfirmer struct{ calls int }

func (c *fakeConfirmer) Confirm(context.Context, []string) error {
	c.calls++
	return nil
}

func TestMatchActively_NotConnectedIsNoop(t *testing.T) {
	m := &Matcher{
		account: &fakeAccount{connected: false},
		logger:  slog.Default(),
	}
	require.NoError(t, m.matchActively(context.Background()))
}

func TestMatchActively_MatchEverythingPreferenceExcludes(t *testing.T) {
	m := &Matcher{
		account: &fakeAccount{connected: true},
		profile: &fakeProfile{prefs: []string{prefMatchActively, prefMatchEverything}},
		logger:  slog.Default(),
	}
	require.NoError(t, m.matchActively(context.Background()))
}

func TestMatchActively_MissingActivelyPreferenceExcludes(t *testing.T) {
	m := &Matcher{
		account: &fakeAccount{connected: true},
		profile: &fakeProfile{prefs: nil},
		logger:  slog.Default(),
	}
	require.NoError(t, m.matchActively(context.Background()))
}

func TestTick_DropsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	m := &Matcher{
		account: blockingAccount{started: started, release: release, runs: &runs},
		logger:  slog.Default(),
	}

	go m.tick(context.Background())
	<-started

	// Second tick while the first is still in flight must be dropped.
	m.tick(context.Background())
	close(release)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

// blockingAccount's Connected() blocks until release is closed, letting
// the test observe a tick still "in flight".
type blockingAccount struct {
	started chan struct{}
	release chan struct{}
	runs    *int32
}

func (b blockingAccount) SteamID() uint64 { return 1 }
func (b blockingAccount) Connected() bool {
	atomic.AddInt32(b.runs, 1)
	close(b.started)
	<-b.release
	return false
}
func (b blockingAccount) LoggedOn() bool { return true }
func (b blockingAccount) RefreshSession(context.Context) (webclient.Tokens, error) {
	return webclient.Tokens{}, nil
}

// integrationHarness wires real webclient/directory clients against
// httptest servers for an end-to-end matchAgainstCandidate exercise.
type integrationHarness struct {
	matcher       *Matcher
	directoryHits []string
	tradeHits     int
}

func newIntegrationHarness(t *testing.T, ourCount uint32) *integrationHarness {
	t.Helper()
	h := &integrationHarness{}

	platformSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.tradeHits++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tradeofferid":              "123",
				"needs_mobile_confirmation": false,
				"needs_email_confirmation":  false,
			})
			return
		}
		// Both our own and the candidate's inventory resolve to the same
		// handler; this harness only exercises the directory/eligibility
		// path, so a single flat, duplicate-bearing page is enough.
		writeInventoryPage(w, ourCount)
	}))
	t.Cleanup(platformSrv.Close)

	directorySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.directoryHits = append(h.directoryHits, r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"steam_id": 2, "trade_token": "tok", "games_count": 5, "items_count": 50,
				"matchable_cards": 1, "match_everything": 1,
			},
		})
	}))
	t.Cleanup(directorySrv.Close)

	cfg := &config.Config{ConnectionTimeout: 5 * time.Second}
	require.NoError(t, cfg.Validate())

	endpoints := webclient.Endpoints{
		BaseURL: map[webclient.HostKey]string{
			webclient.HostCommunity: platformSrv.URL,
			webclient.HostStore:     platformSrv.URL,
			webclient.HostHelp:      platformSrv.URL,
			webclient.HostWebAPI:    platformSrv.URL,
		},
		LoginFallbackHost: "login.platform.example",
	}
	limiter := webratelimit.New(0, webratelimit.DefaultMaxConnections)
	invSem := webclient.NewInventorySemaphore(0)
	logger := slog.Default()

	web, err := webclient.New(cfg, &fakeAccount{connected: true}, endpoints, limiter, invSem, logger)
	require.NoError(t, err)

	apiKeys := webclient.NewAPIKeyResolver(web, true)
	dirClient := directory.New(directorySrv.URL, 5*time.Second, logger)

	h.matcher = NewMatcher(1, model.MatchableTypes, &fakeAccount{connected: true}, web, dirClient, apiKeys,
		&fakeProfile{prefs: []string{prefMatchActively, "steam-trade-matcher"}}, &fakeConfirmer{}, nil, logger)

	return h
}

func writeInventoryPage(w http.ResponseWriter, count uint32) {
	assets := make([]map[string]any, count)
	for i := range assets {
		assets[i] = map[string]any{
			"assetid": fmt.Sprintf("%d", i+1), "classid": "1", "contextid": "6", "amount": "1",
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"assets": assets,
		"descriptions": []map[string]any{{
			"classid": "1", "appid": 730, "type": "Trading Card", "rarity": "common",
			"marketable": 1, "tradable": 1,
		}},
		"more_items":   0,
		"last_assetid": "",
		"success":      1,
	})
}

func TestMatchActively_DuplicatesQueryDirectoryForCandidates(t *testing.T) {
	h := newIntegrationHarness(t, 3)
	require.NoError(t, h.matcher.matchActively(context.Background()))
	assert.Contains(t, h.directoryHits, "/Api/Bots")
}
