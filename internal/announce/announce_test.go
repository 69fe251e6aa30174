package announce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/directory"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/webclient"
	"github.com/mbd888/tradematch/internal/webratelimit"
)

type fakeAnnounceAccount struct{}

func (fakeAnnounceAccount) SteamID() uint64  { return 76561198000000001 }
func (fakeAnnounceAccount) Connected() bool  { return true }
func (fakeAnnounceAccount) LoggedOn() bool   { return true }
func (fakeAnnounceAccount) RefreshSession(context.Context) (webclient.Tokens, error) {
	return webclient.Tokens{}, nil
}

// testHarness wires a fake platform server (for inventory) and a fake
// directory server (for announce/heartbeat) behind real clients.
type testHarness struct {
	engine        *Engine
	store         *MemoryStore
	directoryHits []string
	announceFails bool
}

func newTestHarness(t *testing.T, itemCount int) *testHarness {
	t.Helper()

	h := &testHarness{store: NewMemoryStore()}

	platformSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assets := make([]map[string]any, itemCount)
		descs := []map[string]any{{
			"classid": "1", "appid": 730, "type": "Trading Card", "rarity": "common",
			"marketable": 1, "tradable": 1,
		}}
		for i := range assets {
			assets[i] = map[string]any{
				"assetid": fmt.Sprintf("%d", i+1), "classid": "1", "contextid": "6", "amount": "1",
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"assets":       assets,
			"descriptions": descs,
			"more_items":   0,
			"last_assetid": "",
			"success":      1,
		})
	}))
	t.Cleanup(platformSrv.Close)

	directorySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.directoryHits = append(h.directoryHits, r.URL.Path)
		if h.announceFails {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
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

	web, err := webclient.New(cfg, fakeAnnounceAccount{}, endpoints, limiter, invSem, logger)
	require.NoError(t, err)

	apiKeys := webclient.NewAPIKeyResolver(web, true)
	dirClient := directory.New(directorySrv.URL, 5*time.Second, logger)

	h.engine = NewEngine(
		fakeAnnounceAccount{}.SteamID(),
		"guid-1",
		model.MatchableTypes,
		h.store,
		dirClient,
		web,
		apiKeys,
		eligibleProfile(),
		logger,
	)
	return h
}

func TestOnPersonaState_AnnouncesWhenEligibleAndAboveMinimum(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)

	err := h.engine.OnPersonaState(context.Background(), "nick", "avatar")
	require.NoError(t, err)

	assert.Contains(t, h.directoryHits, "/Api/Announce")

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	assert.True(t, state.ShouldSendHeartBeats)
	assert.False(t, state.LastHeartBeat.IsZero())
}

func TestOnPersonaState_BelowMinimumItemsDoesNotAnnounce(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount-1)

	err := h.engine.OnPersonaState(context.Background(), "nick", "avatar")
	require.NoError(t, err)

	assert.NotContains(t, h.directoryHits, "/Api/Announce")

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	assert.False(t, state.ShouldSendHeartBeats)
}

func TestOnPersonaState_CooldownSkipsReannounce(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)

	require.NoError(t, h.engine.OnPersonaState(context.Background(), "nick", "avatar"))
	firstHits := len(h.directoryHits)

	require.NoError(t, h.engine.OnPersonaState(context.Background(), "nick", "avatar"))
	assert.Equal(t, firstHits, len(h.directoryHits), "cooldown should suppress the second announce")
}

func TestOnPersonaState_4xxDisablesHeartbeats(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	h.announceFails = true

	err := h.engine.OnPersonaState(context.Background(), "nick", "avatar")
	require.Error(t, err)

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	assert.False(t, state.ShouldSendHeartBeats)
	assert.True(t, state.LastHeartBeat.IsZero())
}

func TestOnHeartBeat_SendsWhenDueAndActive(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	require.NoError(t, h.engine.OnPersonaState(context.Background(), "nick", "avatar"))

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	state.LastHeartBeat = time.Now().Add(-config.MinHeartBeatTTL - time.Second)
	require.NoError(t, h.store.SaveState(context.Background(), fakeAnnounceAccount{}.SteamID(), state))

	require.NoError(t, h.engine.OnHeartBeat(context.Background()))
	assert.Contains(t, h.directoryHits, "/Api/HeartBeat")
}

func TestOnHeartBeat_NotDueIsNoop(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	require.NoError(t, h.engine.OnPersonaState(context.Background(), "nick", "avatar"))
	h.directoryHits = nil

	require.NoError(t, h.engine.OnHeartBeat(context.Background()))
	assert.NotContains(t, h.directoryHits, "/Api/HeartBeat")
}

func TestOnPersonaState_IneligibleRecordsCheckWithoutAnnouncing(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	p := h.engine.profile.(*fakeProfile)
	p.twoFactor = OutcomeFalse

	require.NoError(t, h.engine.OnPersonaState(context.Background(), "nick", "avatar"))
	assert.NotContains(t, h.directoryHits, "/Api/Announce")

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	assert.False(t, state.LastAnnouncementCheck.IsZero())
}

func TestOnPersonaState_NetworkFailureStopsHeartbeatsWithoutRecordingCheck(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	p := h.engine.profile.(*fakeProfile)
	p.twoFactor = OutcomeNetworkFailure

	err := h.engine.OnPersonaState(context.Background(), "nick", "avatar")
	require.NoError(t, err)

	state, err := h.store.GetState(context.Background(), fakeAnnounceAccount{}.SteamID())
	require.NoError(t, err)
	assert.True(t, state.LastAnnouncementCheck.IsZero(), "a network failure must not record the check")
	assert.False(t, state.ShouldSendHeartBeats)
}

func TestOnLoggedOn_JoinsGroupBestEffort(t *testing.T) {
	h := newTestHarness(t, config.MinItemsCount+10)
	h.engine.OnLoggedOn(context.Background())
}
