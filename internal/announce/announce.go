package announce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/directory"
	"github.com/mbd888/tradematch/internal/metrics"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/webclient"
)

// prefMatchEverything is the trading-preference string meaning this
// account accepts trade offers from any matching partner. Mirrors
// matcher.prefMatchEverything's value — the other side of the same
// contract, read here for the AnnounceRequest field every other
// account's ListBots call filters on.
const prefMatchEverything = "match-everything"

// Engine is the per-account announcement/heartbeat state machine of
// spec.md §4.3. One Engine is owned per logged-on account.
type Engine struct {
	accountID       uint64
	guid            string
	configuredTypes []model.ItemType

	store     Store
	directory *directory.Client
	web       *webclient.Client
	apiKeys   *webclient.APIKeyResolver
	profile   Profile
	logger    *slog.Logger

	// requestGuard serializes onPersonaState/onHeartBeat for this
	// account, per spec.md §5's "Announcement request guard (exclusive)".
	requestGuard sync.Mutex
}

// NewEngine constructs the announcement engine for one account.
func NewEngine(accountID uint64, guid string, configuredTypes []model.ItemType, store Store, directoryClient *directory.Client, web *webclient.Client, apiKeys *webclient.APIKeyResolver, profile Profile, logger *slog.Logger) *Engine {
	return &Engine{
		accountID:       accountID,
		guid:            guid,
		configuredTypes: configuredTypes,
		store:           store,
		directory:       directoryClient,
		web:             web,
		apiKeys:         apiKeys,
		profile:         profile,
		logger:          logger,
	}
}

// OnPersonaState is the primary announce gate, triggered by the
// (out-of-scope) account manager on every persona-state event.
func (e *Engine) OnPersonaState(ctx context.Context, nickname, avatarHash string) error {
	now := time.Now()

	state, err := e.store.GetState(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("announce: loading state: %w", err)
	}

	if now.Before(state.LastAnnouncementCheck.Add(config.MinAnnouncementCheckTTL)) && (state.ShouldSendHeartBeats || state.LastHeartBeat.IsZero()) {
		return nil
	}

	e.requestGuard.Lock()
	defer e.requestGuard.Unlock()

	// Re-load and re-check under the guard: another goroutine may have
	// just satisfied this cooldown while we were waiting.
	state, err = e.store.GetState(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("announce: reloading state: %w", err)
	}
	if now.Before(state.LastAnnouncementCheck.Add(config.MinAnnouncementCheckTTL)) && (state.ShouldSendHeartBeats || state.LastHeartBeat.IsZero()) {
		return nil
	}

	report := CheckEligibility(ctx, e.profile, e.apiKeys, e.configuredTypes)
	if report.NetworkFailure {
		e.logger.Warn("announce: eligibility check network failure, stopping heartbeats without recording check",
			"account_id", e.accountID, "predicate", report.FailedPredicate)
		state.ShouldSendHeartBeats = false
		state.LastHeartBeat = time.Time{}
		return e.store.SaveState(ctx, e.accountID, state)
	}
	if !report.Eligible {
		e.logger.Info("announce: account ineligible",
			"account_id", e.accountID, "predicate", report.FailedPredicate)
		state.LastAnnouncementCheck = now
		state.ShouldSendHeartBeats = false
		return e.store.SaveState(ctx, e.accountID, state)
	}

	tradeToken, outcome := e.profile.TradeToken(ctx)
	if outcome != OutcomeTrue {
		return fmt.Errorf("announce: fetching trade token: network failure")
	}

	assets, err := e.web.FetchInventory(ctx, e.accountID, config.CommunityInventoryAppID, config.CommunityInventoryContextID, webclient.InventoryFilter{
		TradableOnly: true,
		Types:        e.configuredTypes,
	})
	if err != nil {
		return fmt.Errorf("announce: fetching inventory: %w", err)
	}

	state.LastAnnouncementCheck = now
	if len(assets) < config.MinItemsCount {
		e.logger.Info("announce: inventory below minimum item count, not announcing",
			"account_id", e.accountID, "items", len(assets), "minimum", config.MinItemsCount)
		state.ShouldSendHeartBeats = false
		return e.store.SaveState(ctx, e.accountID, state)
	}

	req := directory.AnnounceRequest{
		Guid:            e.guid,
		AccountID:       e.accountID,
		Nickname:        nickname,
		AvatarHash:      avatarHash,
		ItemsCount:      len(assets),
		GamesCount:      distinctRealAppIDs(assets),
		MatchableTypes:  e.configuredTypes,
		MatchEverything: e.matchEverythingPreference(ctx),
		TradeToken:      tradeToken,
	}

	if err := e.directory.Announce(ctx, req); err != nil {
		metrics.AnnouncementsTotal.WithLabelValues("failed").Inc()
		state.ShouldSendHeartBeats = false
		state.LastHeartBeat = time.Time{}
		if saveErr := e.store.SaveState(ctx, e.accountID, state); saveErr != nil {
			return saveErr
		}
		return fmt.Errorf("announce: %w", err)
	}

	metrics.AnnouncementsTotal.WithLabelValues("ok").Inc()
	state.ShouldSendHeartBeats = true
	state.LastHeartBeat = now
	return e.store.SaveState(ctx, e.accountID, state)
}

// OnHeartBeat is the periodic heartbeat tick.
func (e *Engine) OnHeartBeat(ctx context.Context) error {
	now := time.Now()

	state, err := e.store.GetState(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("announce: loading state: %w", err)
	}

	if now.After(state.LastPersonaStateRequest.Add(config.MinPersonaStateTTL)) &&
		now.After(state.LastAnnouncementCheck.Add(config.MinAnnouncementCheckTTL)) {
		if err := e.profile.RequestPersonaRefresh(ctx); err != nil {
			e.logger.Warn("announce: persona refresh request failed", "account_id", e.accountID, "error", err)
		}
		state.LastPersonaStateRequest = now
		if err := e.store.SaveState(ctx, e.accountID, state); err != nil {
			return fmt.Errorf("announce: saving persona refresh time: %w", err)
		}
	}

	if !state.ShouldSendHeartBeats || now.Before(state.LastHeartBeat.Add(config.MinHeartBeatTTL)) {
		return nil
	}

	e.requestGuard.Lock()
	defer e.requestGuard.Unlock()

	state, err = e.store.GetState(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("announce: reloading state: %w", err)
	}
	if !state.ShouldSendHeartBeats || now.Before(state.LastHeartBeat.Add(config.MinHeartBeatTTL)) {
		return nil
	}

	if err := e.directory.HeartBeat(ctx, e.guid, e.accountID); err != nil {
		metrics.HeartBeatsTotal.WithLabelValues("failed").Inc()
		state.ShouldSendHeartBeats = false
		return e.store.SaveState(ctx, e.accountID, state)
	}

	metrics.HeartBeatsTotal.WithLabelValues("ok").Inc()
	state.LastHeartBeat = now
	return e.store.SaveState(ctx, e.accountID, state)
}

// OnLoggedOn joins the project's directory group, best-effort.
func (e *Engine) OnLoggedOn(ctx context.Context) {
	if err := e.profile.JoinGroup(ctx); err != nil {
		e.logger.Warn("announce: group join failed", "account_id", e.accountID, "error", err)
	}
}

// matchEverythingPreference reports whether the account's trading
// preferences include accepting offers from any matching partner. A
// network failure or plain absence both resolve to false: announcing
// as match-everything is an opt-in, never a fallback default.
func (e *Engine) matchEverythingPreference(ctx context.Context) bool {
	prefs, outcome := e.profile.TradingPreferences(ctx)
	if outcome != OutcomeTrue {
		return false
	}
	for _, p := range prefs {
		if p == prefMatchEverything {
			return true
		}
	}
	return false
}

func distinctRealAppIDs(assets []model.Asset) int {
	seen := make(map[uint32]struct{})
	for _, a := range assets {
		seen[a.RealAppID] = struct{}{}
	}
	return len(seen)
}
