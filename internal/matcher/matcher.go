// Package matcher implements the Active Matcher: a periodic per-account
// job that scans the matching directory for partners with complementary
// duplicate trading cards and dispatches swap trades through the Web
// Client, per spec.md §4.4.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/tradematch/internal/announce"
	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/directory"
	"github.com/mbd888/tradematch/internal/metrics"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/traces"
	"github.com/mbd888/tradematch/internal/webclient"
)

// Confirmer is the out-of-scope mobile two-factor confirmation handler;
// the matcher defers to it whenever a dispatched trade requires mobile
// confirmation.
type Confirmer interface {
	Confirm(ctx context.Context, offerIDs []string) error
}

// Blacklist reports whether a candidate partner has been excluded from
// matching by the (out-of-scope) operator tooling.
type Blacklist interface {
	IsBlacklisted(partnerID uint64) bool
}

const (
	prefMatchActively  = "match-actively"
	prefMatchEverything = "match-everything"
)

// Matcher runs the Active Matcher loop for one account.
type Matcher struct {
	accountID       uint64
	configuredTypes []model.ItemType

	account   webclient.AccountHandle
	web       *webclient.Client
	directory *directory.Client
	apiKeys   *webclient.APIKeyResolver
	profile   announce.Profile
	confirmer Confirmer
	blacklist Blacklist
	logger    *slog.Logger

	// running is the non-blocking try-acquire guard: one matching run
	// in flight at a time for this account, grounded on
	// supervisor.SpendGraph.TryAcquireHold's acquire-then-check pattern,
	// simplified to a single-account flag since a Matcher owns exactly
	// one account.
	running atomic.Bool

	stop chan struct{}
}

// NewMatcher constructs the Active Matcher for one account.
func NewMatcher(accountID uint64, configuredTypes []model.ItemType, account webclient.AccountHandle, web *webclient.Client, directoryClient *directory.Client, apiKeys *webclient.APIKeyResolver, profile announce.Profile, confirmer Confirmer, blacklist Blacklist, logger *slog.Logger) *Matcher {
	return &Matcher{
		accountID:       accountID,
		configuredTypes: configuredTypes,
		account:         account,
		web:             web,
		directory:       directoryClient,
		apiKeys:         apiKeys,
		profile:         profile,
		confirmer:       confirmer,
		blacklist:       blacklist,
		logger:          logger,
		stop:            make(chan struct{}),
	}
}

// Start runs the 8h periodic timer, staggered by loadBalancingDelay ×
// accountIndex (this account's position in the load-balancing spread)
// on top of a 1h base delay, per spec.md §4.4. It blocks until Stop is
// called or ctx is cancelled.
func (m *Matcher) Start(ctx context.Context, loadBalancingDelay time.Duration, accountIndex int) {
	initialDelay := config.ActiveMatchInitialBaseDelay + loadBalancingDelay*time.Duration(accountIndex)

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(config.ActiveMatchPeriod)
		}
	}
}

// Stop ends the periodic loop.
func (m *Matcher) Stop() {
	close(m.stop)
}

// tick runs one matchActively pass if no run is already in flight for
// this account; new ticks during a run are dropped.
func (m *Matcher) tick(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Debug("matcher: skipping tick, a run is already in flight", "account_id", m.accountID)
		return
	}
	defer m.running.Store(false)

	if err := m.matchActively(ctx); err != nil {
		m.logger.Warn("matcher: matchActively failed", "account_id", m.accountID, "error", err)
	}
}

// matchActively evaluates preconditions and runs up to
// config.MaxMatchingRounds rounds, re-testing eligibility between each,
// per spec.md §4.4.
func (m *Matcher) matchActively(ctx context.Context) error {
	if !m.account.Connected() {
		return nil
	}
	if ok, err := m.preferencesAllowActiveMatching(ctx); err != nil || !ok {
		return err
	}

	report := announce.CheckEligibility(ctx, m.profile, m.apiKeys, m.configuredTypes)
	if !report.Eligible {
		return nil
	}

	ctx, span := traces.StartSpan(ctx, "matcher.match_actively", traces.AccountID(m.accountID))
	defer span.End()

	assets, err := m.web.FetchInventory(ctx, m.accountID, config.CommunityInventoryAppID, config.CommunityInventoryContextID, webclient.InventoryFilter{
		TradableOnly: true,
		Types:        m.configuredTypes,
	})
	if err != nil {
		return fmt.Errorf("matcher: fetching own inventory: %w", err)
	}
	state := webclient.ToInventoryState(assets)
	tried := make(map[uint64]*model.TriedPartner)

	for round := 0; round < config.MaxMatchingRounds; round++ {
		if round > 0 {
			select {
			case <-time.After(config.InterRoundDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			report = announce.CheckEligibility(ctx, m.profile, m.apiKeys, m.configuredTypes)
			if !report.Eligible {
				break
			}
		}

		roundCtx, roundSpan := traces.StartSpan(ctx, "matcher.round", traces.AccountID(m.accountID), traces.Round(round))
		progress, roundErr := m.matchActivelyRound(roundCtx, assets, state, tried)
		roundSpan.End()

		if roundErr != nil {
			metrics.MatchRoundsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("matcher: round %d: %w", round, roundErr)
		}
		if progress {
			metrics.MatchRoundsTotal.WithLabelValues("progress").Inc()
		} else {
			metrics.MatchRoundsTotal.WithLabelValues("no_progress").Inc()
			break
		}
	}
	return nil
}

func (m *Matcher) preferencesAllowActiveMatching(ctx context.Context) (bool, error) {
	prefs, outcome := m.profile.TradingPreferences(ctx)
	if outcome == announce.OutcomeNetworkFailure {
		return false, fmt.Errorf("matcher: fetching trading preferences: network failure")
	}
	hasActively, hasEverything := false, false
	for _, p := range prefs {
		switch p {
		case prefMatchActively:
			hasActively = true
		case prefMatchEverything:
			hasEverything = true
		}
	}
	return hasActively && !hasEverything, nil
}
