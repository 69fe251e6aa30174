package announce

import (
	"context"

	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/webclient"
)

// Outcome is the tri-valued result of an eligibility component, per
// spec.md §4.3.1: a component can be true, false, or unreachable. A
// network failure on any component propagates to "stop heartbeats
// without recording check" rather than being conflated with a plain
// false.
type Outcome int

const (
	OutcomeFalse Outcome = iota
	OutcomeTrue
	OutcomeNetworkFailure
)

// prefMatcher is the trading-preference string the eligibility
// predicate requires.
const prefMatcher = "steam-trade-matcher"

// Profile is the account-facing collaborator surface for the
// predicates eligibility depends on that live outside this module,
// owned by the out-of-scope account/connection manager (spec.md §9's
// Account lifecycle manager non-goal).
type Profile interface {
	HasMobileTwoFactor(ctx context.Context) Outcome
	TradingPreferences(ctx context.Context) ([]string, Outcome)
	InventoryIsPublic(ctx context.Context) Outcome
	// TradeToken returns the account's own trade token, used on the
	// outgoing Announce call.
	TradeToken(ctx context.Context) (string, Outcome)
	// RequestPersonaRefresh asks the (out-of-scope) account manager to
	// re-fetch the persona, best-effort.
	RequestPersonaRefresh(ctx context.Context) error
	// JoinGroup joins the project's directory group, best-effort.
	JoinGroup(ctx context.Context) error
}

// EligibilityReport records the eligibility predicate's verdict and,
// when ineligible, which component failed — a supplemented diagnostic
// for the "please report" log line spec.md §7 calls for.
type EligibilityReport struct {
	Eligible        bool
	NetworkFailure  bool
	FailedPredicate string
}

// CheckEligibility evaluates spec.md §4.3.1's composite predicate:
// mobile 2FA AND steam-trade-matcher trading preference AND at least
// one accepted matchable type configured AND a valid API key AND a
// public inventory. Evaluation short-circuits on the first failing or
// network-failed component.
func CheckEligibility(ctx context.Context, profile Profile, apiKeys *webclient.APIKeyResolver, configuredTypes []model.ItemType) EligibilityReport {
	switch profile.HasMobileTwoFactor(ctx) {
	case OutcomeNetworkFailure:
		return EligibilityReport{NetworkFailure: true, FailedPredicate: "mobile-two-factor"}
	case OutcomeFalse:
		return EligibilityReport{FailedPredicate: "mobile-two-factor"}
	}

	prefs, outcome := profile.TradingPreferences(ctx)
	if outcome == OutcomeNetworkFailure {
		return EligibilityReport{NetworkFailure: true, FailedPredicate: "trading-preferences"}
	}
	if !containsPref(prefs, prefMatcher) {
		return EligibilityReport{FailedPredicate: "trading-preferences"}
	}

	if !anyAcceptedMatchableType(configuredTypes) {
		return EligibilityReport{FailedPredicate: "matchable-types"}
	}

	if ok, _ := apiKeys.Get(ctx); !ok {
		return EligibilityReport{FailedPredicate: "api-key"}
	}

	switch profile.InventoryIsPublic(ctx) {
	case OutcomeNetworkFailure:
		return EligibilityReport{NetworkFailure: true, FailedPredicate: "inventory-public"}
	case OutcomeFalse:
		return EligibilityReport{FailedPredicate: "inventory-public"}
	}

	return EligibilityReport{Eligible: true}
}

func containsPref(prefs []string, want string) bool {
	for _, p := range prefs {
		if p == want {
			return true
		}
	}
	return false
}

func anyAcceptedMatchableType(configured []model.ItemType) bool {
	for _, t := range configured {
		if model.IsMatchable(t) {
			return true
		}
	}
	return false
}
