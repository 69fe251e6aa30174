package matcher

import (
	"context"

	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/model"
	"github.com/mbd888/tradematch/internal/webclient"
)

// matchActivelyRound runs the nine numbered steps of spec.md §4.4.1
// against the account's working inventory state. ourAssets is the
// account's own tradable inventory (restricted to accepted matchable
// types), fetched once per matchActively call; state is mutated across
// the whole matching pass as sets are consumed.
func (m *Matcher) matchActivelyRound(ctx context.Context, ourAssets []model.Asset, state *model.InventoryState, tried map[uint64]*model.TriedPartner) (bool, error) {
	if !state.AnyDuplicateAnywhere() {
		return false, nil
	}

	candidates, err := m.directory.ListBots(ctx, true)
	if err != nil {
		return false, err
	}

	ordered := m.filterAndOrderCandidates(candidates, tried)
	if len(ordered) > config.MaxMatchedBotsHard {
		ordered = ordered[:config.MaxMatchedBotsHard]
	}

	roundSkipped := make(map[model.SetKey]struct{})
	emptyMatches := 0

	for _, candidate := range ordered {
		if emptyMatches >= config.MaxMatchedBotsSoft {
			break
		}

		userSkipped, err := m.matchAgainstCandidate(ctx, candidate, ourAssets, state, tried)
		if err != nil {
			m.logger.Warn("matcher: trade attempt against candidate failed", "account_id", m.accountID, "partner_id", candidate.SteamID, "error", err)
		}

		if len(userSkipped) == 0 {
			if len(roundSkipped) == 0 {
				partner := tried[candidate.SteamID]
				if partner == nil {
					partner = model.NewTriedPartner()
					tried[candidate.SteamID] = partner
				}
				partner.MarkExhausted()
			}
			emptyMatches++
		}

		for set := range userSkipped {
			roundSkipped[set] = struct{}{}
			state.EraseSet(set)
		}

		if !state.AnyDuplicateAnywhere() {
			break
		}
	}

	return len(roundSkipped) > 0, nil
}

// matchAgainstCandidate runs up to config.MaxTradesPerAccount swap
// attempts against one candidate, dispatching each accepted trade.
// Returns the set of set keys consumed against this candidate.
func (m *Matcher) matchAgainstCandidate(ctx context.Context, candidate model.ListedUser, ourAssets []model.Asset, state *model.InventoryState, tried map[uint64]*model.TriedPartner) (map[model.SetKey]struct{}, error) {
	if m.blacklist != nil && m.blacklist.IsBlacklisted(candidate.SteamID) {
		return nil, nil
	}

	wanted := wantedSetsFor(candidate, state)
	if len(wanted) == 0 {
		return nil, nil
	}

	partnerAssets, err := m.web.FetchInventory(ctx, candidate.SteamID, config.CommunityInventoryAppID, config.CommunityInventoryContextID, webclient.InventoryFilter{
		TradableOnly: true,
		Types:        m.configuredTypes,
	})
	if err != nil {
		return nil, err
	}
	partnerState := webclient.ToInventoryState(partnerAssets)

	usedOurs := make(map[uint64]struct{})
	usedTheirs := make(map[uint64]struct{})
	consumed := make(map[model.SetKey]struct{})

	for i := 0; i < config.MaxTradesPerAccount; i++ {
		set, giveClasses, receiveClasses, ok := m.findSwap(wanted, consumed, state, partnerState)
		if !ok {
			break
		}

		give, giveOK := materializeInstances(ourAssets, set, giveClasses, usedOurs)
		receive, receiveOK := materializeInstances(partnerAssets, set, receiveClasses, usedTheirs)
		if !giveOK || !receiveOK || len(give) != len(receive) || len(give) == 0 {
			break
		}

		giveIDs, receiveIDs := assetIDs(give), assetIDs(receive)

		partner := tried[candidate.SteamID]
		if partner == nil {
			partner = model.NewTriedPartner()
			tried[candidate.SteamID] = partner
		}
		if partner.SameAsLastAttempt(giveIDs, receiveIDs) {
			partner.MarkExhausted()
			break
		}
		partner.Union(giveIDs, receiveIDs)
		partner.Tries++

		result, err := m.web.SubmitTrade(ctx, candidate.SteamID, give, receive, candidate.TradeToken, false)
		if err != nil {
			return consumed, err
		}
		if result.NeedsMobileConfirmation && m.confirmer != nil {
			if confirmErr := m.confirmer.Confirm(ctx, result.OfferIDs); confirmErr != nil {
				m.logger.Warn("matcher: mobile confirmation failed", "account_id", m.accountID, "partner_id", candidate.SteamID, "error", confirmErr)
			}
		}

		consumed[set] = struct{}{}
	}

	return consumed, nil
}

// findSwap scans the candidate's wanted sets (excluding ones already
// consumed this candidate) for the first set yielding a non-empty swap.
// Set iteration order is unspecified; spec.md §4.4.3 orders candidates,
// give picks, and receive picks, not sets themselves.
func (m *Matcher) findSwap(wanted map[model.SetKey]struct{}, consumed map[model.SetKey]struct{}, state, partnerState *model.InventoryState) (model.SetKey, []uint64, []uint64, bool) {
	for set := range wanted {
		if _, done := consumed[set]; done {
			continue
		}
		if !state.HasDuplicate(set) {
			continue
		}
		partnerTradable := partnerState.Tradable[set]
		if len(partnerTradable) == 0 {
			continue
		}
		give, receive := swapInnerLoop(state.Full[set], state.Tradable[set], partnerTradable)
		if len(give) > 0 {
			return set, give, receive, true
		}
	}
	return model.SetKey{}, nil, nil, false
}

// wantedSetsFor is the set of our duplicate-bearing sets the candidate
// accepts at least one matchable type for.
func wantedSetsFor(candidate model.ListedUser, state *model.InventoryState) map[model.SetKey]struct{} {
	wanted := make(map[model.SetKey]struct{})
	for set := range state.Full {
		if !state.HasDuplicate(set) {
			continue
		}
		if !candidate.Matchable[set.Type] {
			continue
		}
		wanted[set] = struct{}{}
	}
	return wanted
}

// materializeInstances picks one concrete, not-yet-used tradable asset
// instance per requested classID from assets within set.
func materializeInstances(assets []model.Asset, set model.SetKey, classIDs []uint64, used map[uint64]struct{}) ([]model.Asset, bool) {
	out := make([]model.Asset, 0, len(classIDs))
	for _, classID := range classIDs {
		var picked *model.Asset
		for _, a := range webclient.ClassInstances(assets, set, classID) {
			if _, seen := used[a.AssetID]; seen {
				continue
			}
			a := a
			picked = &a
			break
		}
		if picked == nil {
			return nil, false
		}
		used[picked.AssetID] = struct{}{}
		out = append(out, *picked)
	}
	return out, true
}

func assetIDs(assets []model.Asset) []uint64 {
	ids := make([]uint64, len(assets))
	for i, a := range assets {
		ids[i] = a.AssetID
	}
	return ids
}

// filterAndOrderCandidates applies spec.md §4.4.1 step 4: candidates
// must accept everything, overlap at least one matchable type, not be
// blacklisted, and not have exhausted their tries; ordered by
// (ascending tries, descending score).
func (m *Matcher) filterAndOrderCandidates(candidates []model.ListedUser, tried map[uint64]*model.TriedPartner) []model.ListedUser {
	filtered := make([]model.ListedUser, 0, len(candidates))
	for _, c := range candidates {
		if !c.MatchEverything {
			continue
		}
		if !c.AcceptsAny(m.configuredTypes) {
			continue
		}
		if m.blacklist != nil && m.blacklist.IsBlacklisted(c.SteamID) {
			continue
		}
		if partner := tried[c.SteamID]; partner != nil && partner.Exhausted() {
			continue
		}
		filtered = append(filtered, c)
	}

	triesOf := func(id uint64) int {
		if p := tried[id]; p != nil {
			return p.Tries
		}
		return 0
	}
	for i := 1; i < len(filtered); i++ {
		for j := i; j > 0; j-- {
			a, b := filtered[j-1], filtered[j]
			if triesOf(a.SteamID) < triesOf(b.SteamID) {
				break
			}
			if triesOf(a.SteamID) == triesOf(b.SteamID) && a.Score() >= b.Score() {
				break
			}
			filtered[j-1], filtered[j] = filtered[j], filtered[j-1]
		}
	}
	return filtered
}
