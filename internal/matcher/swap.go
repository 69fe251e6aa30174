package matcher

import "github.com/mbd888/tradematch/internal/config"

// swapInnerLoop runs the duplicate-reduction swap loop for a single set
// against one candidate partner's tradable holdings, per spec.md §4.4.2.
// ourFull and ourTradable are mutated in place to reflect each accepted
// swap; partnerTradable is mutated in place to reflect the candidate's
// copies consumed within this round, so a later set in the same
// candidate pass never double-offers a class already spent here.
//
// The acceptance test compares full counts. The tradable-ledger update
// decrements the tradable count directly rather than deriving it from
// the full count, per the resolved ambiguity between "fullAmount -
// amount" and "tradableAmount - amount": a swap never promotes a
// non-tradable copy into the tradable ledger, and the full ledger is
// decremented independently of whichever copies happen to be tradable.
func swapInnerLoop(ourFull, ourTradable, partnerTradable map[uint64]uint32) (give, receive []uint64) {
	itemsInTrade := 0
	for itemsInTrade < config.MaxItemsPerTrade-1 {
		g, ok := bestGiveCandidate(ourFull)
		if !ok {
			break
		}
		r, ok := bestReceiveCandidate(partnerTradable, ourFull, g)
		if !ok {
			break
		}
		if !(ourFull[g] > ourFull[r]+1) {
			break
		}

		ourFull[g]--
		ourFull[r]++
		ourTradable[g]--
		partnerTradable[r]--
		itemsInTrade += 2

		give = append(give, g)
		receive = append(receive, r)
	}
	return give, receive
}

// bestGiveCandidate picks our classID with count >= 2, ordered by
// descending count (ties broken by classID for determinism).
func bestGiveCandidate(ourFull map[uint64]uint32) (uint64, bool) {
	var best uint64
	var bestCount uint32
	found := false
	for classID, count := range ourFull {
		if count < 2 {
			continue
		}
		if !found || count > bestCount || (count == bestCount && classID < best) {
			best, bestCount, found = classID, count, true
		}
	}
	return best, found
}

// bestReceiveCandidate picks a classID from the partner's tradable
// holdings that we own the least of, excluding the class we are giving.
func bestReceiveCandidate(partnerTradable, ourFull map[uint64]uint32, exclude uint64) (uint64, bool) {
	var best uint64
	var bestOwned uint32
	found := false
	for classID, count := range partnerTradable {
		if count == 0 || classID == exclude {
			continue
		}
		owned := ourFull[classID]
		if !found || owned < bestOwned || (owned == bestOwned && classID < best) {
			best, bestOwned, found = classID, owned, true
		}
	}
	return best, found
}
