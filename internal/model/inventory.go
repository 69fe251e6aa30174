package model

// InventoryState is a pair of set-scoped class-count mappings: the full
// state (every owned copy, tradable or not) and the tradable state
// (copies currently tradable). The invariant tradable[s][c] <= full[s][c]
// must hold for every (set, classID) after any mutation.
type InventoryState struct {
	Full     map[SetKey]map[uint64]uint32
	Tradable map[SetKey]map[uint64]uint32
}

// NewInventoryState returns an empty, non-nil InventoryState.
func NewInventoryState() *InventoryState {
	return &InventoryState{
		Full:     make(map[SetKey]map[uint64]uint32),
		Tradable: make(map[SetKey]map[uint64]uint32),
	}
}

// Add records amount owned copies of classID in set, also counting them
// in the tradable state if tradable, creating inner maps lazily.
func (s *InventoryState) Add(set SetKey, classID uint64, amount uint32, tradable bool) {
	if s.Full[set] == nil {
		s.Full[set] = make(map[uint64]uint32)
	}
	s.Full[set][classID] += amount
	if tradable {
		if s.Tradable[set] == nil {
			s.Tradable[set] = make(map[uint64]uint32)
		}
		s.Tradable[set][classID] += amount
	}
}

// HasDuplicate reports whether any classID in set has a full count >= 2.
func (s *InventoryState) HasDuplicate(set SetKey) bool {
	for _, count := range s.Full[set] {
		if count >= 2 {
			return true
		}
	}
	return false
}

// AnyDuplicateAnywhere reports whether any set in the state has a
// duplicate, per the "no progress" check in matchActivelyRound step 2.
func (s *InventoryState) AnyDuplicateAnywhere() bool {
	for set := range s.Full {
		if s.HasDuplicate(set) {
			return true
		}
	}
	return false
}

// EraseSet removes a set entirely from both mappings, per the
// skipped-set bookkeeping in matchActivelyRound step 8.
func (s *InventoryState) EraseSet(set SetKey) {
	delete(s.Full, set)
	delete(s.Tradable, set)
}

// Valid reports whether tradable <= full holds for every (set, classID)
// tracked by the state. Exercised by invariant tests after each round.
func (s *InventoryState) Valid() bool {
	for set, classes := range s.Tradable {
		full := s.Full[set]
		for classID, tradableCount := range classes {
			if tradableCount > full[classID] {
				return false
			}
		}
	}
	return true
}
