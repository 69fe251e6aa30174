// Package announce implements the per-account announcement/heartbeat
// state machine: periodic eligibility checks, directory announcement,
// heartbeats, and the tri-valued eligibility predicate the Active
// Matcher also consults.
package announce

import (
	"context"

	"github.com/mbd888/tradematch/internal/model"
)

// Store holds per-account AnnouncementState.
// The in-memory implementation is spec-mandated (state survives only for
// the life of the account's session); the Postgres implementation is a
// domain-stack enrichment for operators who want it to survive restarts.
type Store interface {
	GetState(ctx context.Context, accountID uint64) (*model.AnnouncementState, error)
	SaveState(ctx context.Context, accountID uint64, state *model.AnnouncementState) error
}
