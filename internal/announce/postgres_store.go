package announce

import (
	"context"
	"database/sql"

	"github.com/mbd888/tradematch/internal/model"
)

// PostgresStore persists AnnouncementState in PostgreSQL, so an
// account's announce/heartbeat cadence survives a process restart.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed announcement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetState(ctx context.Context, accountID uint64) (*model.AnnouncementState, error) {
	var s model.AnnouncementState
	err := p.db.QueryRowContext(ctx, `
		SELECT last_announcement_check, last_heartbeat, last_persona_state_request, should_send_heartbeats
		FROM announcement_state WHERE account_id = $1`, accountID,
	).Scan(&s.LastAnnouncementCheck, &s.LastHeartBeat, &s.LastPersonaStateRequest, &s.ShouldSendHeartBeats)
	if err == sql.ErrNoRows {
		return model.NewAnnouncementState(), nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) SaveState(ctx context.Context, accountID uint64, state *model.AnnouncementState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO announcement_state (
			account_id, last_announcement_check, last_heartbeat, last_persona_state_request,
			should_send_heartbeats, updated_at
		) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (account_id) DO UPDATE SET
			last_announcement_check = EXCLUDED.last_announcement_check,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_persona_state_request = EXCLUDED.last_persona_state_request,
			should_send_heartbeats = EXCLUDED.should_send_heartbeats,
			updated_at = now()`,
		accountID, state.LastAnnouncementCheck, state.LastHeartBeat, state.LastPersonaStateRequest, state.ShouldSendHeartBeats,
	)
	return err
}

var _ Store = (*PostgresStore)(nil)
