package model

import "time"

// AnnouncementState is per-account announce/heartbeat bookkeeping. It
// survives for the life of the account's session; resetting it on
// disconnect is not required.
type AnnouncementState struct {
	LastAnnouncementCheck time.Time
	LastHeartBeat         time.Time
	LastPersonaStateRequest time.Time
	ShouldSendHeartBeats  bool
}

// NewAnnouncementState returns a state with all timestamps at the epoch
// minimum, per spec.
func NewAnnouncementState() *AnnouncementState {
	return &AnnouncementState{}
}
