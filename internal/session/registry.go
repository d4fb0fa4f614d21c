package session

import (
	"time"

	"github.com/google/uuid"

	"mathquest/internal/domain"
)

// join registers a user or reconnects one that left. Rejoining is idempotent
// and never resets scores or attempt counts.
func (st *state) join(userID, displayName string, now time.Time) (domain.GameParticipant, error) {
	if id, ok := st.byUser[userID]; ok {
		p := st.participants[id]
		if p.Status == domain.ParticipantLeft {
			p.Status = domain.ParticipantActive
		}
		if displayName != "" {
			p.DisplayName = displayName
		}
		p.LastActiveAt = now
		return p.Clone(), nil
	}

	if st.instance.Status == domain.InstanceCompleted && !st.instance.DeferredOpen(now) {
		return domain.GameParticipant{}, domain.ErrSessionClosed
	}

	status := domain.ParticipantPending
	if st.instance.Status != domain.InstancePending {
		// Late joins land straight in the active state.
		status = domain.ParticipantActive
	}
	p := &domain.GameParticipant{
		ID:               uuid.NewString(),
		GameInstanceID:   st.instance.ID,
		UserID:           userID,
		DisplayName:      displayName,
		Status:           status,
		AnsweredLive:     make(map[int]bool),
		AnsweredDeferred: make(map[int]bool),
		JoinedAt:         now,
		LastActiveAt:     now,
	}
	st.participants[p.ID] = p
	st.byUser[userID] = p.ID
	return p.Clone(), nil
}

// markLeft records a disconnect. Scores are untouched; the participant still
// ranks on the final leaderboard.
func (st *state) markLeft(participantID string, now time.Time) error {
	p, ok := st.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if p.Status == domain.ParticipantCompleted {
		return nil
	}
	p.Status = domain.ParticipantLeft
	p.LastActiveAt = now
	return nil
}

// markCompleted is the explicit terminal transition for one participant.
func (st *state) markCompleted(participantID string, now time.Time) error {
	p, ok := st.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if p.Status == domain.ParticipantCompleted {
		return nil
	}
	st.completeParticipant(p, now)
	return nil
}

func (st *state) participant(participantID string) (domain.GameParticipant, error) {
	p, ok := st.participants[participantID]
	if !ok {
		return domain.GameParticipant{}, domain.ErrParticipantNotFound
	}
	return p.Clone(), nil
}
