package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathquest/internal/domain"
	"mathquest/internal/session"
)

func rehydrated(t *testing.T, participants []domain.GameParticipant) *session.Session {
	t.Helper()
	clock := newFakeClock()
	instance := domain.GameInstance{
		ID:              "game-lb",
		AccessCode:      "LB1234",
		Status:          domain.InstanceActive,
		PlayMode:        domain.PlayModeQuiz,
		CurrentQuestion: 0,
	}
	s := session.New(instance, testQuestions(3), participants, session.Options{Clock: clock.Now})
	t.Cleanup(s.Stop)
	return s
}

func lbParticipant(id string, live, deferred int, joinedAt time.Time, completedAt *time.Time) domain.GameParticipant {
	return domain.GameParticipant{
		ID:            id,
		UserID:        "u-" + id,
		DisplayName:   id,
		Status:        domain.ParticipantActive,
		LiveScore:     live,
		DeferredScore: deferred,
		JoinedAt:      joinedAt,
		CompletedAt:   completedAt,
	}
}

func TestLeaderboardOrderingAndTieBreaks(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	early := base.Add(5 * time.Minute)
	late := base.Add(10 * time.Minute)

	s := rehydrated(t, []domain.GameParticipant{
		lbParticipant("carol", 200, 0, base.Add(2*time.Minute), nil),
		lbParticipant("alice", 300, 0, base, &late),
		lbParticipant("bob", 300, 0, base.Add(time.Minute), &early),
		lbParticipant("dave", 200, 0, base.Add(time.Minute), nil),
	})

	lb := s.Leaderboard(domain.ViewLive)
	require.Len(t, lb.Entries, 4)

	// Bob completed earlier, so he beats Alice despite the equal score.
	assert.Equal(t, "bob", lb.Entries[0].ParticipantID)
	assert.Equal(t, "alice", lb.Entries[1].ParticipantID)
	// Neither Dave nor Carol completed; earlier join wins.
	assert.Equal(t, "dave", lb.Entries[2].ParticipantID)
	assert.Equal(t, "carol", lb.Entries[3].ParticipantID)

	for i, entry := range lb.Entries {
		assert.Equal(t, i+1, entry.Rank)
	}
}

func TestLeaderboardIsDeterministic(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	participants := []domain.GameParticipant{
		lbParticipant("p1", 100, 50, base, nil),
		lbParticipant("p2", 100, 70, base, nil),
		lbParticipant("p3", 100, 70, base, nil),
	}

	first := rehydrated(t, participants).Leaderboard(domain.ViewLive)
	second := rehydrated(t, participants).Leaderboard(domain.ViewLive)
	require.Equal(t, len(first.Entries), len(second.Entries))
	for i := range first.Entries {
		assert.Equal(t, first.Entries[i].ParticipantID, second.Entries[i].ParticipantID)
		assert.Equal(t, first.Entries[i].Rank, second.Entries[i].Rank)
	}
}

func TestLeaderboardViewsUseSeparateAccumulators(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := rehydrated(t, []domain.GameParticipant{
		lbParticipant("p1", 300, 10, base, nil),
		lbParticipant("p2", 100, 90, base, nil),
	})

	live := s.Leaderboard(domain.ViewLive)
	assert.Equal(t, "p1", live.Entries[0].ParticipantID)

	deferred := s.Leaderboard(domain.ViewDeferred)
	assert.Equal(t, "p2", deferred.Entries[0].ParticipantID)
	assert.Equal(t, 90, deferred.Entries[0].Score)
}
