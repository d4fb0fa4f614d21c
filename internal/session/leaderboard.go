package session

import (
	"sort"
	"time"

	"mathquest/internal/domain"
)

// computeLeaderboard produces a ranked snapshot of one view. The ordering is
// a strict total order: score descending, then earliest completion, then
// earliest join, then participant id. Re-running it over an unchanged
// participant set yields an identical ranking.
func (st *state) computeLeaderboard(view domain.LeaderboardView, now time.Time) domain.Leaderboard {
	type row struct {
		summary     domain.ParticipantSummary
		completedAt *time.Time
		joinedAt    time.Time
	}

	rows := make([]row, 0, len(st.participants))
	for _, p := range st.participants {
		score := p.LiveScore
		if view == domain.ViewDeferred {
			score = p.DeferredScore
		}
		rows = append(rows, row{
			summary: domain.ParticipantSummary{
				ParticipantID: p.ID,
				UserID:        p.UserID,
				DisplayName:   p.DisplayName,
				Score:         score,
			},
			completedAt: p.CompletedAt,
			joinedAt:    p.JoinedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.summary.Score != b.summary.Score {
			return a.summary.Score > b.summary.Score
		}
		switch {
		case a.completedAt != nil && b.completedAt != nil:
			if !a.completedAt.Equal(*b.completedAt) {
				return a.completedAt.Before(*b.completedAt)
			}
		case a.completedAt != nil:
			return true
		case b.completedAt != nil:
			return false
		}
		if !a.joinedAt.Equal(b.joinedAt) {
			return a.joinedAt.Before(b.joinedAt)
		}
		return a.summary.ParticipantID < b.summary.ParticipantID
	})

	entries := make([]domain.ParticipantSummary, len(rows))
	for i := range rows {
		rows[i].summary.Rank = i + 1
		entries[i] = rows[i].summary
	}
	return domain.Leaderboard{
		InstanceID: st.instance.ID,
		View:       view,
		Entries:    entries,
		UpdatedAt:  now,
	}
}
