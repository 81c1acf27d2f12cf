package challenge

import (
	"sort"

	"relayhub/pkg/types"
)

// Leaderboard ranks the sender and every participant by score, earliest
// submission first on ties, and keeps the top n rows. The sender is always
// present, with a zero score when they did not submit a run.
func Leaderboard(rec types.ChallengeRecord, n int) []types.LeaderboardRow {
	rows := make([]types.LeaderboardRow, 0, len(rec.Attempts)+1)

	if sender := rec.SenderAttempt; sender != nil {
		name := sender.ParticipantName
		if name == "" {
			name = rec.SenderName
		}
		createdAt := sender.CreatedAt
		if createdAt.IsZero() {
			createdAt = rec.CreatedAt
		}
		rows = append(rows, types.LeaderboardRow{
			ID:              sender.ID,
			ParticipantName: name,
			Score:           sender.Score,
			IsSender:        true,
			CreatedAt:       createdAt,
		})
	} else {
		rows = append(rows, types.LeaderboardRow{
			ID:              senderParticipantID,
			ParticipantName: rec.SenderName,
			IsSender:        true,
			CreatedAt:       rec.CreatedAt,
		})
	}

	for _, a := range rec.Attempts {
		rows = append(rows, types.LeaderboardRow{
			ID:              a.ID,
			ParticipantName: a.ParticipantName,
			Score:           a.Score,
			CreatedAt:       a.CreatedAt,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
