package challenge

import (
	"time"

	"relayhub/internal/identity"
	"relayhub/internal/quiz"
	"relayhub/pkg/types"
)

const senderParticipantID = "sender"

// breakdown scores selected against questions. Unanswered questions count as
// selection -1; with includeMissing false they are left out entirely.
func breakdown(selected map[string]int, questions []types.Question, includeMissing bool) []types.Answer {
	out := []types.Answer{}
	if !includeMissing && len(selected) == 0 {
		return out
	}
	for _, q := range questions {
		idx, answered := selected[q.QuestionID]
		if !answered {
			if !includeMissing {
				continue
			}
			idx = -1
		}
		correct := idx == q.CorrectIndex
		awarded := 0
		if correct {
			awarded = q.Points
		}
		out = append(out, types.Answer{
			QuestionID:     q.QuestionID,
			QuestionText:   q.QuestionText,
			Choices:        q.Choices,
			SelectedIndex:  idx,
			CorrectIndex:   q.CorrectIndex,
			IsCorrect:      correct,
			PointsAwarded:  awarded,
			PointsPossible: q.Points,
		})
	}
	return out
}

// tally sums points and correct answers over a breakdown.
func tally(answers []types.Answer) (score, correct int) {
	for _, a := range answers {
		if a.IsCorrect {
			score += a.PointsPossible
			correct++
		}
	}
	return score, correct
}

// scoreAttempt builds a fresh participant attempt.
func scoreAttempt(participantID, name string, selected map[string]int, questions []types.Question, now time.Time) types.Attempt {
	answers := breakdown(selected, questions, true)
	score, correct := tally(answers)
	return types.Attempt{
		ID:              identity.NewID(identity.AttemptIDLength),
		ParticipantID:   participantID,
		ParticipantName: name,
		Score:           score,
		CorrectCount:    correct,
		TotalQuestions:  len(questions),
		CreatedAt:       now,
		Answers:         answers,
	}
}

// senderAttemptFromBody reads the sender's own run submitted alongside a new
// challenge. It returns nil unless answers or a numeric score is present.
// When answers are present the score is recomputed over the answered
// questions only.
func senderAttemptFromBody(raw any, questions []types.Question, senderName string, now time.Time) *types.Attempt {
	record, ok := quiz.AsRecord(raw)
	if !ok {
		return nil
	}
	rawAnswers, _ := record["answers"].([]any)
	hasAnswers := len(rawAnswers) > 0
	hasScore := quiz.IsNumber(record["score"]) || quiz.IsNumber(quiz.ReadField(record, "correctCount", "correctcount"))
	if !hasAnswers && !hasScore {
		return nil
	}

	name := senderName
	if v := quiz.ReadField(record, "participantName", "participantname", "name"); truthy(v) {
		name = types.SanitizeDisplayName(v)
	}
	createdAt := now
	if s, ok := quiz.ReadField(record, "createdAt", "createdat").(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			createdAt = parsed
		}
	}

	answers := breakdown(quiz.SelectedAnswers(rawAnswers), questions, false)
	score := quiz.AsInt(record["score"], 0)
	correct := 0
	if len(answers) > 0 {
		score, correct = tally(answers)
	} else {
		correct = quiz.AsInt(quiz.ReadField(record, "correctCount", "correctcount"), 0)
	}

	id := types.SanitizeID(record["id"])
	if id == "" {
		id = senderParticipantID
	}
	return &types.Attempt{
		ID:              id,
		ParticipantID:   senderParticipantID,
		ParticipantName: name,
		Score:           score,
		CorrectCount:    correct,
		TotalQuestions:  len(questions),
		CreatedAt:       createdAt,
		Answers:         answers,
	}
}

func selectionsOf(answers []types.Answer) map[string]int {
	out := make(map[string]int, len(answers))
	for _, a := range answers {
		if id := types.SanitizeID(a.QuestionID); id != "" {
			out[id] = a.SelectedIndex
		}
	}
	return out
}

// restoreSenderAttempt re-validates a persisted sender attempt against the
// current question set.
func restoreSenderAttempt(in *types.Attempt, questions []types.Question, senderName string, now time.Time) *types.Attempt {
	if in == nil {
		return nil
	}
	out := *in
	out.ParticipantID = senderParticipantID
	if out.ID = types.SanitizeID(in.ID); out.ID == "" {
		out.ID = senderParticipantID
	}
	out.ParticipantName = senderName
	if in.ParticipantName != "" {
		out.ParticipantName = types.SanitizeDisplayName(in.ParticipantName)
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.TotalQuestions = len(questions)
	out.Answers = breakdown(selectionsOf(in.Answers), questions, false)
	if len(out.Answers) > 0 {
		out.Score, out.CorrectCount = tally(out.Answers)
	}
	return &out
}

// restoreAttempt re-validates a persisted participant attempt. Attempts
// without a participant id are dropped. The stored score is kept, the
// correct count is recomputed.
func restoreAttempt(in types.Attempt, questions []types.Question, now time.Time) (types.Attempt, bool) {
	participantID := types.SanitizeID(in.ParticipantID)
	if participantID == "" {
		return types.Attempt{}, false
	}
	out := in
	out.ParticipantID = participantID
	if out.ID = types.SanitizeID(in.ID); out.ID == "" {
		out.ID = identity.NewID(identity.AttemptIDLength)
	}
	out.ParticipantName = types.SanitizeDisplayName(in.ParticipantName)
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.Answers = breakdown(selectionsOf(in.Answers), questions, true)
	_, out.CorrectCount = tally(out.Answers)
	out.TotalQuestions = len(questions)
	return out, true
}

// truthy mirrors loose client semantics: nil, "", false and 0 are absent.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	default:
		return true
	}
}

func firstTruthy(record map[string]any, keys ...string) any {
	for _, key := range keys {
		if v := record[key]; truthy(v) {
			return v
		}
	}
	return nil
}
