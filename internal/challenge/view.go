package challenge

import (
	"time"

	"relayhub/pkg/types"
)

type AnswerView struct {
	QuestionID     string   `json:"questionId"`
	QuestionText   string   `json:"questionText"`
	Choices        []string `json:"choices"`
	SelectedIndex  int      `json:"selectedIndex"`
	CorrectIndex   *int     `json:"correctIndex,omitempty"`
	IsCorrect      bool     `json:"isCorrect"`
	PointsAwarded  int      `json:"pointsAwarded"`
	PointsPossible int      `json:"pointsPossible"`
}

type AttemptView struct {
	ID              string       `json:"id"`
	ParticipantID   string       `json:"participantId,omitempty"`
	ParticipantName string       `json:"participantName"`
	Score           int          `json:"score"`
	CorrectCount    int          `json:"correctCount"`
	TotalQuestions  int          `json:"totalQuestions"`
	CreatedAt       time.Time    `json:"createdAt"`
	Answers         []AnswerView `json:"answers"`
}

type QuestionView struct {
	QuestionID   string             `json:"questionId"`
	QuestionText string             `json:"questionText"`
	Choices      []string           `json:"choices"`
	Points       int                `json:"points"`
	TTS          *types.QuestionTTS `json:"tts,omitempty"`
	CorrectIndex *int               `json:"correctIndex,omitempty"`
}

// View is the client representation of a challenge.
type View struct {
	ID            string                 `json:"id"`
	Source        string                 `json:"source"`
	BgAudioURL    string                 `json:"bgAudioUrl"`
	Title         string                 `json:"title"`
	SenderName    string                 `json:"senderName"`
	Category      types.Category         `json:"category"`
	Rules         types.Rules            `json:"rules"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	QuestionCount int                    `json:"questionCount"`
	SenderAttempt *AttemptView           `json:"senderAttempt"`
	Attempts      []AttemptView          `json:"attempts"`
	Leaderboard   []types.LeaderboardRow `json:"leaderboard"`
	Questions     []QuestionView         `json:"questions"`
	ShareURL      string                 `json:"shareUrl"`
}

// NewView renders rec. Correct answers are only included for viewers that
// are allowed to see them; other participants' ids never are.
func NewView(rec types.ChallengeRecord, shareURL string, includeCorrect bool, leaderboardSize int) View {
	v := View{
		ID:            rec.ID,
		Source:        rec.Source,
		BgAudioURL:    rec.BgAudioURL,
		Title:         rec.Title,
		SenderName:    rec.SenderName,
		Category:      rec.Category,
		Rules:         rec.Rules,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		ExpiresAt:     rec.ExpiresAt,
		QuestionCount: len(rec.Questions),
		Attempts:      make([]AttemptView, 0, len(rec.Attempts)),
		Leaderboard:   Leaderboard(rec, leaderboardSize),
		Questions:     make([]QuestionView, 0, len(rec.Questions)),
		ShareURL:      shareURL,
	}
	if rec.SenderAttempt != nil {
		sender := NewAttemptView(*rec.SenderAttempt, false, false)
		v.SenderAttempt = &sender
	}
	for _, a := range rec.Attempts {
		v.Attempts = append(v.Attempts, NewAttemptView(a, false, false))
	}
	for _, q := range rec.Questions {
		qv := QuestionView{
			QuestionID:   q.QuestionID,
			QuestionText: q.QuestionText,
			Choices:      q.Choices,
			Points:       q.Points,
			TTS:          q.TTS,
		}
		if includeCorrect {
			idx := q.CorrectIndex
			qv.CorrectIndex = &idx
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}

// NewAttemptView renders a single attempt.
func NewAttemptView(a types.Attempt, includeCorrect, includeParticipant bool) AttemptView {
	out := AttemptView{
		ID:              a.ID,
		ParticipantName: a.ParticipantName,
		Score:           a.Score,
		CorrectCount:    a.CorrectCount,
		TotalQuestions:  a.TotalQuestions,
		CreatedAt:       a.CreatedAt,
		Answers:         make([]AnswerView, 0, len(a.Answers)),
	}
	if includeParticipant {
		out.ParticipantID = a.ParticipantID
	}
	for _, ans := range a.Answers {
		av := AnswerView{
			QuestionID:     ans.QuestionID,
			QuestionText:   ans.QuestionText,
			Choices:        ans.Choices,
			SelectedIndex:  ans.SelectedIndex,
			IsCorrect:      ans.IsCorrect,
			PointsAwarded:  ans.PointsAwarded,
			PointsPossible: ans.PointsPossible,
		}
		if includeCorrect {
			idx := ans.CorrectIndex
			av.CorrectIndex = &idx
		}
		out.Answers = append(out.Answers, av)
	}
	return out
}
