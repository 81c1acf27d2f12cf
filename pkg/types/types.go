package types

import "time"

// ProtocolVersion is stamped on every envelope and session payload.
const ProtocolVersion = "1.0"

// Role is one side of a session. Every envelope flows from one role to the other.
type Role string

const (
	RoleHost       Role = "host"
	RoleController Role = "controller"
)

// Opposite returns the peer role.
func (r Role) Opposite() Role {
	if r == RoleHost {
		return RoleController
	}
	return RoleHost
}

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleController
}

// ParseRole maps a raw query/body value onto a role, returning fallback for
// anything unrecognised.
func ParseRole(raw string, fallback Role) Role {
	switch Role(raw) {
	case RoleHost:
		return RoleHost
	case RoleController:
		return RoleController
	default:
		return fallback
	}
}

// Source records which transport delivered an envelope.
type Source string

const (
	SourceWS   Source = "ws"
	SourceHTTP Source = "http"
)

// Event is the canonical routed envelope.
type Event struct {
	V          string         `json:"v"`
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	Action     string         `json:"action"`
	Payload    map[string]any `json:"payload"`
	FromRole   Role           `json:"fromRole"`
	ToRole     Role           `json:"toRole"`
	Source     Source         `json:"source"`
	SentAt     string         `json:"sentAt"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Seq        int64          `json:"seq"`
}

// SessionRecord is the resumable part of a session as written to a snapshot.
// Live connections are never part of it.
type SessionRecord struct {
	ID                   string         `json:"id"`
	RoomCode             string         `json:"roomCode"`
	Platform             string         `json:"platform"`
	Capabilities         []string       `json:"capabilities"`
	Metadata             map[string]any `json:"metadata"`
	ClientVersion        string         `json:"clientVersion"`
	HostToken            string         `json:"hostToken"`
	JoinToken            string         `json:"joinToken"`
	CreatedAt            time.Time      `json:"createdAt"`
	ExpiresAt            time.Time      `json:"expiresAt"`
	ClosedAt             *time.Time     `json:"closedAt"`
	CloseReason          string         `json:"closeReason"`
	HostLastSeenAt       time.Time      `json:"hostLastSeenAt"`
	ControllerLastSeenAt *time.Time     `json:"controllerLastSeenAt"`
	EventSeq             int64          `json:"eventSeq"`
	Events               []Event        `json:"events"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Rules struct {
	ScoringVersion    string `json:"scoringVersion"`
	PointsPerCorrect  int    `json:"pointsPerCorrect"`
	QuestionsPerRound int    `json:"questionsPerRound"`
	ChallengeType     string `json:"challengeType"`
}

// QuestionTTS references pre-generated speech assets for a question.
type QuestionTTS struct {
	QuestionURL string   `json:"questionUrl"`
	ChoiceURLs  []string `json:"choiceUrls"`
}

type Question struct {
	QuestionID   string       `json:"questionId"`
	QuestionText string       `json:"questionText"`
	Choices      []string     `json:"choices"`
	CorrectIndex int          `json:"correctIndex"`
	Points       int          `json:"points"`
	TTS          *QuestionTTS `json:"tts,omitempty"`
}

// Answer is one row of an attempt's per-question breakdown.
type Answer struct {
	QuestionID     string   `json:"questionId"`
	QuestionText   string   `json:"questionText"`
	Choices        []string `json:"choices"`
	SelectedIndex  int      `json:"selectedIndex"`
	CorrectIndex   int      `json:"correctIndex"`
	IsCorrect      bool     `json:"isCorrect"`
	PointsAwarded  int      `json:"pointsAwarded"`
	PointsPossible int      `json:"pointsPossible"`
}

type Attempt struct {
	ID              string    `json:"id"`
	ParticipantID   string    `json:"participantId"`
	ParticipantName string    `json:"participantName"`
	Score           int       `json:"score"`
	CorrectCount    int       `json:"correctCount"`
	TotalQuestions  int       `json:"totalQuestions"`
	CreatedAt       time.Time `json:"createdAt"`
	Answers         []Answer  `json:"answers"`
}

// ChallengeRecord is a frozen trivia round plus everything played against it.
type ChallengeRecord struct {
	ID            string     `json:"id"`
	Source        string     `json:"source"`
	BgAudioURL    string     `json:"bgAudioUrl"`
	Title         string     `json:"title"`
	SenderName    string     `json:"senderName"`
	Category      Category   `json:"category"`
	Rules         Rules      `json:"rules"`
	Questions     []Question `json:"questions"`
	SenderAttempt *Attempt   `json:"senderAttempt"`
	Attempts      []Attempt  `json:"attempts"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
}

type LeaderboardRow struct {
	Rank            int       `json:"rank"`
	ID              string    `json:"id"`
	ParticipantName string    `json:"participantName"`
	Score           int       `json:"score"`
	IsSender        bool      `json:"isSender"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Close reasons sent to clients when a session or socket is terminated.
const (
	ReasonClosedByHost     = "closed_by_host"
	ReasonExpired          = "expired"
	ReasonHostDisconnected = "host_disconnected"
	ReasonClosed           = "closed"
	ReasonReplaced         = "replaced_by_new_controller"
	ReasonShutdown         = "server_shutdown"
)
