// Package challenge stores shareable trivia rounds, scores attempts against
// them and ranks the results.
package challenge

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/clock"
	"relayhub/internal/identity"
	"relayhub/internal/quiz"
	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

// Scheduler is notified whenever persistent state changes.
type Scheduler interface {
	Schedule()
}

type Options struct {
	TTL             time.Duration
	MaxQuestions    int
	LeaderboardSize int
}

func DefaultOptions() Options {
	return Options{
		TTL:             7 * 24 * time.Hour,
		MaxQuestions:    25,
		LeaderboardSize: 20,
	}
}

// AttemptResult is the outcome of an attempt submission.
type AttemptResult struct {
	Challenge        types.ChallengeRecord
	Attempt          types.Attempt
	ParticipantID    string
	AlreadyAttempted bool
}

// Store keeps challenges in memory. Expiry slides: every read or write pushes
// expiresAt a full TTL into the future.
type Store struct {
	opts      Options
	clock     clock.Clock
	scheduler Scheduler
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	mu         sync.Mutex
	challenges map[string]*types.ChallengeRecord
}

func NewStore(opts Options, clk clock.Clock, scheduler Scheduler, logger zerolog.Logger) *Store {
	defaults := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = defaults.TTL
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = defaults.MaxQuestions
	}
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = defaults.LeaderboardSize
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		opts:       opts,
		clock:      clk,
		scheduler:  scheduler,
		logger:     logger.With().Str("component", "challenge").Logger(),
		metrics:    telemetry.GetMetrics(),
		challenges: make(map[string]*types.ChallengeRecord),
	}
}

// SetScheduler wires the persistence scheduler after construction.
func (s *Store) SetScheduler(scheduler Scheduler) {
	s.mu.Lock()
	s.scheduler = scheduler
	s.mu.Unlock()
}

func (s *Store) Options() Options { return s.opts }

// Create validates a client payload and stores a new challenge.
func (s *Store) Create(body map[string]any) (types.ChallengeRecord, error) {
	questions := quiz.NormalizeQuestions(body["questions"], quiz.Options{Limit: s.opts.MaxQuestions})
	if len(questions) == 0 {
		s.logInvalidPayload(body)
		return types.ChallengeRecord{}, ErrInvalidQuestions
	}

	senderName := types.SanitizeDisplayName(firstTruthy(body, "senderName", "name"))
	source := types.SanitizeSimple(body["source"])
	if source == "" {
		source = "shared"
	}

	rawCategory := body["category"]
	if !truthy(rawCategory) {
		rawCategory = map[string]any{
			"id":   body["categoryId"],
			"name": firstTruthy(body, "categoryName", "category"),
		}
	}

	now := s.clock.Now()
	rec := &types.ChallengeRecord{
		Source:        source,
		BgAudioURL:    types.SanitizeMediaURL(firstTruthy(body, "bgAudioUrl", "backgroundAudioUrl")),
		Title:         types.SanitizeTitle(body["title"]),
		SenderName:    senderName,
		Category:      quiz.NormalizeCategory(rawCategory),
		Rules:         quiz.NormalizeRules(body["rules"]),
		Questions:     questions,
		SenderAttempt: senderAttemptFromBody(firstTruthy(body, "senderAttempt", "senderRun"), questions, senderName, now),
		Attempts:      []types.Attempt{},
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.opts.TTL),
	}

	s.mu.Lock()
	rec.ID = identity.NewID(identity.ChallengeIDLength)
	for s.challenges[rec.ID] != nil {
		rec.ID = identity.NewID(identity.ChallengeIDLength)
	}
	s.challenges[rec.ID] = rec
	out := snapshot(rec)
	s.mu.Unlock()

	telemetry.Inc(s.metrics.ChallengesCreatedTotal, "category", rec.Category.ID)
	s.logger.Info().
		Str("challenge_id", rec.ID).
		Str("sender", rec.SenderName).
		Str("category", rec.Category.ID).
		Int("questions", len(rec.Questions)).
		Msg("challenge created")
	s.schedule()
	return out, nil
}

// Get returns the challenge and extends its expiry. An unknown id is
// ErrChallengeNotFound; a challenge found past its expiry is removed and
// reported as ErrChallengeExpired.
func (s *Store) Get(id string) (types.ChallengeRecord, error) {
	s.mu.Lock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		if err == ErrChallengeExpired {
			s.schedule()
		}
		return types.ChallengeRecord{}, err
	}
	s.touchLocked(rec)
	out := snapshot(rec)
	s.mu.Unlock()

	s.schedule()
	return out, nil
}

// RecordAttempt scores a submission. A participant that already played gets
// the stored attempt back unchanged.
func (s *Store) RecordAttempt(id string, body map[string]any) (AttemptResult, error) {
	participantID := types.SanitizeID(quiz.ReadField(body, "participantId", "participantid"))
	if participantID == "" {
		participantID = identity.NewID(identity.AttemptIDLength)
	}
	name := types.SanitizeDisplayName(firstTruthy(body, "participantName", "participantname", "name"))

	s.mu.Lock()
	rec, err := s.lookupLocked(id)
	if err != nil {
		s.mu.Unlock()
		if err == ErrChallengeExpired {
			s.schedule()
		}
		return AttemptResult{}, err
	}
	s.touchLocked(rec)

	if existing := findAttempt(rec.Attempts, participantID); existing != nil {
		res := AttemptResult{
			Challenge:        snapshot(rec),
			Attempt:          *existing,
			ParticipantID:    participantID,
			AlreadyAttempted: true,
		}
		s.mu.Unlock()
		s.schedule()
		return res, nil
	}

	attempt := scoreAttempt(participantID, name, quiz.SelectedAnswers(body["answers"]), rec.Questions, s.clock.Now())
	rec.Attempts = append(rec.Attempts, attempt)
	res := AttemptResult{
		Challenge:     snapshot(rec),
		Attempt:       attempt,
		ParticipantID: participantID,
	}
	s.mu.Unlock()

	telemetry.Inc(s.metrics.AttemptsRecordedTotal, "", "")
	s.logger.Debug().
		Str("challenge_id", res.Challenge.ID).
		Str("participant_id", participantID).
		Int("score", attempt.Score).
		Msg("attempt recorded")
	s.schedule()
	return res, nil
}

// FindAttempt returns the attempt of participantID, or nil.
func FindAttempt(rec types.ChallengeRecord, participantID string) *types.Attempt {
	if participantID == "" {
		return nil
	}
	return findAttempt(rec.Attempts, participantID)
}

// Prune removes expired challenges and returns how many were dropped.
func (s *Store) Prune(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for id, rec := range s.challenges {
		if !now.Before(rec.ExpiresAt) {
			delete(s.challenges, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("challenge prune")
		s.schedule()
	}
	return removed
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// Records snapshots every challenge ordered by creation time.
func (s *Store) Records() []types.ChallengeRecord {
	s.mu.Lock()
	out := make([]types.ChallengeRecord, 0, len(s.challenges))
	for _, rec := range s.challenges {
		out = append(out, snapshot(rec))
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Restore loads persisted challenges, re-validating questions and attempts.
// Expired records and records without usable questions are skipped.
func (s *Store) Restore(records []types.ChallengeRecord) int {
	now := s.clock.Now()
	restored := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range records {
		rec, ok := s.normalizeRecord(in, now)
		if !ok || !now.Before(rec.ExpiresAt) {
			continue
		}
		if _, exists := s.challenges[rec.ID]; exists {
			continue
		}
		s.challenges[rec.ID] = rec
		restored++
	}
	s.logger.Info().Int("restored", restored).Int("records", len(records)).Msg("challenges restored")
	return restored
}

func (s *Store) normalizeRecord(in types.ChallengeRecord, now time.Time) (*types.ChallengeRecord, bool) {
	id := types.SanitizeID(in.ID)
	if id == "" {
		return nil, false
	}
	questions := quiz.NormalizeQuestions(questionsAsJSON(in.Questions), quiz.Options{Limit: s.opts.MaxQuestions})
	if len(questions) == 0 {
		return nil, false
	}

	source := types.SanitizeSimple(in.Source)
	if source == "" {
		source = "shared"
	}
	senderName := types.SanitizeDisplayName(in.SenderName)
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := in.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	expiresAt := in.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.opts.TTL)
	}

	attempts := make([]types.Attempt, 0, len(in.Attempts))
	for _, a := range in.Attempts {
		if attempt, ok := restoreAttempt(a, questions, now); ok {
			attempts = append(attempts, attempt)
		}
	}

	return &types.ChallengeRecord{
		ID:            id,
		Source:        source,
		BgAudioURL:    types.SanitizeMediaURL(in.BgAudioURL),
		Title:         types.SanitizeTitle(in.Title),
		SenderName:    senderName,
		Category:      quiz.NormalizeCategory(map[string]any{"id": in.Category.ID, "name": in.Category.Name}),
		Rules:         normalizeStoredRules(in.Rules),
		Questions:     questions,
		SenderAttempt: restoreSenderAttempt(in.SenderAttempt, questions, senderName, now),
		Attempts:      attempts,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		ExpiresAt:     expiresAt,
	}, true
}

func (s *Store) lookupLocked(rawID string) (*types.ChallengeRecord, error) {
	id := types.SanitizeID(rawID)
	if id == "" {
		return nil, ErrChallengeNotFound
	}
	rec := s.challenges[id]
	if rec == nil {
		return nil, ErrChallengeNotFound
	}
	if !s.clock.Now().Before(rec.ExpiresAt) {
		delete(s.challenges, id)
		return nil, ErrChallengeExpired
	}
	return rec, nil
}

func (s *Store) touchLocked(rec *types.ChallengeRecord) {
	now := s.clock.Now()
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(s.opts.TTL)
}

func (s *Store) schedule() {
	s.mu.Lock()
	sch := s.scheduler
	s.mu.Unlock()
	if sch != nil {
		sch.Schedule()
	}
}

// logInvalidPayload records the shape of a rejected payload, never its text.
func (s *Store) logInvalidPayload(body map[string]any) {
	questions, _ := body["questions"].([]any)
	ev := s.logger.Warn().
		Str("sender_name_type", jsonKind(body["senderName"])).
		Str("category_type", jsonKind(body["category"])).
		Int("questions_count", len(questions))
	if len(questions) > 0 {
		first := questions[0]
		ev = ev.Str("first_question_type", jsonKind(first))
		if record, ok := quiz.AsRecord(first); ok {
			keys := make([]string, 0, len(record))
			for k := range record {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if len(keys) > 12 {
				keys = keys[:12]
			}
			ev = ev.Strs("first_question_keys", keys).
				Str("first_question_text_type", jsonKind(quiz.ReadField(record, "questionText", "questiontext", "question_text", "question", "text", "prompt"))).
				Str("first_correct_index_type", jsonKind(quiz.ReadField(record, "correctIndex", "correctindex", "correct_answer_index", "correctAnswerIndex", "answerIndex", "answerindex")))
		}
	}
	ev.Msg("invalid challenge payload")
}

func findAttempt(attempts []types.Attempt, participantID string) *types.Attempt {
	for i := range attempts {
		if attempts[i].ParticipantID == participantID {
			a := attempts[i]
			return &a
		}
	}
	return nil
}

// snapshot copies rec so callers can read it without holding the store lock.
func snapshot(rec *types.ChallengeRecord) types.ChallengeRecord {
	out := *rec
	out.Questions = append([]types.Question(nil), rec.Questions...)
	out.Attempts = append([]types.Attempt{}, rec.Attempts...)
	if rec.SenderAttempt != nil {
		sender := *rec.SenderAttempt
		out.SenderAttempt = &sender
	}
	return out
}

// questionsAsJSON feeds stored questions back through the tolerant
// normaliser so restored records obey the same bounds as new ones.
func questionsAsJSON(questions []types.Question) []any {
	out := make([]any, 0, len(questions))
	for _, q := range questions {
		choices := make([]any, len(q.Choices))
		for i, c := range q.Choices {
			choices[i] = c
		}
		record := map[string]any{
			"questionId":   q.QuestionID,
			"questionText": q.QuestionText,
			"choices":      choices,
			"correctIndex": float64(q.CorrectIndex),
			"points":       float64(q.Points),
		}
		if q.TTS != nil {
			urls := make([]any, len(q.TTS.ChoiceURLs))
			for i, u := range q.TTS.ChoiceURLs {
				urls[i] = u
			}
			record["tts"] = map[string]any{
				"questionUrl": q.TTS.QuestionURL,
				"choiceUrls":  urls,
			}
		}
		out = append(out, record)
	}
	return out
}

func normalizeStoredRules(r types.Rules) types.Rules {
	return quiz.NormalizeRules(map[string]any{
		"scoringVersion":    r.ScoringVersion,
		"pointsPerCorrect":  float64(r.PointsPerCorrect),
		"questionsPerRound": float64(r.QuestionsPerRound),
		"challengeType":     r.ChallengeType,
	})
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "undefined"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
