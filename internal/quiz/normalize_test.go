package quiz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestNormalizeQuestions_AcceptsAliases(t *testing.T) {
	raw := decode(t, `[
		{"questionId": "q-1", "questionText": "2+2?", "choices": ["3", "4"], "correctIndex": 1, "points": 50},
		{"question": "Capital of France?", "options": [{"label": "Paris"}, {"text": "Rome"}], "answerIndex": 0},
		{"prompt": "Pick one", "answers": {"1": "b", "0": "a", "10": "k"}, "correct_answer_index": "2"}
	]`)

	qs := NormalizeQuestions(raw, Options{})
	require.Len(t, qs, 3)

	assert.Equal(t, "q-1", qs[0].QuestionID)
	assert.Equal(t, 50, qs[0].Points)
	assert.Equal(t, 1, qs[0].CorrectIndex)

	assert.Equal(t, "q_2", qs[1].QuestionID)
	assert.Equal(t, []string{"Paris", "Rome"}, qs[1].Choices)
	assert.Equal(t, DefaultPoints, qs[1].Points)

	assert.Equal(t, []string{"a", "b", "k"}, qs[2].Choices)
	assert.Equal(t, 2, qs[2].CorrectIndex)
}

func TestNormalizeQuestions_RejectsInvalid(t *testing.T) {
	raw := decode(t, `[
		{"questionText": "one choice", "choices": ["only"], "correctIndex": 0},
		{"questionText": "bad index", "choices": ["a", "b"], "correctIndex": 2},
		{"questionText": "negative", "choices": ["a", "b"], "correctIndex": -1},
		{"questionText": "", "choices": ["a", "b"], "correctIndex": 0},
		{"questionText": "missing index", "choices": ["a", "b"]},
		"not an object"
	]`)

	assert.Empty(t, NormalizeQuestions(raw, Options{}))
	assert.Empty(t, NormalizeQuestions("nope", Options{}))
}

func TestNormalizeQuestions_LimitsAndFixedPoints(t *testing.T) {
	raw := decode(t, `[
		{"questionText": "a", "choices": ["1", "2", "3", "4", "5", "6", "7", "8", "9"], "correctIndex": 0, "points": 7},
		{"questionText": "b", "choices": ["1", "2"], "correctIndex": 0},
		{"questionText": "c", "choices": ["1", "2"], "correctIndex": 0}
	]`)

	qs := NormalizeQuestions(raw, Options{Limit: 2, FixedPoints: 100})
	require.Len(t, qs, 2)
	assert.Len(t, qs[0].Choices, MaxChoices)
	assert.Equal(t, 100, qs[0].Points)
}

func TestNormalizeQuestions_NegativePointsClampToZero(t *testing.T) {
	raw := decode(t, `[{"questionText": "a", "choices": ["1", "2"], "correctIndex": 0, "points": -5}]`)
	qs := NormalizeQuestions(raw, Options{})
	require.Len(t, qs, 1)
	assert.Equal(t, 0, qs[0].Points)
}

func TestNormalizeTTS(t *testing.T) {
	record := decode(t, `{
		"tts": {
			"question": {"audioUrl": "https://cdn.example.com/q.mp3"},
			"choices": [{"url": "https://cdn.example.com/a.mp3"}, "ftp://bad", "https://cdn.example.com/c.mp3"]
		}
	}`).(map[string]any)

	tts := NormalizeTTS(record, 2)
	require.NotNil(t, tts)
	assert.Equal(t, "https://cdn.example.com/q.mp3", tts.QuestionURL)
	assert.Equal(t, []string{"https://cdn.example.com/a.mp3", ""}, tts.ChoiceURLs)

	assert.Nil(t, NormalizeTTS(map[string]any{}, 2))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "general", NormalizeCategory(nil).ID)
	assert.Equal(t, "General Knowledge", NormalizeCategory(nil).Name)

	c := NormalizeCategory(map[string]any{"categoryId": "Science!", "displayName": "  Science   & Nature "})
	assert.Equal(t, "science", c.ID)
	assert.Equal(t, "Science & Nature", c.Name)

	c = NormalizeCategory(map[string]any{"id": "history"})
	assert.Equal(t, "history", c.Name)
}

func TestNormalizeRules(t *testing.T) {
	assert.Equal(t, DefaultRules(), NormalizeRules(nil))

	r := NormalizeRules(map[string]any{"pointsPerCorrect": 250.0, "challengeType": "SPEED"})
	assert.Equal(t, 250, r.PointsPerCorrect)
	assert.Equal(t, "speed", r.ChallengeType)
	assert.Equal(t, "v1", r.ScoringVersion)
	assert.Equal(t, 5, r.QuestionsPerRound)
}

func TestSelectedAnswers(t *testing.T) {
	raw := decode(t, `[
		{"questionId": "q1", "selectedIndex": 2},
		{"id": "q2", "answerIndex": 1.9},
		{"questionId": "q3"},
		{"selectedIndex": 0}
	]`)
	assert.Equal(t, map[string]int{"q1": 2, "q2": 1, "q3": -1}, SelectedAnswers(raw))
}

func TestAsIntAndCoerceText(t *testing.T) {
	assert.Equal(t, 3, AsInt(3.7, -1))
	assert.Equal(t, 4, AsInt("4", -1))
	assert.Equal(t, -1, AsInt("x", -1))
	assert.Equal(t, -1, AsInt(nil, -1))

	assert.Equal(t, "42", CoerceText(42.0))
	assert.Equal(t, "true", CoerceText(true))
	assert.Equal(t, "Paris", CoerceText(map[string]any{"value": map[string]any{"text": "Paris"}}))
	assert.Equal(t, "", CoerceText([]any{"x"}))
}

func TestExtractList(t *testing.T) {
	assert.Len(t, ExtractList([]any{1.0, 2.0}, "items"), 2)
	assert.Len(t, ExtractList(map[string]any{"data": []any{1.0}}, "questions", "data"), 1)
	assert.Nil(t, ExtractList("x", "data"))
}
