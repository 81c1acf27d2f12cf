// Package quiz turns loosely shaped trivia JSON into validated questions.
// Clients and upstream providers disagree on field names, so every reader
// accepts a list of aliases.
package quiz

import (
	"math"
	"strconv"
	"strings"
)

var (
	questionIDKeys   = []string{"questionId", "questionid", "question_id", "id", "qid"}
	questionTextKeys = []string{"questionText", "questiontext", "question_text", "question", "text", "prompt"}
	choicesKeys      = []string{"choices", "options", "answers", "alternatives"}
	correctIndexKeys = []string{"correctIndex", "correctindex", "correct_answer_index", "correctAnswerIndex", "answerIndex", "answerindex"}
	selectedKeys     = []string{"selectedIndex", "selectedindex", "answerIndex", "answerindex"}
	choiceTextKeys   = []string{"text", "label", "title", "name", "value", "answer", "choice"}
)

// ReadField returns the first non-nil value among keys.
func ReadField(record map[string]any, keys ...string) any {
	if record == nil {
		return nil
	}
	for _, key := range keys {
		if v, ok := record[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// AsRecord reports whether v is a JSON object.
func AsRecord(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// IsNumber reports whether v decoded from JSON as a finite number.
func IsNumber(v any) bool {
	f, ok := v.(float64)
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// AsInt floors numeric (or numeric string) values, returning fallback for
// anything else.
func AsInt(v any, fallback int) int {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		return val
	case int64:
		return int(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return fallback
		}
		f = parsed
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return fallback
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return int(math.Floor(f))
}

// CoerceText extracts display text from strings, numbers, booleans, or
// objects carrying one of the usual label fields.
func CoerceText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return ""
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case map[string]any:
		for _, key := range choiceTextKeys {
			if picked, ok := val[key]; ok && picked != nil {
				return CoerceText(picked)
			}
		}
	}
	return ""
}

// ExtractList finds the array payload of a provider response, which may be
// the top-level value or nested under one of keys.
func ExtractList(data any, keys ...string) []any {
	if list, ok := data.([]any); ok {
		return list
	}
	record, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range keys {
		if list, ok := record[key].([]any); ok {
			return list
		}
	}
	return nil
}

func readChoices(record map[string]any) []any {
	switch raw := ReadField(record, choicesKeys...).(type) {
	case []any:
		return raw
	case map[string]any:
		out := make([]any, 0, len(raw))
		for _, key := range sortedKeys(raw) {
			out = append(out, raw[key])
		}
		return out
	default:
		return nil
	}
}
