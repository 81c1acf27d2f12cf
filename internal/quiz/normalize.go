package quiz

import (
	"sort"
	"strconv"

	"relayhub/pkg/types"
)

const (
	MaxChoices        = 8
	MinChoices        = 2
	DefaultPoints     = 100
	DefaultCategoryID = "general"
)

// Options bound a normalisation pass.
type Options struct {
	// Limit caps the number of questions kept; zero means unlimited.
	Limit int
	// FixedPoints, when positive, overrides any per-question points value.
	FixedPoints int
}

// NormalizeQuestions keeps every well-formed question in order. Questions
// without text, with fewer than two usable choices, or with a correct index
// outside the choice list are skipped.
func NormalizeQuestions(raw any, opts Options) []types.Question {
	out := []types.Question{}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		record, ok := AsRecord(item)
		if !ok {
			continue
		}
		q, ok := normalizeQuestion(record, len(out)+1, opts)
		if !ok {
			continue
		}
		out = append(out, q)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

func normalizeQuestion(record map[string]any, position int, opts Options) (types.Question, bool) {
	id := types.SanitizeID(ReadField(record, questionIDKeys...))
	if id == "" {
		id = "q_" + strconv.Itoa(position)
	}

	text := types.SanitizeQuestionText(CoerceText(ReadField(record, questionTextKeys...)))
	if text == "" {
		return types.Question{}, false
	}

	choices := make([]string, 0, MaxChoices)
	for _, c := range readChoices(record) {
		if len(choices) >= MaxChoices {
			break
		}
		if txt := types.SanitizeChoiceText(CoerceText(c)); txt != "" {
			choices = append(choices, txt)
		}
	}
	if len(choices) < MinChoices {
		return types.Question{}, false
	}

	correct := AsInt(ReadField(record, correctIndexKeys...), -1)
	if correct < 0 || correct >= len(choices) {
		return types.Question{}, false
	}

	points := max(0, AsInt(record["points"], DefaultPoints))
	if opts.FixedPoints > 0 {
		points = opts.FixedPoints
	}

	return types.Question{
		QuestionID:   id,
		QuestionText: text,
		Choices:      choices,
		CorrectIndex: correct,
		Points:       points,
		TTS:          NormalizeTTS(record, len(choices)),
	}, true
}

// NormalizeTTS collects question and per-choice speech asset URLs from either
// flat fields or a nested tts object. Returns nil when there are none.
func NormalizeTTS(record map[string]any, choiceCount int) *types.QuestionTTS {
	nested, _ := AsRecord(record["tts"])

	questionURL := types.SanitizeMediaURL(ReadField(record, "questionTtsUrl", "question_tts_url", "questionTts"))
	if questionURL == "" && nested != nil {
		questionURL = types.SanitizeMediaURL(nested["questionUrl"])
		if questionURL == "" {
			questionURL = types.SanitizeMediaURL(extractURL(nested["question"]))
		}
	}

	var source []any
	if direct, ok := ReadField(record, "choiceTtsUrls", "choice_tts_urls", "choiceTts", "choicesTts").([]any); ok {
		source = direct
	} else if nested != nil {
		if v, ok := nested["choiceUrls"].([]any); ok {
			source = v
		} else {
			switch v := nested["choices"].(type) {
			case []any:
				source = v
			case map[string]any:
				for _, key := range sortedKeys(v) {
					source = append(source, v[key])
				}
			}
		}
	}

	choiceURLs := make([]string, max(0, choiceCount))
	hasChoice := false
	for i := range choiceURLs {
		if i < len(source) {
			choiceURLs[i] = types.SanitizeMediaURL(extractURL(source[i]))
			hasChoice = hasChoice || choiceURLs[i] != ""
		}
	}

	if questionURL == "" && !hasChoice {
		return nil
	}
	return &types.QuestionTTS{QuestionURL: questionURL, ChoiceURLs: choiceURLs}
}

func extractURL(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		for _, key := range []string{"url", "audioUrl", "ttsUrl", "src", "file", "pregenUrl"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// NormalizeCategory falls back to general knowledge when nothing usable is supplied.
func NormalizeCategory(raw any) types.Category {
	record, ok := AsRecord(raw)
	if !ok {
		return types.Category{ID: DefaultCategoryID, Name: "General Knowledge"}
	}

	id := types.SanitizeCategoryID(firstNonEmptyString(record["id"], record["categoryId"], record["category"], DefaultCategoryID))

	nameRaw := firstNonEmptyString(record["name"], record["displayName"], record["title"], id, "General Knowledge")
	name := types.SanitizeCategoryName(nameRaw)

	if id == "" {
		id = DefaultCategoryID
	}
	if name == "" {
		name = "General Knowledge"
	}
	return types.Category{ID: id, Name: name}
}

// DefaultRules are applied to any challenge that does not override them.
func DefaultRules() types.Rules {
	return types.Rules{
		ScoringVersion:    "v1",
		PointsPerCorrect:  100,
		QuestionsPerRound: 5,
		ChallengeType:     "trivia_snapshot",
	}
}

func NormalizeRules(raw any) types.Rules {
	defaults := DefaultRules()
	record, ok := AsRecord(raw)
	if !ok {
		return defaults
	}

	rules := types.Rules{
		ScoringVersion:    types.SanitizeSimple(firstNonEmptyString(record["scoringVersion"], defaults.ScoringVersion)),
		PointsPerCorrect:  AsInt(record["pointsPerCorrect"], defaults.PointsPerCorrect),
		QuestionsPerRound: AsInt(record["questionsPerRound"], defaults.QuestionsPerRound),
		ChallengeType:     types.SanitizeSimple(firstNonEmptyString(record["challengeType"], defaults.ChallengeType)),
	}
	if rules.ScoringVersion == "" {
		rules.ScoringVersion = defaults.ScoringVersion
	}
	if rules.ChallengeType == "" {
		rules.ChallengeType = defaults.ChallengeType
	}
	return rules
}

// SelectedAnswers maps questionId to the submitted choice index.
func SelectedAnswers(raw any) map[string]int {
	out := map[string]int{}
	list, ok := raw.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		record, ok := AsRecord(item)
		if !ok {
			continue
		}
		id := types.SanitizeID(ReadField(record, "questionId", "questionid", "id"))
		if id == "" {
			continue
		}
		out[id] = AsInt(ReadField(record, selectedKeys...), -1)
	}
	return out
}

func firstNonEmptyString(values ...any) string {
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// sortedKeys orders integer-like keys numerically ahead of the rest, which
// matches how JSON object values are enumerated by browser clients.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}
