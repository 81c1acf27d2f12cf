package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	idDisallowed        = regexp.MustCompile(`[^a-zA-Z0-9_:\-.]`)
	actionDisallowed    = regexp.MustCompile(`[^A-Z0-9_:\-.]`)
	simpleDisallowed    = regexp.MustCompile(`[^a-z0-9_:\-.]`)
	nonDigit            = regexp.MustCompile(`[^0-9]`)
	controlWhitespace   = regexp.MustCompile(`[\r\n\t]+`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
	gaDisallowed        = regexp.MustCompile(`[^A-Z0-9-]`)
	gaMeasurementFormat = regexp.MustCompile(`^G-[A-Z0-9]{4,30}$`)
	mediaScheme         = regexp.MustCompile(`(?i)^https?://`)
)

const (
	DefaultAction      = "UNKNOWN_ACTION"
	DefaultDisplayName = "Player"

	maxIDLength           = 64
	maxSimpleLength       = 32
	maxCategoryNameLength = 80
	maxDisplayNameLength  = 32
	maxTitleLength        = 120
	maxQuestionLength     = 280
	maxChoiceLength       = 120
	maxMediaURLLength     = 2048
	maxClientVersion      = 4
	maxCapabilities       = 50
)

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Token trims a presented bearer secret. Non-strings present as empty.
func Token(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func SanitizeID(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Truncate(idDisallowed.ReplaceAllString(strings.TrimSpace(s), ""), maxIDLength)
}

// SanitizeAction upper-cases the action token and replaces anything outside
// [A-Z0-9_:-.] with an underscore.
func SanitizeAction(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return DefaultAction
	}
	upper := strings.ToUpper(strings.TrimSpace(s))
	return Truncate(actionDisallowed.ReplaceAllString(upper, "_"), maxIDLength)
}

// SanitizeType returns one of action, state or event.
func SanitizeType(v any) string {
	if s, ok := v.(string); ok && (s == "state" || s == "event") {
		return s
	}
	return "action"
}

func SanitizeSimple(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	return Truncate(simpleDisallowed.ReplaceAllString(lower, ""), maxSimpleLength)
}

func SanitizeCategoryID(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	return Truncate(simpleDisallowed.ReplaceAllString(lower, ""), maxIDLength)
}

func SanitizeCategoryName(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Truncate(whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " "), maxCategoryNameLength)
}

// SanitizeDisplayName never returns an empty name.
func SanitizeDisplayName(v any) string {
	s, ok := v.(string)
	if !ok {
		return DefaultDisplayName
	}
	cleaned := controlWhitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	cleaned = Truncate(whitespaceRun.ReplaceAllString(cleaned, " "), maxDisplayNameLength)
	if cleaned == "" {
		return DefaultDisplayName
	}
	return cleaned
}

func SanitizeTitle(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	cleaned := controlWhitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	return Truncate(whitespaceRun.ReplaceAllString(cleaned, " "), maxTitleLength)
}

func SanitizeQuestionText(s string) string {
	return Truncate(whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " "), maxQuestionLength)
}

func SanitizeChoiceText(s string) string {
	return Truncate(whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " "), maxChoiceLength)
}

// SanitizeMediaURL accepts only absolute http(s) URLs.
func SanitizeMediaURL(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !mediaScheme.MatchString(trimmed) {
		return ""
	}
	return Truncate(trimmed, maxMediaURLLength)
}

func SanitizeClientVersion(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Truncate(nonDigit.ReplaceAllString(strings.TrimSpace(s), ""), maxClientVersion)
}

// SanitizeRoomCode keeps digits only and cuts to size.
func SanitizeRoomCode(v any, size int) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return Truncate(nonDigit.ReplaceAllString(s, ""), size)
}

// SanitizeGAMeasurementID returns "" unless the value looks like G-XXXX.
func SanitizeGAMeasurementID(s string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(s))
	cleaned = Truncate(gaDisallowed.ReplaceAllString(cleaned, ""), 32)
	if !gaMeasurementFormat.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// SanitizeCapabilities keeps up to 50 non-empty strings.
func SanitizeCapabilities(v any) []string {
	out := []string{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		s, ok := item.(string)
		if !ok || s == "" {
			continue
		}
		out = append(out, s)
		if len(out) >= maxCapabilities {
			break
		}
	}
	return out
}
