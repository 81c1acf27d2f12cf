package types

import "net/http"

// ErrorCode is the stable machine-readable error returned to clients.
type ErrorCode string

const (
	CodeSessionNotFound        ErrorCode = "session_not_found"
	CodeUnauthorized           ErrorCode = "unauthorized"
	CodeInvalidJoinToken       ErrorCode = "invalid_join_token"
	CodeSessionClosed          ErrorCode = "session_closed"
	CodeInvalidCode            ErrorCode = "invalid_code"
	CodeTooManyAttempts        ErrorCode = "too_many_attempts"
	CodeRoomNotFound           ErrorCode = "room_not_found"
	CodeRoomCodeSpaceExhausted ErrorCode = "room_code_space_exhausted"
	CodeInvalidQuestions       ErrorCode = "invalid_questions"
	CodeChallengeNotFound      ErrorCode = "challenge_not_found"
	CodeChallengeExpired       ErrorCode = "challenge_expired"
	CodeQRGenerationFailed     ErrorCode = "qr_generation_failed"
	CodeTriviaCategoriesFailed ErrorCode = "trivia_categories_unavailable"
	CodeTriviaQuestionsFailed  ErrorCode = "trivia_questions_unavailable"
	CodeInvalidCategory        ErrorCode = "invalid_category"
	CodeInvalidLoopKind        ErrorCode = "invalid_loop_kind"
	CodeLoopSourceMissing      ErrorCode = "loop_source_missing"
	CodeLoopSourceNotAllowed   ErrorCode = "loop_source_not_allowed"
	CodeAudioUpstreamFailed    ErrorCode = "audio_upstream_failed"
	CodeAudioProxyFailed       ErrorCode = "audio_proxy_failed"
	CodeInvalidJSON            ErrorCode = "invalid_json"
	CodePayloadTooLarge        ErrorCode = "payload_too_large"
	CodeNotFound               ErrorCode = "not_found"
	CodeMethodNotAllowed       ErrorCode = "method_not_allowed"
	CodeInternal               ErrorCode = "internal_error"
)

var statusByCode = map[ErrorCode]int{
	CodeSessionNotFound:        http.StatusNotFound,
	CodeUnauthorized:           http.StatusUnauthorized,
	CodeInvalidJoinToken:       http.StatusUnauthorized,
	CodeSessionClosed:          http.StatusGone,
	CodeInvalidCode:            http.StatusBadRequest,
	CodeTooManyAttempts:        http.StatusTooManyRequests,
	CodeRoomNotFound:           http.StatusNotFound,
	CodeRoomCodeSpaceExhausted: http.StatusServiceUnavailable,
	CodeInvalidQuestions:       http.StatusBadRequest,
	CodeChallengeNotFound:      http.StatusNotFound,
	CodeChallengeExpired:       http.StatusGone,
	CodeQRGenerationFailed:     http.StatusInternalServerError,
	CodeTriviaCategoriesFailed: http.StatusBadGateway,
	CodeTriviaQuestionsFailed:  http.StatusBadGateway,
	CodeInvalidCategory:        http.StatusBadRequest,
	CodeInvalidLoopKind:        http.StatusBadRequest,
	CodeLoopSourceMissing:      http.StatusServiceUnavailable,
	CodeLoopSourceNotAllowed:   http.StatusBadRequest,
	CodeAudioUpstreamFailed:    http.StatusBadGateway,
	CodeAudioProxyFailed:       http.StatusBadGateway,
	CodeInvalidJSON:            http.StatusBadRequest,
	CodePayloadTooLarge:        http.StatusRequestEntityTooLarge,
	CodeNotFound:               http.StatusNotFound,
	CodeMethodNotAllowed:       http.StatusMethodNotAllowed,
	CodeInternal:               http.StatusInternalServerError,
}

// Status returns the HTTP status paired with the code.
func (c ErrorCode) Status() int {
	if status, ok := statusByCode[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}
