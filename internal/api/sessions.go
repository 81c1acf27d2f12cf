package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"relayhub/internal/qr"
	"relayhub/internal/quiz"
	"relayhub/internal/router"
	"relayhub/internal/session"
	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

const joinByCodeAction = "join-by-code"

type sessionResponse struct {
	OK      bool           `json:"ok"`
	Session SessionPayload `json:"session"`
}

type joinResponse struct {
	OK              bool           `json:"ok"`
	ProtocolVersion string         `json:"protocolVersion"`
	ControllerToken string         `json:"controllerToken"`
	JoinToken       string         `json:"joinToken,omitempty"`
	HubBase         string         `json:"hubBase,omitempty"`
	WSURL           string         `json:"wsUrl"`
	Session         SessionPayload `json:"session"`
}

type eventReceipt struct {
	ID     string     `json:"id"`
	Seq    int64      `json:"seq"`
	ToRole types.Role `json:"toRole"`
}

type eventResponse struct {
	OK    bool         `json:"ok"`
	Event eventReceipt `json:"event"`
}

type pollResponse struct {
	OK bool `json:"ok"`
	router.PollResult
	ServerTime time.Time `json:"serverTime"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) describe(sess *session.Session, tokens *SessionTokens) SessionPayload {
	return s.links.Session(sess.View(), s.peers.Peers(sess.ID()), tokens)
}

// lookup resolves the :id parameter, answering 404 itself when absent.
func (s *Server) lookup(w http.ResponseWriter, ps httprouter.Params) (*session.Session, bool) {
	sess, err := s.sessions.Get(ps.ByName("id"))
	if err != nil {
		writeError(w, types.CodeSessionNotFound, "")
		return nil, false
	}
	return sess, true
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	sess, err := s.sessions.Create(session.CreateParams{
		Platform:      types.SanitizeSimple(body["platform"]),
		Capabilities:  types.SanitizeCapabilities(body["capabilities"]),
		Metadata:      types.SanitizeMetadata(body["metadata"]),
		ClientVersion: types.SanitizeClientVersion(body["clientVersion"]),
	})
	if err != nil {
		if errors.Is(err, session.ErrRoomCodeSpaceExhausted) {
			writeError(w, types.CodeRoomCodeSpaceExhausted, "")
			return
		}
		s.logger.Error().Err(err).Msg("session create failed")
		writeError(w, types.CodeInternal, "")
		return
	}
	tokens := &SessionTokens{HostToken: sess.HostToken(), JoinToken: sess.JoinToken()}
	writeJSON(w, http.StatusCreated, sessionResponse{OK: true, Session: s.describe(sess, tokens)})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	q := r.URL.Query()
	role := types.ParseRole(q.Get("role"), types.RoleHost)
	if !sess.Authorize(role, types.Token(q.Get("token"))) {
		writeError(w, types.CodeUnauthorized, "")
		return
	}
	s.sessions.Touch(sess, role)
	writeJSON(w, http.StatusOK, sessionResponse{OK: true, Session: s.describe(sess, nil)})
}

func (s *Server) sessionAction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ps.ByName("id") == joinByCodeAction {
		s.joinByCode(w, r)
		return
	}
	writeError(w, types.CodeNotFound, "")
}

func (s *Server) joinSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !sess.Authorize(types.RoleController, types.Token(body["joinToken"])) {
		writeError(w, types.CodeInvalidJoinToken, "")
		return
	}
	if !s.sessions.IsOpen(sess) {
		writeError(w, types.CodeSessionClosed, "")
		return
	}
	s.sessions.Touch(sess, types.RoleController)
	writeJSON(w, http.StatusOK, joinResponse{
		OK:              true,
		ProtocolVersion: types.ProtocolVersion,
		ControllerToken: sess.JoinToken(),
		WSURL:           s.links.WSURL(),
		Session:         s.describe(sess, nil),
	})
}

// joinByCode validates the code shape before spending a rate limit attempt,
// then resolves the room.
func (s *Server) joinByCode(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	code := types.SanitizeRoomCode(body["code"], s.opts.RoomCodeLength)
	if len(code) != s.opts.RoomCodeLength {
		writeError(w, types.CodeInvalidCode, "")
		return
	}

	ip := clientIP(r)
	allowed, err := s.limiter.Allow(r.Context(), ip)
	if err != nil {
		s.logger.Warn().Err(err).Str("client_ip", ip).Msg("join rate limiter failed")
	}
	if !allowed {
		telemetry.Inc(telemetry.GetMetrics().JoinAttemptsRejected, "reason", string(types.CodeTooManyAttempts))
		writeError(w, types.CodeTooManyAttempts, "")
		return
	}

	sess, err := s.sessions.ByRoomCode(code)
	if err != nil || !s.sessions.IsOpen(sess) {
		telemetry.Inc(telemetry.GetMetrics().JoinAttemptsRejected, "reason", string(types.CodeRoomNotFound))
		writeError(w, types.CodeRoomNotFound, "")
		return
	}
	s.sessions.Touch(sess, types.RoleController)
	writeJSON(w, http.StatusOK, joinResponse{
		OK:              true,
		ProtocolVersion: types.ProtocolVersion,
		ControllerToken: sess.JoinToken(),
		JoinToken:       sess.JoinToken(),
		HubBase:         s.links.HubBase(),
		WSURL:           s.links.WSURL(),
		Session:         s.describe(sess, nil),
	})
}

func (s *Server) postEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	if !s.sessions.IsOpen(sess) {
		writeError(w, types.CodeSessionClosed, "")
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	rawRole, _ := body["role"].(string)
	role := types.ParseRole(rawRole, types.RoleController)
	if !sess.Authorize(role, types.Token(body["token"])) {
		writeError(w, types.CodeUnauthorized, "")
		return
	}
	s.sessions.Touch(sess, role)

	message, _ := quiz.AsRecord(body["message"])
	if message == nil {
		message = map[string]any{}
	}
	ev, err := s.router.Publish(sess, role, message, types.SourceHTTP)
	if err != nil {
		writeError(w, types.CodeSessionClosed, "")
		return
	}
	if ev.FromRole == types.RoleHost && ev.Action != "" {
		s.logger.Info().
			Str("session_id", sess.ID()).
			Str("action", ev.Action).
			Str("to_role", string(ev.ToRole)).
			Msg("host action")
	}
	writeJSON(w, http.StatusCreated, eventResponse{
		OK:    true,
		Event: eventReceipt{ID: ev.ID, Seq: ev.Seq, ToRole: ev.ToRole},
	})
}

func (s *Server) pollEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	if !s.sessions.IsOpen(sess) {
		writeError(w, types.CodeSessionClosed, "")
		return
	}
	q := r.URL.Query()
	role := types.ParseRole(q.Get("role"), types.RoleHost)
	if !sess.Authorize(role, types.Token(q.Get("token"))) {
		writeError(w, types.CodeUnauthorized, "")
		return
	}
	s.sessions.Touch(sess, role)

	page := s.router.Poll(sess, role, router.ParseCursor(q.Get("after")), router.ParseLimit(q.Get("limit")))
	writeJSON(w, http.StatusOK, pollResponse{OK: true, PollResult: page, ServerTime: s.sessions.Now()})
}

func (s *Server) sessionQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	q := r.URL.Query()
	if !sess.Authorize(types.RoleHost, types.Token(q.Get("hostToken"))) {
		writeError(w, types.CodeUnauthorized, "")
		return
	}
	s.writeQR(w, s.links.JoinURL(sess.View()), qr.ParseFormat(q.Get("format"), qr.SVG), qr.ClampWidth(q.Get("width")))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sess, ok := s.lookup(w, ps)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !sess.Authorize(types.RoleHost, types.Token(body["hostToken"])) {
		writeError(w, types.CodeUnauthorized, "")
		return
	}
	s.sessions.Close(sess, types.ReasonClosedByHost)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) writeQR(w http.ResponseWriter, content string, format qr.Format, width int) {
	img, err := qr.Render(content, format, width)
	if err != nil {
		s.logger.Error().Err(err).Msg("qr render failed")
		writeError(w, types.CodeQRGenerationFailed, "")
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Body)
}
