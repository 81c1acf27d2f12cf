package api

import (
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"relayhub/internal/challenge"
	"relayhub/internal/qr"
	"relayhub/pkg/types"
)

type createChallengeResponse struct {
	OK        bool           `json:"ok"`
	Challenge challenge.View `json:"challenge"`
	ShareURL  string         `json:"shareUrl"`
}

type viewer struct {
	ParticipantID string                 `json:"participantId"`
	HasAttempted  bool                   `json:"hasAttempted"`
	Attempt       *challenge.AttemptView `json:"attempt"`
}

type getChallengeResponse struct {
	OK        bool           `json:"ok"`
	Challenge challenge.View `json:"challenge"`
	Viewer    viewer         `json:"viewer"`
}

type attemptResponse struct {
	OK               bool                  `json:"ok"`
	AlreadyAttempted bool                  `json:"alreadyAttempted"`
	ParticipantID    string                `json:"participantId,omitempty"`
	Attempt          challenge.AttemptView `json:"attempt"`
	Challenge        challenge.View        `json:"challenge"`
}

func (s *Server) challengeView(rec types.ChallengeRecord, includeCorrect bool) challenge.View {
	return challenge.NewView(rec, s.links.ChallengeURL(rec.ID), includeCorrect, s.challenges.Options().LeaderboardSize)
}

// writeChallengeError maps store lookups onto 410 for expired challenges and
// 404 for everything else.
func writeChallengeError(w http.ResponseWriter, err error) {
	if errors.Is(err, challenge.ErrChallengeExpired) {
		writeError(w, types.CodeChallengeExpired, "")
		return
	}
	writeError(w, types.CodeChallengeNotFound, "")
}

func (s *Server) createChallenge(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	rec, err := s.challenges.Create(body)
	if err != nil {
		if errors.Is(err, challenge.ErrInvalidQuestions) {
			writeError(w, types.CodeInvalidQuestions, "")
			return
		}
		s.logger.Error().Err(err).Msg("challenge create failed")
		writeError(w, types.CodeInternal, "")
		return
	}
	writeJSON(w, http.StatusCreated, createChallengeResponse{
		OK:        true,
		Challenge: s.challengeView(rec, false),
		ShareURL:  s.links.ChallengeURL(rec.ID),
	})
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, err := s.challenges.Get(ps.ByName("id"))
	if err != nil {
		writeChallengeError(w, err)
		return
	}
	v := viewer{ParticipantID: types.SanitizeID(r.URL.Query().Get("participantId"))}
	if v.ParticipantID != "" {
		if a := challenge.FindAttempt(rec, v.ParticipantID); a != nil {
			av := challenge.NewAttemptView(*a, true, true)
			v.HasAttempted = true
			v.Attempt = &av
		}
	}
	writeJSON(w, http.StatusOK, getChallengeResponse{
		OK:        true,
		Challenge: s.challengeView(rec, true),
		Viewer:    v,
	})
}

func (s *Server) challengeQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rec, err := s.challenges.Get(ps.ByName("id"))
	if err != nil {
		writeChallengeError(w, err)
		return
	}
	q := r.URL.Query()
	s.writeQR(w, s.links.ChallengeURL(rec.ID), qr.ParseFormat(q.Get("format"), qr.PNG), qr.ClampWidth(q.Get("width")))
}

func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	res, err := s.challenges.RecordAttempt(ps.ByName("id"), body)
	if err != nil {
		writeChallengeError(w, err)
		return
	}

	resp := attemptResponse{
		OK:               true,
		AlreadyAttempted: res.AlreadyAttempted,
		Attempt:          challenge.NewAttemptView(res.Attempt, true, true),
		Challenge:        s.challengeView(res.Challenge, false),
	}
	if res.AlreadyAttempted {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.ParticipantID = res.ParticipantID
	writeJSON(w, http.StatusCreated, resp)
}
