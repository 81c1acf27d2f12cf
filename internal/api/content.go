package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"relayhub/internal/upstream"
	"relayhub/pkg/types"
)

const loopCacheControl = "public, max-age=300, stale-while-revalidate=300"

type categoriesResponse struct {
	OK         bool                      `json:"ok"`
	Categories []upstream.TriviaCategory `json:"categories"`
	Count      int                       `json:"count"`
}

type questionsResponse struct {
	OK        bool             `json:"ok"`
	Category  string           `json:"category"`
	Questions []types.Question `json:"questions"`
	Count     int              `json:"count"`
}

func (s *Server) triviaCategories(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	categories, err := s.trivia.Categories(r.Context())
	if err != nil {
		writeError(w, types.CodeTriviaCategoriesFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{OK: true, Categories: categories, Count: len(categories)})
}

func (s *Server) triviaQuestions(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	category := types.SanitizeCategoryID(r.URL.Query().Get("category"))
	if category == "" {
		writeError(w, types.CodeInvalidCategory, "")
		return
	}
	questions, err := s.trivia.Questions(r.Context(), category)
	if err != nil {
		writeError(w, types.CodeTriviaQuestionsFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, questionsResponse{
		OK:        true,
		Category:  category,
		Questions: questions,
		Count:     len(questions),
	})
}

func (s *Server) audioLoop(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	kind := ps.ByName("kind")
	target, err := s.audio.Resolve(kind, r.URL.Query().Get("src"))
	switch {
	case errors.Is(err, upstream.ErrInvalidLoopKind):
		writeError(w, types.CodeInvalidLoopKind, "")
		return
	case errors.Is(err, upstream.ErrLoopSourceMissing):
		writeError(w, types.CodeLoopSourceMissing, "")
		return
	case err != nil:
		writeError(w, types.CodeLoopSourceNotAllowed, "")
		return
	}

	loop, err := s.audio.Fetch(r.Context(), kind, target)
	if err != nil {
		if errors.Is(err, upstream.ErrAudioUpstream) {
			writeError(w, types.CodeAudioUpstreamFailed, "")
			return
		}
		writeError(w, types.CodeAudioProxyFailed, "")
		return
	}

	h := w.Header()
	h.Set("Content-Type", loop.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(loop.Body)))
	h.Set("Cache-Control", loopCacheControl)
	h.Set("X-Loop-Kind", loop.Kind)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(loop.Body)
}
