// Package api is the HTTP surface of the hub: session pairing and the poll
// fallback, shareable challenges, trivia and audio proxies, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"relayhub/internal/challenge"
	"relayhub/internal/router"
	"relayhub/internal/session"
	"relayhub/internal/upstream"
	"relayhub/internal/websocket"
	"relayhub/pkg/interfaces"
	"relayhub/pkg/types"
)

// Prefix is the mount point of every versioned route.
const Prefix = "/api/v1"

const defaultBodyLimit = 200 << 10

// PeerCounter reports live connections of a session.
type PeerCounter interface {
	Peers(sessionID string) websocket.Peers
}

// Trivia is the upstream content provider.
type Trivia interface {
	Categories(ctx context.Context) ([]upstream.TriviaCategory, error)
	Questions(ctx context.Context, category string) ([]types.Question, error)
}

// Audio resolves and downloads background loops.
type Audio interface {
	Resolve(kind, src string) (string, error)
	Fetch(ctx context.Context, kind, target string) (*upstream.Loop, error)
}

type Options struct {
	BodyLimit      int64
	CORSOrigins    []string
	RoomCodeLength int
}

// Deps are the collaborators the handlers call into. WebSocket may be nil
// when sockets are served elsewhere.
type Deps struct {
	Sessions   *session.Manager
	Router     *router.Router
	Peers      PeerCounter
	Challenges *challenge.Store
	Limiter    interfaces.RateLimiter
	Trivia     Trivia
	Audio      Audio
	Links      *Links
	WebSocket  http.Handler
}

// Server routes HTTP requests to the hub's components.
type Server struct {
	opts       Options
	sessions   *session.Manager
	router     *router.Router
	peers      PeerCounter
	challenges *challenge.Store
	limiter    interfaces.RateLimiter
	trivia     Trivia
	audio      Audio
	links      *Links
	mux        *httprouter.Router
	handler    http.Handler
	logger     zerolog.Logger
}

func NewServer(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}
	if opts.RoomCodeLength <= 0 {
		opts.RoomCodeLength = session.DefaultOptions().RoomCodeLength
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &Server{
		opts:       opts,
		sessions:   deps.Sessions,
		router:     deps.Router,
		peers:      deps.Peers,
		challenges: deps.Challenges,
		limiter:    deps.Limiter,
		trivia:     deps.Trivia,
		audio:      deps.Audio,
		links:      deps.Links,
		mux:        httprouter.New(),
		logger:     logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes(deps.WebSocket)
	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposedHeaders: []string{"X-Loop-Kind"},
	}).Handler(s.mux)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	m := s.mux
	m.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, types.CodeNotFound, "")
	})
	m.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, types.CodeMethodNotAllowed, "")
	})
	m.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panic")
		writeError(w, types.CodeInternal, "")
	}

	m.GET("/health", s.health)
	m.GET(Prefix+"/meta", s.meta)
	if ws != nil {
		m.Handler(http.MethodGet, "/ws", ws)
	}

	m.POST(Prefix+"/sessions", s.createSession)
	m.GET(Prefix+"/sessions/:id", s.getSession)
	// join-by-code shares the POST tree with /sessions/:id.
	m.POST(Prefix+"/sessions/:id", s.sessionAction)
	m.POST(Prefix+"/sessions/:id/join", s.joinSession)
	m.POST(Prefix+"/sessions/:id/events", s.postEvent)
	m.GET(Prefix+"/sessions/:id/events/poll", s.pollEvents)
	m.GET(Prefix+"/sessions/:id/qr", s.sessionQR)
	m.POST(Prefix+"/sessions/:id/close", s.closeSession)

	m.POST(Prefix+"/challenges", s.createChallenge)
	m.GET(Prefix+"/challenges/:id", s.getChallenge)
	m.GET(Prefix+"/challenges/:id/qr", s.challengeQR)
	m.POST(Prefix+"/challenges/:id/attempts", s.submitAttempt)

	m.GET(Prefix+"/trivia/categories", s.triviaCategories)
	m.GET(Prefix+"/trivia/questions", s.triviaQuestions)
	m.GET(Prefix+"/audio/loop/:kind", s.audioLoop)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type healthResponse struct {
	OK              bool   `json:"ok"`
	Service         string `json:"service"`
	ProtocolVersion string `json:"protocolVersion"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Service: "relayhub", ProtocolVersion: types.ProtocolVersion})
}

type metaResponse struct {
	OK                bool   `json:"ok"`
	ProtocolVersion   string `json:"protocolVersion"`
	ControllerBaseURL string `json:"controllerBaseUrl"`
	HubBaseURL        string `json:"hubBaseUrl"`
	GAMeasurementID   string `json:"gaMeasurementId"`
	GADebug           bool   `json:"gaDebug"`
}

func (s *Server) meta(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, metaResponse{
		OK:                true,
		ProtocolVersion:   types.ProtocolVersion,
		ControllerBaseURL: s.links.ControllerBase(),
		HubBaseURL:        s.links.HubBase(),
		GAMeasurementID:   s.links.GAMeasurementID(),
		GADebug:           s.links.GADebug(),
	})
}

type errorResponse struct {
	OK      bool            `json:"ok"`
	Error   types.ErrorCode `json:"error"`
	Message string          `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code types.ErrorCode, message string) {
	writeJSON(w, code.Status(), errorResponse{Error: code, Message: message})
}

// readBody decodes a JSON object body. An empty body or a non-object value
// reads as an empty object; malformed JSON and oversized bodies are refused.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.BodyLimit)
	var raw any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return map[string]any{}, true
		case errors.As(err, &tooLarge):
			writeError(w, types.CodePayloadTooLarge, "")
		default:
			writeError(w, types.CodeInvalidJSON, "")
		}
		return nil, false
	}
	body, ok := raw.(map[string]any)
	if !ok {
		return map[string]any{}, true
	}
	return body, true
}

// clientIP is the peer address of the request. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
