package api

import (
	"fmt"
	"net/url"
	"strings"

	"relayhub/internal/session"
	"relayhub/internal/websocket"
	"relayhub/pkg/types"
)

// Links builds the public URLs handed to hosts and controllers.
type Links struct {
	controllerBase string
	hubBase        string
	gaID           string
	gaDebug        bool
}

func NewLinks(controllerBase, hubBase, gaMeasurementID string, gaDebug bool) *Links {
	return &Links{
		controllerBase: strings.TrimRight(strings.TrimSpace(controllerBase), "/"),
		hubBase:        strings.TrimRight(strings.TrimSpace(hubBase), "/"),
		gaID:           types.SanitizeGAMeasurementID(gaMeasurementID),
		gaDebug:        gaDebug,
	}
}

func (l *Links) ControllerBase() string { return l.controllerBase }
func (l *Links) HubBase() string { return l.hubBase }
func (l *Links) GAMeasurementID() string { return l.gaID }
func (l *Links) GADebug() bool { return l.gaDebug }

func (l *Links) WSURL() string { return l.hubBase + "/ws" }

func (l *Links) PollURL(sessionID string) string {
	return l.hubBase + Prefix + "/sessions/" + url.PathEscape(sessionID) + "/events/poll"
}

// JoinURL is the controller entry link encoded in the session QR code.
func (l *Links) JoinURL(view session.View) string {
	return l.withAnalytics(fmt.Sprintf("%s/join/%s?t=%s&hub=%s&cv=%s&rc=%s",
		l.controllerBase,
		url.PathEscape(view.ID),
		url.QueryEscape(view.JoinToken),
		url.QueryEscape(l.hubBase),
		url.QueryEscape(view.ClientVersion),
		url.QueryEscape(view.RoomCode),
	))
}

func (l *Links) ChallengeURL(challengeID string) string {
	return l.withAnalytics(fmt.Sprintf("%s/challenge/%s?hub=%s",
		l.controllerBase, url.PathEscape(challengeID), url.QueryEscape(l.hubBase)))
}

func (l *Links) withAnalytics(link string) string {
	if l.gaID != "" {
		link += "&gaid=" + url.QueryEscape(l.gaID)
	}
	if l.gaDebug {
		link += "&gadebug=1"
	}
	return link
}

type SessionLinks struct {
	JoinURL string `json:"joinUrl"`
	WSURL   string `json:"wsUrl"`
	PollURL string `json:"pollUrl"`
}

type SessionTokens struct {
	HostToken string `json:"hostToken"`
	JoinToken string `json:"joinToken"`
}

// SessionPayload is the client representation of a session.
type SessionPayload struct {
	session.View
	Links  SessionLinks    `json:"links"`
	Peers  websocket.Peers `json:"peers"`
	Tokens *SessionTokens  `json:"tokens,omitempty"`
}

func (l *Links) Session(view session.View, peers websocket.Peers, tokens *SessionTokens) SessionPayload {
	return SessionPayload{
		View: view,
		Links: SessionLinks{
			JoinURL: l.JoinURL(view),
			WSURL:   l.WSURL(),
			PollURL: l.PollURL(view.ID),
		},
		Peers:  peers,
		Tokens: tokens,
	}
}

// Describe renders the session carried by the socket hello frame.
func (l *Links) Describe(view session.View, peers websocket.Peers) any {
	return l.Session(view, peers, nil)
}
