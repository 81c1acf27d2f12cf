package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

const maxLoopBytes = 32 << 20

// AudioConfig configures the loop proxy.
type AudioConfig struct {
	GameplayURL  string
	MenuURL      string
	AllowedHosts []string
	Timeout      time.Duration
}

// Loop is a fetched audio loop ready to be relayed.
type Loop struct {
	Kind        string
	ContentType string
	Body        []byte
}

// AudioProxy relays looping background tracks from an allowlist of hosts so
// browser clients can play them from the hub's origin.
type AudioProxy struct {
	gameplayURL string
	menuURL     string
	allowed     map[string]bool
	timeout     time.Duration
	client      *http.Client
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
}

func NewAudioProxy(cfg AudioConfig, logger zerolog.Logger) *AudioProxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedHosts))
	for _, h := range cfg.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}
	return &AudioProxy{
		gameplayURL: types.SanitizeMediaURL(cfg.GameplayURL),
		menuURL:     types.SanitizeMediaURL(cfg.MenuURL),
		allowed:     allowed,
		timeout:     cfg.Timeout,
		client:      &http.Client{},
		logger:      logger.With().Str("component", "audio").Logger(),
		metrics:     telemetry.GetMetrics(),
	}
}

// Resolve picks the URL to proxy for kind: the caller-supplied src when
// present, otherwise the configured default for that kind.
func (p *AudioProxy) Resolve(kind, src string) (string, error) {
	var fallback string
	switch kind {
	case "gameplay":
		fallback = p.gameplayURL
	case "menu":
		fallback = p.menuURL
	default:
		return "", ErrInvalidLoopKind
	}

	target := types.SanitizeMediaURL(src)
	if target == "" {
		target = fallback
	}
	if target == "" {
		return "", ErrLoopSourceMissing
	}
	if !p.Allowed(target) {
		return "", ErrLoopSourceNotAllowed
	}
	return target, nil
}

// Allowed reports whether target is an http(s) URL on an allowlisted host.
func (p *AudioProxy) Allowed(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return p.allowed[strings.ToLower(u.Hostname())]
}

// Fetch downloads the loop at target. A non-2xx status is ErrAudioUpstream;
// transport failures are returned wrapped.
func (p *AudioProxy) Fetch(ctx context.Context, kind, target string) (*Loop, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building audio request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		telemetry.Inc(p.metrics.UpstreamErrorsTotal, "provider", "audio")
		p.logger.Warn().Err(err).Str("kind", kind).Msg("audio fetch failed")
		return nil, fmt.Errorf("fetching audio loop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.Inc(p.metrics.UpstreamErrorsTotal, "provider", "audio")
		p.logger.Warn().Int("status", resp.StatusCode).Str("kind", kind).Msg("audio upstream error")
		return nil, ErrAudioUpstream
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoopBytes))
	if err != nil {
		return nil, fmt.Errorf("reading audio loop: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &Loop{Kind: kind, ContentType: contentType, Body: body}, nil
}
