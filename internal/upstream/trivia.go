// Package upstream talks to the trivia content provider and proxies looping
// background audio.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog"

	"relayhub/internal/quiz"
	"relayhub/internal/telemetry"
	"relayhub/pkg/types"
)

const maxUpstreamBody = 4 << 20

// TriviaConfig configures the content provider client.
type TriviaConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxQuestions int
}

// TriviaCategory is a category as listed to clients.
type TriviaCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	IsPremium   bool   `json:"isPremium"`
	Order       int    `json:"order"`
}

// TriviaClient fetches categories and questions. Responses pass through an
// in-memory HTTP cache that honours the provider's Cache-Control headers.
type TriviaClient struct {
	cfg     TriviaConfig
	client  *http.Client
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewTriviaClient(cfg TriviaConfig, logger zerolog.Logger) *TriviaClient {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = 60
	}
	return &TriviaClient{
		cfg: cfg,
		client: &http.Client{
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
		},
		logger:  logger.With().Str("component", "trivia").Logger(),
		metrics: telemetry.GetMetrics(),
	}
}

// Categories lists provider categories sorted by their order field.
func (c *TriviaClient) Categories(ctx context.Context) ([]TriviaCategory, error) {
	data, err := c.fetch(ctx, "/categories", "/content/categories")
	if err != nil {
		return nil, err
	}
	return normalizeCategories(data), nil
}

// Questions returns validated questions for category, worth 100 points each.
func (c *TriviaClient) Questions(ctx context.Context, category string) ([]types.Question, error) {
	encoded := url.QueryEscape(category)
	data, err := c.fetch(ctx,
		"/questions?category="+encoded,
		"/content/questions?category="+encoded,
	)
	if err != nil {
		return nil, err
	}
	list := quiz.ExtractList(data, "questions", "data", "items", "results")
	return quiz.NormalizeQuestions(list, quiz.Options{
		Limit:       c.cfg.MaxQuestions,
		FixedPoints: quiz.DefaultPoints,
	}), nil
}

// fetch tries each route in order and returns the first successful payload.
func (c *TriviaClient) fetch(ctx context.Context, routes ...string) (any, error) {
	if c.cfg.BaseURL == "" {
		return nil, ErrTriviaNotConfigured
	}
	var lastErr error
	for _, route := range routes {
		data, err := c.fetchJSON(ctx, c.cfg.BaseURL+route)
		if err == nil {
			return data, nil
		}
		lastErr = err
		c.logger.Debug().Err(err).Str("route", route).Msg("trivia route failed")
	}
	telemetry.Inc(c.metrics.UpstreamErrorsTotal, "provider", "trivia")
	c.logger.Warn().Err(lastErr).Msg("trivia provider unavailable")
	return nil, lastErr
}

func (c *TriviaClient) fetchJSON(ctx context.Context, target string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout after %s", c.cfg.Timeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, err
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		data = map[string]any{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if record, ok := data.(map[string]any); ok {
			if msg, ok := record["error"].(string); ok && msg != "" {
				return nil, errors.New(msg)
			}
		}
		return nil, fmt.Errorf("http_%d", resp.StatusCode)
	}
	return data, nil
}

func normalizeCategories(data any) []TriviaCategory {
	out := []TriviaCategory{}
	for _, item := range quiz.ExtractList(data, "categories", "data", "items", "results") {
		record, ok := quiz.AsRecord(item)
		if !ok {
			continue
		}
		id := types.SanitizeCategoryID(firstString(record, "id", "categoryId", "category"))
		name := types.SanitizeCategoryName(firstString(record, "displayName", "name", "title"))
		if name == "" {
			name = id
		}
		if id == "" || name == "" {
			continue
		}
		order := len(out) + 1
		if quiz.IsNumber(record["order"]) {
			order = quiz.AsInt(record["order"], order)
		}
		premium, _ := record["isPremium"].(bool)
		out = append(out, TriviaCategory{
			ID:          id,
			Name:        name,
			DisplayName: name,
			IsPremium:   premium,
			Order:       order,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func firstString(record map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := record[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
