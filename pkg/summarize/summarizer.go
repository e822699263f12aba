// Package summarize produces a short Markdown digest of a story and its
// discussion through an OpenAI-compatible chat completions endpoint.
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hneveryday/hn-client/pkg/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var attemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hn_summarize_attempts_total",
		Help: "Summarization attempts by outcome",
	},
	[]string{"outcome"},
)

const (
	// DefaultBaseURL is the OpenAI API root.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-3.5-turbo"

	maxArticleChars = 2000
	maxComments     = 20
	maxCommentChars = 300
	temperature     = 0.7
)

var (
	// ErrMissingAPIKey is returned before any request when no key is configured.
	ErrMissingAPIKey = errors.New("summarize: API key is missing")

	// ErrEmptyResponse is returned when the completion has no choices.
	ErrEmptyResponse = errors.New("summarize: empty completion")
)

// StatusError is a non-200 answer from the completions endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("summarize: status %d: %s", e.StatusCode, e.Body)
}

// Retriable reports whether the request may succeed when repeated.
func (e *StatusError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures the summarizer.
type Config struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`

	// MaxAttempts bounds retries on 429, 5xx and network errors.
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is multiplied by the attempt number between attempts.
	Backoff time.Duration `yaml:"backoff"`
}

// DefaultConfig returns the defaults without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Timeout:     60 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Second,
	}
}

// Input is what gets summarized.
type Input struct {
	Title   string
	URL     string
	Article string

	// Comments are raw HTML comment bodies, best first.
	Comments []string
}

// Summarizer calls the completions endpoint.
type Summarizer struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Summarizer. Missing fields fall back to DefaultConfig.
func New(cfg Config) *Summarizer {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}

	return &Summarizer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.With().Str("component", "summarizer").Logger(),
	}
}

// Enabled reports whether an API key is configured.
func (s *Summarizer) Enabled() bool {
	return s.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize returns the Markdown summary for in.
func (s *Summarizer) Summarize(ctx context.Context, in Input) (string, error) {
	if s.cfg.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: BuildPrompt(in, s.cfg.Language)},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		summary, err := s.post(ctx, body)
		if err == nil {
			attemptsTotal.WithLabelValues("ok").Inc()
			return summary, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			attemptsTotal.WithLabelValues("cancelled").Inc()
			return "", ctx.Err()
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retriable() {
			attemptsTotal.WithLabelValues("rejected").Inc()
			return "", err
		}
		if errors.Is(err, ErrEmptyResponse) {
			attemptsTotal.WithLabelValues("rejected").Inc()
			return "", err
		}

		attemptsTotal.WithLabelValues("retry").Inc()
		s.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", s.cfg.MaxAttempts).
			Msg("Summarization attempt failed")

		if attempt < s.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.Backoff):
			}
		}
	}

	attemptsTotal.WithLabelValues("exhausted").Inc()
	s.logger.Error().Err(lastErr).Int("attempts", s.cfg.MaxAttempts).Msg("Summarization failed")
	return "", fmt.Errorf("summarize failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *Summarizer) post(ctx context.Context, body []byte) (string, error) {
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

// BuildPrompt renders the user prompt. Comments are stripped of markup
// and truncated so a long thread fits the context window.
func BuildPrompt(in Input, language string) string {
	var b strings.Builder

	b.WriteString("You are a tech-savvy summarizer for Hacker News users.\n")
	fmt.Fprintf(&b, "Story Title: %s\n", in.Title)
	if in.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", in.URL)
	}

	if in.Article != "" {
		b.WriteString("\nArticle Content (Excerpt):\n")
		b.WriteString(render.Truncate(in.Article, maxArticleChars))
		b.WriteString("\n")
	}

	b.WriteString("\nTop Comments:\n")
	comments := in.Comments
	if len(comments) > maxComments {
		comments = comments[:maxComments]
	}
	for _, c := range comments {
		text := strings.Join(strings.Fields(render.Text(c)), " ")
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s\n", render.Truncate(text, maxCommentChars))
	}

	b.WriteString("\nTask: Please provide a concise summary. ")
	b.WriteString("1. Summarize the article's core value proposition or main argument. ")
	b.WriteString("2. Summarize the key discussion or debate from the comments. ")
	b.WriteString("Keep it under 300 words. Format in Markdown.")
	if language != "" {
		fmt.Fprintf(&b, " Answer in %s.", language)
	}

	return b.String()
}
