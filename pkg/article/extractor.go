// Package article fetches a story's linked page and extracts its readable
// content. Only one extraction runs at a time: starting a new one
// supersedes the previous, which then returns ErrSuperseded.
package article

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/hneveryday/hn-client/pkg/render"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var extractionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hn_article_extractions_total",
		Help: "Article extractions by outcome",
	},
	[]string{"outcome"},
)

const (
	// DefaultTimeout bounds one extraction.
	DefaultTimeout = 30 * time.Second

	maxPageBytes = 5 << 20
)

var (
	// ErrSuperseded is returned by an extraction cancelled by a newer one.
	ErrSuperseded = errors.New("article: superseded by a newer extraction")

	// ErrNotHTML is returned when the page is not an HTML document.
	ErrNotHTML = errors.New("article: not an HTML document")

	// ErrNoContent is returned when nothing readable was found.
	ErrNoContent = errors.New("article: no readable content")
)

// Article is the readable part of a page.
type Article struct {
	Title       string `json:"title"`
	Byline      string `json:"byline,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	ContentHTML string `json:"content_html"`
	TextContent string `json:"text_content"`
}

// Config configures the Extractor.
type Config struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Extractor downloads and parses pages.
type Extractor struct {
	cfg        Config
	httpClient *http.Client
	policy     *bluemonday.Policy
	logger     zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	current context.CancelCauseFunc
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hn-client/1.0"
	}

	return &Extractor{
		cfg:        cfg,
		httpClient: &http.Client{},
		policy:     bluemonday.UGCPolicy(),
		logger:     log.With().Str("component", "article").Logger(),
	}
}

// SetHTTPClient replaces the HTTP client (tests).
func (e *Extractor) SetHTTPClient(c *http.Client) {
	e.httpClient = c
}

// Extract downloads rawURL and returns its readable content.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Article, error) {
	ctx, seq := e.begin(ctx)
	defer e.end(seq)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	a, err := e.fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrSuperseded) {
			extractionsTotal.WithLabelValues("superseded").Inc()
			e.logger.Debug().Str("url", rawURL).Msg("Extraction superseded")
			return nil, ErrSuperseded
		}
		extractionsTotal.WithLabelValues("failed").Inc()
		e.logger.Warn().Err(err).Str("url", rawURL).Msg("Extraction failed")
		return nil, err
	}

	extractionsTotal.WithLabelValues("ok").Inc()
	e.logger.Debug().
		Str("url", rawURL).
		Int("text_len", len(a.TextContent)).
		Dur("duration", time.Since(start)).
		Msg("Article extracted")
	return a, nil
}

// begin cancels the running extraction and registers a new one.
func (e *Extractor) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(parent)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil {
		e.current(ErrSuperseded)
	}
	e.seq++
	e.current = cancel
	return ctx, e.seq
}

func (e *Extractor) end(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seq == seq && e.current != nil {
		e.current(context.Canceled)
		e.current = nil
	}
}

func (e *Extractor) fetch(ctx context.Context, rawURL string) (*Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || (mediaType != "text/html" && mediaType != "application/xhtml+xml") {
			return nil, fmt.Errorf("%w: %s", ErrNotHTML, ct)
		}
	}

	a, err := Parse(io.LimitReader(resp.Body, maxPageBytes), e.policy)
	if err != nil {
		return nil, err
	}
	if a.SiteName == "" {
		a.SiteName = render.HostDomain(rawURL)
	}
	return a, nil
}
