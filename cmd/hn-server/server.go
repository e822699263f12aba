package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hneveryday/hn-client/pkg/article"
	"github.com/hneveryday/hn-client/pkg/batch"
	"github.com/hneveryday/hn-client/pkg/client"
	"github.com/hneveryday/hn-client/pkg/feed"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/hneveryday/hn-client/pkg/metrics"
	"github.com/hneveryday/hn-client/pkg/render"
	"github.com/hneveryday/hn-client/pkg/store"
	"github.com/hneveryday/hn-client/pkg/summarize"
	"github.com/hneveryday/hn-client/pkg/tree"
	"github.com/rs/zerolog"
)

// summaryComments is how many top-level comments go into a summary prompt.
const summaryComments = 20

// server wires the core packages to HTTP.
type server struct {
	api        *client.Client
	fetcher    *batch.Fetcher
	loader     *tree.Loader
	store      *store.Store
	summarizer *summarize.Summarizer
	extractor  *article.Extractor
	feedConfig feed.Config
	publicURL  string
	logger     zerolog.Logger

	feedsMu sync.Mutex
	feeds   map[item.Category]*feed.Controller
}

// httpError is an error with the status code to answer with.
type httpError struct {
	Code    int
	Message string
}

func (e httpError) Error() string {
	return e.Message
}

// appHandler lets handlers return errors instead of writing them.
type appHandler func(http.ResponseWriter, *http.Request) error

func (fn appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := fn(w, r)
	if err == nil {
		return
	}

	var he httpError
	switch {
	case errors.As(err, &he):
	case errors.Is(err, client.ErrNotFound), errors.Is(err, tree.ErrRootUnavailable):
		he = httpError{Code: http.StatusNotFound, Message: "Not found"}
	case errors.Is(err, client.ErrThrottled):
		he = httpError{Code: http.StatusServiceUnavailable, Message: "Upstream is throttling requests"}
	case errors.Is(err, feed.ErrListingUnavailable):
		he = httpError{Code: http.StatusBadGateway, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return
	default:
		he = httpError{Code: http.StatusInternalServerError, Message: err.Error()}
	}

	if he.Code >= 500 {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", he.Code).Msg("Request failed")
	}
	http.Error(w, he.Message, he.Code)
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	r.Handle("/feeds/{category:[a-z]+}.rss", appHandler(s.feedRSSHandler)).Methods("GET")
	r.Handle("/feeds/{category:[a-z]+}", appHandler(s.feedHandler)).Methods("GET")

	r.Handle("/items/{id:[0-9]+}/comments", appHandler(s.commentsHandler)).Methods("GET")
	r.Handle("/items/{id:[0-9]+}/export.md", appHandler(s.exportHandler("md"))).Methods("GET")
	r.Handle("/items/{id:[0-9]+}/export.html", appHandler(s.exportHandler("html"))).Methods("GET")
	r.Handle("/items/{id:[0-9]+}/summary", appHandler(s.summaryHandler)).Methods("POST")
	r.Handle("/items/{id:[0-9]+}/read", appHandler(s.readHandler)).Methods("POST")
	r.Handle("/items/{id:[0-9]+}/saved", appHandler(s.savedHandler)).Methods("PUT", "DELETE")

	r.Handle("/users/{name}", appHandler(s.userHandler)).Methods("GET")

	return r
}

// requestID tags every request with an ID and a logger carrying it.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := s.logger.With().Str("request_id", id).Logger()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func itemID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		return 0, httpError{Code: http.StatusBadRequest, Message: "invalid item id"}
	}
	return id, nil
}

func category(r *http.Request) (item.Category, error) {
	c, err := item.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		return "", httpError{Code: http.StatusNotFound, Message: err.Error()}
	}
	return c, nil
}

// controller returns the feed of c, creating it on first use.
func (s *server) controller(c item.Category) *feed.Controller {
	s.feedsMu.Lock()
	defer s.feedsMu.Unlock()

	if ctrl, ok := s.feeds[c]; ok {
		return ctrl
	}

	cfg := s.feedConfig
	cfg.Category = c
	ctrl := feed.NewController(s.api, s.fetcher, cfg)
	ctrl.SetRecorder(s.store)
	s.feeds[c] = ctrl
	return ctrl
}

// loadedFeed returns the controller of the requested category after
// applying the ?refresh and ?more query flags.
func (s *server) loadedFeed(r *http.Request) (*feed.Controller, error) {
	c, err := category(r)
	if err != nil {
		return nil, err
	}
	ctrl := s.controller(c)

	q := r.URL.Query()
	if q.Get("refresh") != "" || ctrl.CandidateCount() == 0 {
		if err := ctrl.Refresh(r.Context()); err != nil {
			return nil, err
		}
	}
	if q.Get("more") != "" {
		if _, err := ctrl.LoadNextPage(r.Context()); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

type feedEntry struct {
	Item  item.Item `json:"item"`
	Read  bool      `json:"read"`
	Saved bool      `json:"saved"`
}

type feedResponse struct {
	Category   item.Category `json:"category"`
	Items      []feedEntry   `json:"items"`
	HasMore    bool          `json:"has_more"`
	Cursor     int           `json:"cursor"`
	Candidates int           `json:"candidates"`
}

func (s *server) feedHandler(w http.ResponseWriter, r *http.Request) error {
	ctrl, err := s.loadedFeed(r)
	if err != nil {
		return err
	}

	read, err := s.store.ReadIDs(r.Context())
	if err != nil {
		return err
	}
	saved, err := s.store.SavedIDs(r.Context())
	if err != nil {
		return err
	}

	items := ctrl.Items()
	entries := make([]feedEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, feedEntry{Item: it, Read: read[it.ID], Saved: saved[it.ID]})
	}

	return writeJSON(w, feedResponse{
		Category:   ctrl.Category(),
		Items:      entries,
		HasMore:    ctrl.HasMore(),
		Cursor:     ctrl.Cursor(),
		Candidates: ctrl.CandidateCount(),
	})
}

func (s *server) feedRSSHandler(w http.ResponseWriter, r *http.Request) error {
	ctrl, err := s.loadedFeed(r)
	if err != nil {
		return err
	}

	doc, err := render.RSS(ctrl.Category(), ctrl.Items(), s.publicURL)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	_, err = w.Write([]byte(doc))
	return err
}

type commentsResponse struct {
	Story    *item.Item      `json:"story"`
	Comments []item.TreeNode `json:"comments"`
	Count    int             `json:"count"`
	Depth    int             `json:"depth"`
}

func (s *server) commentsHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := itemID(r)
	if err != nil {
		return err
	}

	story, nodes, err := s.loader.LoadStoryTree(r.Context(), id)
	if err != nil {
		return err
	}

	return writeJSON(w, commentsResponse{
		Story:    story,
		Comments: nodes,
		Count:    item.Count(nodes),
		Depth:    item.MaxDepth(nodes),
	})
}

// storedStory returns the persisted row of id, or an empty one.
func (s *server) storedStory(ctx context.Context, id int) (*store.Story, error) {
	row, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &store.Story{ID: id}, nil
	}
	return row, err
}

func (s *server) exportHandler(format string) appHandler {
	return func(w http.ResponseWriter, r *http.Request) error {
		id, err := itemID(r)
		if err != nil {
			return err
		}

		story, nodes, err := s.loader.LoadStoryTree(r.Context(), id)
		if err != nil {
			return err
		}
		row, err := s.storedStory(r.Context(), id)
		if err != nil {
			return err
		}

		export := render.Export{
			Story:       *story,
			Summary:     row.Summary,
			ArticleText: row.Content,
			Comments:    nodes,
		}

		var body, contentType string
		switch format {
		case "html":
			body, contentType = render.HTML(export), "text/html; charset=utf-8"
		default:
			body, contentType = render.Markdown(export), "text/markdown; charset=utf-8"
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", render.FileName(*story, format)))
		_, err = w.Write([]byte(body))
		return err
	}
}

type summaryResponse struct {
	ID      int    `json:"id"`
	Summary string `json:"summary"`
}

func (s *server) summaryHandler(w http.ResponseWriter, r *http.Request) error {
	if !s.summarizer.Enabled() {
		return httpError{Code: http.StatusServiceUnavailable, Message: "summarizer is not configured"}
	}

	id, err := itemID(r)
	if err != nil {
		return err
	}
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	story, nodes, err := s.loader.LoadStoryTree(ctx, id)
	if err != nil {
		return err
	}
	row, err := s.storedStory(ctx, id)
	if err != nil {
		return err
	}

	text := row.Content
	if text == "" && story.URL != "" {
		a, err := s.extractor.Extract(ctx, story.URL)
		switch {
		case err == nil:
			text = a.TextContent
			if err := s.store.SaveContent(ctx, id, text); err != nil {
				logger.Warn().Err(err).Int("id", id).Msg("Failed to store article content")
			}
		case errors.Is(err, article.ErrSuperseded):
			return httpError{Code: http.StatusConflict, Message: "article extraction superseded"}
		default:
			logger.Warn().Err(err).Int("id", id).Msg("Article extraction failed, summarizing comments only")
		}
	}

	summary, err := s.summarizer.Summarize(ctx, summarize.Input{
		Title:    story.Title,
		URL:      story.URL,
		Article:  text,
		Comments: tree.TopLevelTexts(nodes, summaryComments),
	})
	if err != nil {
		var statusErr *summarize.StatusError
		if errors.As(err, &statusErr) {
			return httpError{Code: http.StatusBadGateway, Message: err.Error()}
		}
		return err
	}

	if err := s.store.SaveSummary(ctx, id, summary); err != nil {
		return err
	}
	return writeJSON(w, summaryResponse{ID: id, Summary: summary})
}

func (s *server) readHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := itemID(r)
	if err != nil {
		return err
	}

	it, err := s.api.GetItem(r.Context(), id)
	if err != nil {
		return err
	}
	if err := s.store.MarkRead(r.Context(), *it); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *server) savedHandler(w http.ResponseWriter, r *http.Request) error {
	id, err := itemID(r)
	if err != nil {
		return err
	}

	if err := s.store.SetSaved(r.Context(), id, r.Method == http.MethodPut); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *server) userHandler(w http.ResponseWriter, r *http.Request) error {
	u, err := s.api.GetUser(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		return err
	}
	return writeJSON(w, u)
}
