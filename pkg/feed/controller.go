// Package feed pages through a category listing on top of the batch
// fetcher.
//
// A Controller holds the candidate IDs of one category and the stories
// loaded so far. Refresh replaces the candidates and loads the first
// page; LoadNextPage appends the next slice. Both are guarded by busy
// flags: a call made while the same operation is running is dropped, not
// queued, and at most one page fan-out runs at a time. The lock protecting the flags and the accumulated list is never
// held across a network call.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	hnFeedPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_feed_pages_total",
		Help: "Pages appended to feeds by category",
	}, []string{"category"})

	hnFeedRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_feed_refresh_total",
		Help: "Feed refreshes by category and outcome",
	}, []string{"category", "outcome"})

	hnFeedDroppedCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_feed_dropped_calls_total",
		Help: "Calls dropped because the same operation was already running",
	}, []string{"operation"})
)

// DefaultPageSize is the number of candidates requested per page.
const DefaultPageSize = 20

// ErrListingUnavailable is returned when the candidate list could not be fetched.
var ErrListingUnavailable = errors.New("listing unavailable")

// ListingGetter fetches the ordered candidate IDs of a category.
type ListingGetter interface {
	GetListing(ctx context.Context, category item.Category) ([]int, error)
}

// BatchFetcher resolves a page of IDs in order. Implemented by *batch.Fetcher.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, ids []int) []item.Item
}

// Recorder is told about every page of stories appended to a feed.
type Recorder interface {
	RecordFetched(ctx context.Context, items []item.Item) error
}

// State is what the controller is busy with.
type State string

const (
	StateIdle        State = "idle"
	StateRefreshing  State = "refreshing"
	StatePageLoading State = "page_loading"
)

// Config holds controller configuration.
type Config struct {
	// PageSize is the number of candidates fetched per page.
	PageSize int `yaml:"page_size"`

	// Category is the initial category.
	Category item.Category `yaml:"category"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
		Category: item.CategoryTop,
	}
}

// Controller is the paginated view of one category listing.
type Controller struct {
	listings ListingGetter
	fetcher  BatchFetcher
	recorder Recorder
	pageSize int
	logger   zerolog.Logger

	mu          sync.Mutex
	category    item.Category
	candidates  []int
	items       []item.Item
	cursor      int
	refreshing  bool
	pageLoading bool
	// pageDone is closed when the running page load finishes.
	pageDone chan struct{}
	// generation changes on every refresh; page loads started under an
	// older generation discard their results.
	generation int
}

// NewController creates an idle controller with no candidates.
// Call Refresh to load the first page.
func NewController(listings ListingGetter, fetcher BatchFetcher, config Config) *Controller {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if !config.Category.Valid() {
		config.Category = item.CategoryTop
	}

	return &Controller{
		listings: listings,
		fetcher:  fetcher,
		pageSize: config.PageSize,
		category: config.Category,
		logger:   log.With().Str("component", "feed").Logger(),
	}
}

// SetRecorder installs a recorder for appended pages. Pass nil to remove it.
func (c *Controller) SetRecorder(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// Refresh discards the loaded stories, fetches the candidate list again
// and loads the first page. It is a no-op while a refresh is running.
// A page load still in flight from before the refresh is waited for, so
// at most one page fan-out is running at a time. A listing failure
// leaves the feed empty and is returned.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		hnFeedDroppedCallsTotal.WithLabelValues("refresh").Inc()
		c.logger.Debug().Msg("Refresh already running - dropped")
		return nil
	}
	c.refreshing = true
	c.generation++
	c.items = nil
	c.candidates = nil
	c.cursor = 0
	category := c.category
	generation := c.generation
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	ids, err := c.listings.GetListing(ctx, category)
	if err != nil {
		hnFeedRefreshTotal.WithLabelValues(string(category), "failed").Inc()
		c.logger.Error().
			Err(err).
			Str("category", string(category)).
			Msg("Listing fetch failed")
		return fmt.Errorf("%w: %s: %w", ErrListingUnavailable, category, err)
	}

	c.mu.Lock()
	if generation == c.generation {
		c.candidates = ids
	}
	c.mu.Unlock()

	hnFeedRefreshTotal.WithLabelValues(string(category), "ok").Inc()
	c.logger.Info().
		Str("category", string(category)).
		Int("candidates", len(ids)).
		Msg("Listing refreshed")

	p, ok, err := c.awaitPage(ctx)
	if err != nil || !ok {
		return err
	}
	_, err = c.loadPage(ctx, p)
	return err
}

// LoadNextPage fetches the next slice of candidates and appends the
// stories that have a title. It returns the number appended. It is a
// no-op while a page or a refresh is loading, or when every candidate
// was requested. The cursor advances by the slice length, not by the
// number appended.
func (c *Controller) LoadNextPage(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.pageLoading || c.refreshing {
		c.mu.Unlock()
		hnFeedDroppedCallsTotal.WithLabelValues("load_next_page").Inc()
		c.logger.Debug().Msg("Page load already running - dropped")
		return 0, nil
	}
	p, ok := c.beginPageLocked()
	c.mu.Unlock()
	if !ok {
		return 0, nil
	}

	return c.loadPage(ctx, p)
}

// page is one claimed slice of the candidate list.
type page struct {
	generation int
	category   item.Category
	ids        []int
	end        int
}

// beginPageLocked claims the page-load flag for the next slice.
// It reports false when there is nothing left to request.
func (c *Controller) beginPageLocked() (page, bool) {
	if !c.hasMoreLocked() {
		return page{}, false
	}

	c.pageLoading = true
	c.pageDone = make(chan struct{})
	start := c.cursor
	end := min(start+c.pageSize, len(c.candidates))
	return page{
		generation: c.generation,
		category:   c.category,
		ids:        append([]int(nil), c.candidates[start:end]...),
		end:        end,
	}, true
}

// endPageLocked releases the page-load flag and wakes a waiting refresh.
func (c *Controller) endPageLocked() {
	c.pageLoading = false
	close(c.pageDone)
	c.pageDone = nil
}

// awaitPage waits for a page load started before the refresh to finish,
// then claims the first page of the new list.
func (c *Controller) awaitPage(ctx context.Context) (page, bool, error) {
	c.mu.Lock()
	for c.pageLoading {
		done := c.pageDone
		c.mu.Unlock()
		c.logger.Debug().Msg("Waiting for stale page load")
		select {
		case <-done:
		case <-ctx.Done():
			return page{}, false, fmt.Errorf("load page: %w", ctx.Err())
		}
		c.mu.Lock()
	}
	p, ok := c.beginPageLocked()
	c.mu.Unlock()
	return p, ok, nil
}

func (c *Controller) loadPage(ctx context.Context, p page) (int, error) {
	fetched := c.fetcher.FetchBatch(ctx, p.ids)

	survivors := make([]item.Item, 0, len(fetched))
	for _, it := range fetched {
		if it.HasTitle() {
			survivors = append(survivors, it)
		}
	}

	c.mu.Lock()
	c.endPageLocked()
	if p.generation != c.generation {
		// A refresh replaced the list while this page was in flight.
		c.mu.Unlock()
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("load page: %w", err)
	}
	c.items = append(c.items, survivors...)
	c.cursor = p.end
	recorder := c.recorder
	c.mu.Unlock()

	hnFeedPagesTotal.WithLabelValues(string(p.category)).Inc()
	c.logger.Info().
		Str("category", string(p.category)).
		Int("cursor", p.end).
		Int("requested", len(p.ids)).
		Int("appended", len(survivors)).
		Msg("Page appended")

	if recorder != nil && len(survivors) > 0 {
		if err := recorder.RecordFetched(ctx, survivors); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record fetched stories")
		}
	}

	return len(survivors), nil
}

// UpdateCategory switches to category and refreshes. It is a no-op when
// the category is unchanged or a refresh is running.
func (c *Controller) UpdateCategory(ctx context.Context, category item.Category) error {
	if !category.Valid() {
		return fmt.Errorf("unknown category %q", category)
	}

	c.mu.Lock()
	if category == c.category {
		c.mu.Unlock()
		return nil
	}
	if c.refreshing {
		c.mu.Unlock()
		hnFeedDroppedCallsTotal.WithLabelValues("update_category").Inc()
		return nil
	}
	c.category = category
	c.mu.Unlock()

	return c.Refresh(ctx)
}

func (c *Controller) hasMoreLocked() bool {
	return len(c.items) < len(c.candidates) && c.cursor < len(c.candidates)
}

// Items returns a copy of the stories loaded so far.
func (c *Controller) Items() []item.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]item.Item(nil), c.items...)
}

// HasMore reports whether LoadNextPage would fetch anything.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMoreLocked()
}

// State reports what the controller is busy with.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.refreshing:
		return StateRefreshing
	case c.pageLoading:
		return StatePageLoading
	default:
		return StateIdle
	}
}

// Category returns the current category.
func (c *Controller) Category() item.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.category
}

// Cursor returns the index of the first candidate not yet requested.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// CandidateCount returns the length of the candidate list.
func (c *Controller) CandidateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}
