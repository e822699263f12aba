package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hneveryday/hn-client/pkg/item"
)

// ErrInjected is returned for lookups configured to fail.
var ErrInjected = errors.New("injected failure")

// ItemStore is an in-memory item and listing source for unit tests. It
// records every lookup and the highest number of concurrent lookups.
type ItemStore struct {
	mu        sync.Mutex
	items     map[int]item.Item
	listings  map[item.Category][]int
	failing   map[int]bool
	delays    map[int]time.Duration
	calls     map[int]int
	total     int
	listCalls int
	listErr   error
	inFlight  int
	maxFlight int

	// Gate, when set, blocks every lookup until it is closed.
	Gate chan struct{}
}

// NewItemStore returns a store holding items.
func NewItemStore(items ...item.Item) *ItemStore {
	s := &ItemStore{
		items:    make(map[int]item.Item),
		listings: make(map[item.Category][]int),
		failing:  make(map[int]bool),
		delays:   make(map[int]time.Duration),
		calls:    make(map[int]int),
	}
	s.Add(items...)
	return s
}

// Add registers items, replacing any with the same ID.
func (s *ItemStore) Add(items ...item.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
}

// Fail makes every lookup of the IDs fail.
func (s *ItemStore) Fail(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failing[id] = true
	}
}

// Delay holds the lookup of id for d before answering.
func (s *ItemStore) Delay(id int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[id] = d
}

// SetListing registers candidate IDs for a category.
func (s *ItemStore) SetListing(category item.Category, ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[category] = append([]int(nil), ids...)
}

// FailListing makes every listing call return err (nil restores).
func (s *ItemStore) FailListing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// GetItem implements the item lookup used by the batch fetcher.
func (s *ItemStore) GetItem(ctx context.Context, id int) (*item.Item, error) {
	s.mu.Lock()
	s.calls[id]++
	s.total++
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	delay := s.delays[id]
	failing := s.failing[id]
	it, ok := s.items[id]
	gate := s.Gate
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failing {
		return nil, fmt.Errorf("item %d: %w", id, ErrInjected)
	}
	if !ok {
		return nil, fmt.Errorf("item %d: not found", id)
	}
	return &it, nil
}

// GetListing implements the listing source used by the feed controller.
func (s *ItemStore) GetListing(ctx context.Context, category item.Category) ([]int, error) {
	s.mu.Lock()
	s.listCalls++
	err := s.listErr
	ids := append([]int(nil), s.listings[category]...)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Calls returns how often id was looked up.
func (s *ItemStore) Calls(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// TotalCalls returns the number of item lookups.
func (s *ItemStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ListingCalls returns the number of listing fetches.
func (s *ItemStore) ListingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// MaxInFlight returns the highest number of overlapping lookups seen.
func (s *ItemStore) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxFlight
}
