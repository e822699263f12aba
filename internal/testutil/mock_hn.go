// Package testutil provides testing utilities for the HN client.
package testutil

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hneveryday/hn-client/pkg/item"
)

// MockResponse defines a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHN is a configurable in-process item API.
//
// Items and listings are served from memory under the same paths as the
// real API (/item/<id>.json, /<category>stories.json, /user/<name>.json).
// Unknown items answer 200 with a null body, as the real API does.
type MockHN struct {
	server *httptest.Server

	mu       sync.RWMutex
	items    map[int][]byte
	listings map[item.Category][]int
	users    map[string][]byte
	delays   map[int]time.Duration
	failing  map[int]int
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount      int
	conditionalCount  int
	pathCounts        map[string]int
	lastRequestHeader http.Header
}

// NewMockHN starts a new mock server.
func NewMockHN() *MockHN {
	mock := &MockHN{
		items:      make(map[int][]byte),
		listings:   make(map[item.Category][]int),
		users:      make(map[string][]byte),
		delays:     make(map[int]time.Duration),
		failing:    make(map[int]int),
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

func (m *MockHN) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount++
	m.pathCounts[r.URL.Path]++
	m.lastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	handler, exists := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if exists {
		handler(w, r)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/item/"):
		m.serveItem(w, r)
	case strings.HasPrefix(r.URL.Path, "/user/"):
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/user/"), ".json")
		m.mu.RLock()
		body := m.users[name]
		m.mu.RUnlock()
		writeJSON(w, r, body)
	case strings.HasSuffix(r.URL.Path, "stories.json"):
		category := item.Category(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "stories.json"))
		m.mu.RLock()
		ids, ok := m.listings[category]
		m.mu.RUnlock()
		if !ok {
			writeJSON(w, r, nil)
			return
		}
		body, _ := json.Marshal(ids)
		writeJSON(w, r, body)
	default:
		http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
	}
}

func (m *MockHN) serveItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json"))
	if err != nil {
		http.Error(w, `{"error":"Invalid path"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	delay := m.delays[id]
	failures := m.failing[id]
	if failures > 0 {
		m.failing[id] = failures - 1
	} else if failures < 0 {
		failures = 1
	}
	body := m.items[id]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if failures > 0 {
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, body)
}

// writeJSON answers with body (null when nil) and an ETag derived from it.
func writeJSON(w http.ResponseWriter, r *http.Request, body []byte) {
	if body == nil {
		body = []byte("null")
	}

	etag := fmt.Sprintf(`"%08x"`, crc32.ChecksumIEEE(body))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "max-age=0")

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// URL returns the mock server URL.
func (m *MockHN) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockHN) Close() {
	m.server.Close()
}

// AddItems registers items, replacing any with the same ID.
func (m *MockHN) AddItems(items ...item.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		body, err := json.Marshal(it)
		if err != nil {
			panic(fmt.Sprintf("marshal item %d: %v", it.ID, err))
		}
		m.items[it.ID] = body
	}
}

// SetListing registers the candidate IDs of a category.
func (m *MockHN) SetListing(category item.Category, ids []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[category] = append([]int(nil), ids...)
}

// AddUser registers a user profile.
func (m *MockHN) AddUser(u item.User) {
	body, err := json.Marshal(u)
	if err != nil {
		panic(fmt.Sprintf("marshal user %s: %v", u.ID, err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = body
}

// SetDelay delays every response for the item.
func (m *MockHN) SetDelay(id int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[id] = d
}

// FailItem makes the next n lookups of the item answer 500.
// n < 0 fails every lookup.
func (m *MockHN) FailItem(id int, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[id] = n
}

// SetHandler sets a custom handler for a specific path.
func (m *MockHN) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockHN) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Reset clears all tracking counters.
func (m *MockHN) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.pathCounts = make(map[string]int)
	m.lastRequestHeader = nil
}

// RequestCount returns the number of requests made to the server.
func (m *MockHN) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests.
func (m *MockHN) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// ItemRequests returns how often the item was requested.
func (m *MockHN) ItemRequests(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[fmt.Sprintf("/item/%d.json", id)]
}

// ListingRequests returns how often the category listing was requested.
func (m *MockHN) ListingRequests(category item.Category) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts["/"+category.Endpoint()+".json"]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockHN) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// NewRateLimitResponse creates a 429 with a Retry-After in seconds.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"Too many requests"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfter),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// Story builds a story item with the given kids.
func Story(id int, title string, kids ...int) item.Item {
	return item.Item{
		ID:    id,
		Type:  item.KindStory,
		By:    "pg",
		Time:  time.Unix(1160418111, 0),
		Title: title,
		URL:   fmt.Sprintf("https://example.com/%d", id),
		Score: 100,
		Kids:  kids,
	}
}

// Comment builds a comment item with the given kids.
func Comment(id, parent int, text string, kids ...int) item.Item {
	return item.Item{
		ID:     id,
		Type:   item.KindComment,
		By:     "norvig",
		Time:   time.Unix(1160418628, 0),
		Text:   text,
		Parent: parent,
		Kids:   kids,
	}
}
