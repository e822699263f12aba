// Package tree loads comment trees level by level on top of the batch
// fetcher.
//
// Each level is resolved as one batch so the order of a parent's kids is
// kept. Deleted and dead items are dropped together with their subtrees.
// Recursion stops silently at the depth ceiling. Sibling subtrees load
// concurrently and the level waits for all of them.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hneveryday/hn-client/pkg/batch"
	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	hnTreeLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_tree_loads_total",
		Help: "Comment tree loads by outcome",
	}, []string{"outcome"})

	hnTreeTruncationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_tree_truncations_total",
		Help: "Levels cut off by the depth ceiling",
	})

	hnTreeTombstonesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_tree_tombstones_total",
		Help: "Deleted or dead items dropped from trees",
	})

	hnTreeCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hn_tree_cache_hits_total",
		Help: "Items served from the per-load session cache",
	})
)

// DefaultMaxDepth is the number of levels loaded below and including the roots.
const DefaultMaxDepth = 10

// ErrRootUnavailable is returned by LoadStoryTree when the story itself
// could not be looked up.
var ErrRootUnavailable = errors.New("root items unavailable")

// Config holds tree loader configuration.
type Config struct {
	// MaxDepth is the depth ceiling; nodes at depth MaxDepth-1 get no children.
	MaxDepth int `yaml:"max_depth"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxDepth: DefaultMaxDepth}
}

// Loader builds comment trees.
type Loader struct {
	fetcher *batch.Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewLoader creates a loader resolving items through fetcher.
func NewLoader(fetcher *batch.Fetcher, config Config) *Loader {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	return &Loader{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "tree-loader").Logger(),
	}
}

// session caches items for the duration of one LoadTree call.
type session struct {
	mu    sync.Mutex
	items map[int]item.Item
}

func (s *session) get(id int) (item.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}

func (s *session) put(items []item.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items[it.ID] = it
	}
}

// LoadTree loads the forest rooted at rootIDs. Roots are at depth 0 and
// keep the order of rootIDs; children keep the order of their parent's
// kids. Failed lookups are absorbed at every level, so a forest whose
// roots all fail is empty. An error is returned only when ctx is done.
func (l *Loader) LoadTree(ctx context.Context, rootIDs []int) ([]item.TreeNode, error) {
	if len(rootIDs) == 0 {
		return []item.TreeNode{}, nil
	}

	start := time.Now()
	s := &session{items: make(map[int]item.Item)}

	nodes, resolved := l.loadLevel(ctx, s, rootIDs, 0)

	if err := ctx.Err(); err != nil {
		hnTreeLoadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load tree: %w", err)
	}
	if resolved == 0 {
		hnTreeLoadsTotal.WithLabelValues("empty").Inc()
		l.logger.Warn().
			Ints("ids", rootIDs).
			Msg("No root item could be loaded")
		return []item.TreeNode{}, nil
	}

	hnTreeLoadsTotal.WithLabelValues("ok").Inc()
	l.logger.Info().
		Int("roots", len(rootIDs)).
		Int("nodes", item.Count(nodes)).
		Int("depth", item.MaxDepth(nodes)).
		Dur("duration", time.Since(start)).
		Msg("Comment tree loaded")

	return nodes, nil
}

// loadLevel resolves ids at depth and recurses into survivors. It returns
// the nodes and the number of IDs that resolved, tombstones included.
func (l *Loader) loadLevel(ctx context.Context, s *session, ids []int, depth int) ([]item.TreeNode, int) {
	if depth >= l.config.MaxDepth {
		hnTreeTruncationsTotal.Inc()
		l.logger.Debug().Int("depth", depth).Int("ids", len(ids)).Msg("Depth ceiling reached")
		return []item.TreeNode{}, 0
	}

	var misses []int
	for _, id := range ids {
		if _, ok := s.get(id); ok {
			hnTreeCacheHitsTotal.Inc()
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) > 0 {
		s.put(l.fetcher.FetchBatch(ctx, misses))
	}

	// Walk ids, not the batch output, so order follows the parent's kids.
	resolved := 0
	nodes := make([]item.TreeNode, 0, len(ids))
	for _, id := range ids {
		it, ok := s.get(id)
		if !ok {
			continue
		}
		resolved++
		if it.IsTombstone() {
			hnTreeTombstonesTotal.Inc()
			continue
		}
		nodes = append(nodes, item.TreeNode{Item: it, Depth: depth})
	}

	var wg sync.WaitGroup
	for i := range nodes {
		if !nodes[i].Item.HasChildren() {
			continue
		}
		wg.Add(1)
		go func(n *item.TreeNode) {
			defer wg.Done()
			n.Children, _ = l.loadLevel(ctx, s, n.Item.Kids, depth+1)
		}(&nodes[i])
	}
	wg.Wait()

	return nodes, resolved
}

// LoadStoryTree fetches the story and loads its kids as the roots of the
// comment tree. A story without comments yields an empty forest.
func (l *Loader) LoadStoryTree(ctx context.Context, storyID int) (*item.Item, []item.TreeNode, error) {
	res := l.fetcher.FetchBatchWithStats(ctx, []int{storyID})
	if len(res.Items) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("load story %d: %w", storyID, err)
		}
		return nil, nil, fmt.Errorf("load story %d: %w", storyID, ErrRootUnavailable)
	}

	story := res.Items[0]
	if story.IsTombstone() || !story.HasChildren() {
		return &story, []item.TreeNode{}, nil
	}

	nodes, err := l.LoadTree(ctx, story.Kids)
	if err != nil {
		return &story, nil, err
	}
	return &story, nodes, nil
}
