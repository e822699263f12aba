package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hneveryday/hn-client/pkg/item"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	hnBatchLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_batch_lookups_total",
		Help: "Per-ID lookups issued by the batch fetcher by outcome",
	}, []string{"outcome"})

	hnBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hn_batch_duration_seconds",
		Help:    "Wall time of a whole batch",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)

// ItemGetter looks up a single item. Implemented by *client.Client.
type ItemGetter interface {
	GetItem(ctx context.Context, id int) (*item.Item, error)
}

// Config holds batch fetcher configuration
type Config struct {
	// MaxInFlight bounds concurrent lookups. 0 starts one goroutine per ID.
	MaxInFlight int `yaml:"max_in_flight"`

	// Timeout per lookup. 0 leaves it to the caller's context and the
	// HTTP client timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the unbounded baseline.
func DefaultConfig() Config {
	return Config{
		MaxInFlight: 0,
		Timeout:     0,
	}
}

// Result is a batch outcome with counts.
type Result struct {
	// Items are the resolved items in input order.
	Items []item.Item

	Requested int
	Resolved  int
	Failed    int
}

// Fetcher resolves ID lists concurrently.
type Fetcher struct {
	getter ItemGetter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a new batch fetcher
func NewFetcher(getter ItemGetter, config Config) *Fetcher {
	if config.MaxInFlight < 0 {
		config.MaxInFlight = 0
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}

	return &Fetcher{
		getter: getter,
		config: config,
		logger: log.With().Str("component", "batch-fetcher").Logger(),
	}
}

// FetchBatch resolves ids and returns the items that resolved, in input
// order. Duplicate IDs are looked up once per occurrence.
func (f *Fetcher) FetchBatch(ctx context.Context, ids []int) []item.Item {
	return f.FetchBatchWithStats(ctx, ids).Items
}

// FetchBatchWithStats is FetchBatch plus per-batch counts.
func (f *Fetcher) FetchBatchWithStats(ctx context.Context, ids []int) Result {
	if len(ids) == 0 {
		return Result{Items: []item.Item{}}
	}

	start := time.Now()
	slots := make([]*item.Item, len(ids))

	if f.config.MaxInFlight == 0 || f.config.MaxInFlight >= len(ids) {
		var wg sync.WaitGroup
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				slots[i] = f.lookup(ctx, ids[i])
			}(i)
		}
		wg.Wait()
	} else {
		f.runPool(ctx, ids, slots)
	}

	items := make([]item.Item, 0, len(ids))
	for _, it := range slots {
		if it != nil {
			items = append(items, *it)
		}
	}

	elapsed := time.Since(start)
	hnBatchDuration.Observe(elapsed.Seconds())

	res := Result{
		Items:     items,
		Requested: len(ids),
		Resolved:  len(items),
		Failed:    len(ids) - len(items),
	}

	f.logger.Debug().
		Int("ids", res.Requested).
		Int("resolved", res.Resolved).
		Int("failed", res.Failed).
		Dur("duration", elapsed).
		Msg("Batch complete")

	return res
}

// runPool fans the positions out to MaxInFlight workers.
func (f *Fetcher) runPool(ctx context.Context, ids []int, slots []*item.Item) {
	queue := make(chan int, len(ids))
	for i := range ids {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < f.config.MaxInFlight; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			processed := 0
			for i := range queue {
				slots[i] = f.lookup(ctx, ids[i])
				processed++
			}
			f.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker completed")
		}(w)
	}
	wg.Wait()
}

// lookup resolves one ID; nil means the lookup failed.
func (f *Fetcher) lookup(ctx context.Context, id int) *item.Item {
	if err := ctx.Err(); err != nil {
		f.fail(id, err)
		return nil
	}

	lookupCtx := ctx
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	it, err := f.getter.GetItem(lookupCtx, id)
	if err == nil && it == nil {
		err = fmt.Errorf("item %d: empty result", id)
	}
	if err != nil {
		f.fail(id, err)
		return nil
	}

	hnBatchLookupsTotal.WithLabelValues("ok").Inc()
	return it
}

func (f *Fetcher) fail(id int, err error) {
	hnBatchLookupsTotal.WithLabelValues("failed").Inc()
	f.logger.Warn().
		Err(err).
		Int("id", id).
		Msg("Item lookup failed - omitted")
}
