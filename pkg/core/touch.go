package core

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/semcore-ai/semmem-go/pkg/storage"
)

// touchFlushTimeout bounds each background TouchBatch call.
const touchFlushTimeout = 5 * time.Second

// touchQueue applies access bookkeeping asynchronously.
//
// Touches are enqueued by retrieval paths and coalesced per (owner, id)
// within the flush interval into a single increment-by-N update, so hot
// records under concurrent retrieval never serialize the read path on a
// counter. Failures are logged and dropped: a missed access count is
// acceptable, a blocked retrieval is not.
type touchQueue struct {
	store    storage.VectorStore
	clock    Clock
	logger   *log.Logger
	interval time.Duration

	mu      sync.Mutex
	pending map[string]map[int64]int64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newTouchQueue(store storage.VectorStore, clock Clock, logger *log.Logger, interval time.Duration) *touchQueue {
	q := &touchQueue{
		store:    store,
		clock:    clock,
		logger:   logger,
		interval: interval,
		pending:  make(map[string]map[int64]int64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue records one access per id for the owner. It never blocks beyond
// a map update.
func (q *touchQueue) Enqueue(ownerID string, ids ...int64) {
	if len(ids) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	byID, ok := q.pending[ownerID]
	if !ok {
		byID = make(map[int64]int64)
		q.pending[ownerID] = byID
	}
	for _, id := range ids {
		byID[id]++
	}
}

// run flushes coalesced touches on every tick until Close.
func (q *touchQueue) run() {
	defer close(q.done)

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.flush()
		case <-q.stop:
			q.flush()
			return
		}
	}
}

// flush swaps out the pending map and applies one TouchBatch per owner.
func (q *touchQueue) flush() {
	q.mu.Lock()
	batch := q.pending
	q.pending = make(map[string]map[int64]int64)
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	now := q.clock.Now()
	for ownerID, increments := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), touchFlushTimeout)
		err := q.store.TouchBatch(ctx, ownerID, increments, now)
		cancel()
		if err != nil {
			// Touch is best-effort. A record deleted between retrieval and
			// flush is skipped by the store; anything else is only worth a
			// warning.
			q.logger.Warn("touch flush failed", "owner", ownerID, "records", len(increments), "err", err)
		}
	}
}

// Close flushes remaining touches and stops the background goroutine.
// Safe to call more than once.
func (q *touchQueue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	<-q.done
}
