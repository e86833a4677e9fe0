// Package updates turns row-change hooks into batched table-update
// notifications.
//
// A Tracker is registered as a connection listener. It collects the names
// of tables touched by the current transaction and forgets them when the
// transaction rolls back. Once a write completes the host calls
// FireTableUpdates, which publishes the sorted set of tables to every
// subscriber. Publication happens on the goroutine running Run, never
// inside an engine callback.
package updates

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/sqlbridge/internal/hook"
)

// Tracker collects changed table names and publishes them in batches.
type Tracker struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	queue *batchQueue

	subMu   sync.Mutex
	subs    map[int]chan []string
	nextSub int
	dropped int64
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// New creates an idle tracker. Start Run to deliver batches.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		logger:  slog.Default(),
		pending: make(map[string]struct{}),
		queue:   newBatchQueue(),
		subs:    make(map[int]chan []string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) OnRowChange(ev hook.RowChange) {
	t.mu.Lock()
	t.pending[ev.Table] = struct{}{}
	t.mu.Unlock()
}

// OnCommit keeps the pending tables; they are published by FireTableUpdates.
func (t *Tracker) OnCommit(hook.Commit) error {
	return nil
}

func (t *Tracker) OnRollback(hook.Rollback) {
	t.mu.Lock()
	n := len(t.pending)
	clear(t.pending)
	t.mu.Unlock()
	if n > 0 {
		t.logger.Debug("rollback discarded pending table updates", "tables", n)
	}
}

// Pending returns the sorted tables collected since the last fire.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.pending)
}

// FireTableUpdates snapshots and clears the pending set, then queues it for
// delivery. It returns the published batch, or nil when nothing changed.
func (t *Tracker) FireTableUpdates() []string {
	t.mu.Lock()
	batch := sortedKeys(t.pending)
	clear(t.pending)
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if !t.queue.enqueue(batch) {
		t.logger.Warn("table updates fired after close", "tables", batch)
		return nil
	}
	t.logger.Debug("firing table updates", "tables", batch)
	return batch
}

// Subscribe returns a channel receiving each published batch and a cancel
// func that closes it. A subscriber whose buffer is full misses the batch.
func (t *Tracker) Subscribe(buffer int) (<-chan []string, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []string, buffer)

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	t.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
			t.subMu.Unlock()
		})
	}
}

// Dropped counts batches not delivered to a full subscriber.
func (t *Tracker) Dropped() int64 {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return t.dropped
}

// Run delivers queued batches until ctx is done or Close is called. After
// Close, batches already queued are still delivered.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		for {
			b, ok := t.queue.tryDequeue()
			if !ok {
				break
			}
			t.publish(b)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-t.queue.wait():
			if !open && t.queue.len() == 0 {
				return nil
			}
		}
	}
}

func (t *Tracker) publish(batch []string) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for id, ch := range t.subs {
		select {
		case ch <- batch:
		default:
			t.dropped++
			t.logger.Warn("subscriber full, dropping table updates", "subscriber", id, "tables", batch)
		}
	}
}

// Close stops accepting batches. Run delivers what is queued and returns.
func (t *Tracker) Close() {
	t.queue.close()
}

// CloseSubscribers closes all subscriber channels.
func (t *Tracker) CloseSubscribers() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
