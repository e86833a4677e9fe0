package updates

import "sync"

// batchQueue is an unbounded FIFO of table-name batches.
//
// FireTableUpdates enqueues from the writer's goroutine while Run drains.
// The signal channel has a buffer of one so repeated enqueues coalesce into
// a single wakeup, and Run can wait on it alongside ctx.Done().
type batchQueue struct {
	mu      sync.Mutex
	batches [][]string
	closed  bool
	signal  chan struct{}
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		batches: make([][]string, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// enqueue returns false once the queue is closed.
func (q *batchQueue) enqueue(b []string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.batches = append(q.batches, b)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *batchQueue) tryDequeue() ([]string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, false
	}
	b := q.batches[0]
	q.batches[0] = nil
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// wait signals that batches may be available. It is closed by close.
func (q *batchQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *batchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

func (q *batchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
