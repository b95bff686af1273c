// Package queue provides a bounded in-memory buffer between the
// detection pipeline and the alert publisher. Alerts dropped on
// overflow are still persisted; only downstream delivery is lossy.
package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"argus-siem/internal/schema"
)

var (
	// ErrQueueFull is returned when attempting to push to a full queue.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when attempting to pop from an empty queue.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrQueueClosed is returned when attempting to use a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// AlertQueue is a thread-safe circular buffer of alerts.
type AlertQueue struct {
	buffer []*schema.Alert
	size   int
	head   int
	tail   int
	count  int
	closed bool
	mu     sync.Mutex
	cond   *sync.Cond

	totalPushed  uint64
	totalPopped  uint64
	totalDropped uint64
}

// NewAlertQueue creates an AlertQueue with the specified capacity.
func NewAlertQueue(size int) *AlertQueue {
	if size <= 0 {
		size = 10000
	}

	q := &AlertQueue{
		buffer: make([]*schema.Alert, size),
		size:   size,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds an alert to the queue.
// Returns ErrQueueFull if the queue is at capacity.
func (q *AlertQueue) Push(alert *schema.Alert) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if q.count == q.size {
		atomic.AddUint64(&q.totalDropped, 1)
		return ErrQueueFull
	}

	q.buffer[q.tail] = alert
	q.tail = (q.tail + 1) % q.size
	q.count++
	atomic.AddUint64(&q.totalPushed, 1)

	q.cond.Signal()
	return nil
}

// Publish implements the pipeline's alert sink.
func (q *AlertQueue) Publish(alert *schema.Alert) error {
	return q.Push(alert)
}

// Pop removes and returns an alert from the queue.
// Returns ErrQueueEmpty if the queue is empty.
func (q *AlertQueue) Pop() (*schema.Alert, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil, ErrQueueEmpty
	}

	return q.popLocked(), nil
}

// PopBlocking removes and returns an alert from the queue.
// Blocks until an alert is available or the queue is closed.
func (q *AlertQueue) PopBlocking() (*schema.Alert, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.closed && q.count == 0 {
		return nil, ErrQueueClosed
	}

	return q.popLocked(), nil
}

// PopWithTimeout removes and returns an alert from the queue.
// Returns ErrQueueEmpty if no alert is available within the timeout.
func (q *AlertQueue) PopWithTimeout(timeout time.Duration) (*schema.Alert, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}

		done := make(chan struct{})
		go func() {
			time.Sleep(remaining)
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
			close(done)
		}()

		q.cond.Wait()

		select {
		case <-done:
		default:
		}

		if time.Now().After(deadline) {
			return nil, ErrQueueEmpty
		}
	}

	if q.closed && q.count == 0 {
		return nil, ErrQueueClosed
	}

	if q.count == 0 {
		return nil, ErrQueueEmpty
	}

	return q.popLocked(), nil
}

func (q *AlertQueue) popLocked() *schema.Alert {
	alert := q.buffer[q.head]
	q.buffer[q.head] = nil
	q.head = (q.head + 1) % q.size
	q.count--
	atomic.AddUint64(&q.totalPopped, 1)
	return alert
}

// Len returns the current number of alerts in the queue.
func (q *AlertQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the capacity of the queue.
func (q *AlertQueue) Cap() int {
	return q.size
}

// IsEmpty returns true if the queue is empty.
func (q *AlertQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == 0
}

// Close closes the queue and wakes up any waiting consumers.
func (q *AlertQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Metrics returns queue statistics.
func (q *AlertQueue) Metrics() Metrics {
	return Metrics{
		Pushed:   atomic.LoadUint64(&q.totalPushed),
		Popped:   atomic.LoadUint64(&q.totalPopped),
		Dropped:  atomic.LoadUint64(&q.totalDropped),
		Depth:    q.Len(),
		Capacity: q.size,
	}
}

// Metrics holds statistics about queue operations.
type Metrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}
