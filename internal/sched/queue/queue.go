// Package queue provides the priority task queue feeding the worker pool.
//
// Ordering is by priority tier first (high before normal before low) and by
// insertion sequence within a tier, so retries re-entering at high priority
// jump ahead of waiting first attempts while same-tier tasks stay FIFO.
package queue

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
)

// pollInterval bounds how long a Get waiter sleeps before re-checking, so a
// dropped wakeup never strands a consumer.
const pollInterval = 50 * time.Millisecond

// Stats holds queue counters.
type Stats struct {
	Pending    int `json:"pending"`
	Processed  int `json:"processed"`
	NotFound   int `json:"not_found"`
	Failed     int `json:"failed"`
	MaxRetries int `json:"max_retries"`
}

// Queue is a priority task queue with retry escalation and terminal
// failure bookkeeping. Safe for concurrent producers and consumers.
type Queue struct {
	mu sync.Mutex

	heap       taskHeap
	seq        uint64
	maxRetries int
	notify     chan struct{}
	log        *slog.Logger

	processed int
	notFound  []domain.FailureRecord
	failed    []domain.FailureRecord
}

// New creates an empty queue. maxRetries caps the attempts a task may
// consume before it lands on the failed list.
func New(maxRetries int, log *slog.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		heap:       make(taskHeap, 0),
		maxRetries: maxRetries,
		notify:     make(chan struct{}, 1),
		log:        log,
	}
}

// Add inserts a task at its own priority with the next sequence number.
func (q *Queue) Add(t *domain.Task) {
	q.mu.Lock()
	q.seq++
	t.Seq = q.seq
	heap.Push(&q.heap, t)
	metrics.QueuePending.Set(float64(q.heap.Len()))
	q.mu.Unlock()
	q.wake()
}

// Get removes and returns the highest-priority task, blocking up to timeout
// when the queue is empty. The second return is false if no task arrived in
// time. Each task is delivered to exactly one caller.
func (q *Queue) Get(timeout time.Duration) (*domain.Task, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			t := heap.Pop(&q.heap).(*domain.Task)
			metrics.QueuePending.Set(float64(q.heap.Len()))
			q.mu.Unlock()
			return t, true
		}
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		select {
		case <-q.notify:
		case <-time.After(remaining):
		}
	}
}

// Retry re-queues a task after a transient failure. The attempt counter
// increments and the task re-enters at high priority with a fresh sequence
// number. Once attempts reach the retry budget the task lands on the failed
// list instead. Reports whether the task was re-queued.
func (q *Queue) Retry(t *domain.Task, cause error) bool {
	q.mu.Lock()
	t.Attempt++
	if t.Attempt >= q.maxRetries {
		q.failed = append(q.failed, newFailureRecord(t, domain.ClassRetryable, cause, t.Attempt))
		q.mu.Unlock()
		metrics.TasksFailed.WithLabelValues(domain.ClassRetryable.String()).Inc()
		q.log.Error("task exhausted retries",
			"path", t.Item.Path,
			"attempts", t.Attempt,
			"error", cause)
		return false
	}
	t.Priority = domain.PriorityHigh
	q.seq++
	t.Seq = q.seq
	heap.Push(&q.heap, t)
	metrics.QueuePending.Set(float64(q.heap.Len()))
	q.mu.Unlock()
	metrics.TasksRetried.Inc()
	q.log.Warn("task re-queued for retry",
		"path", t.Item.Path,
		"attempt", t.Attempt,
		"error", cause)
	q.wake()
	return true
}

// MarkProcessed records a successful task completion.
func (q *Queue) MarkProcessed(t *domain.Task) {
	q.mu.Lock()
	q.processed++
	q.mu.Unlock()
	metrics.TasksProcessed.WithLabelValues(string(t.Action)).Inc()
}

// MarkNotFound records that the lookup service does not know the item.
// Distinct from failure: the run still completes normally.
func (q *Queue) MarkNotFound(t *domain.Task, cause error) {
	q.mu.Lock()
	q.notFound = append(q.notFound, newFailureRecord(t, domain.ClassNotFound, cause, t.Attempt+1))
	q.mu.Unlock()
	metrics.TasksNotFound.Inc()
}

// MarkFailed records a terminal failure without consuming a retry.
func (q *Queue) MarkFailed(t *domain.Task, class domain.FailureClass, cause error) {
	q.mu.Lock()
	q.failed = append(q.failed, newFailureRecord(t, class, cause, t.Attempt+1))
	q.mu.Unlock()
	metrics.TasksFailed.WithLabelValues(class.String()).Inc()
}

// IsEmpty reports whether no tasks are waiting. In-flight tasks are the
// pool's business, not the queue's.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len() == 0
}

// Stats returns current queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    q.heap.Len(),
		Processed:  q.processed,
		NotFound:   len(q.notFound),
		Failed:     len(q.failed),
		MaxRetries: q.maxRetries,
	}
}

// Failed returns a copy of the terminal failure records.
func (q *Queue) Failed() []domain.FailureRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.FailureRecord, len(q.failed))
	copy(out, q.failed)
	return out
}

// NotFound returns a copy of the not-found records.
func (q *Queue) NotFound() []domain.FailureRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.FailureRecord, len(q.notFound))
	copy(out, q.notFound)
	return out
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// newFailureRecord snapshots a task into a failure record. attempts is the
// total attempts consumed, counting the one that just ended.
func newFailureRecord(t *domain.Task, class domain.FailureClass, cause error, attempts int) domain.FailureRecord {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return domain.FailureRecord{
		ID:       uuid.New().String(),
		Path:     t.Item.Path,
		Platform: t.Item.Platform,
		Action:   t.Action,
		Class:    class,
		Error:    msg,
		Attempts: attempts,
	}
}

// taskHeap orders by priority tier, then insertion sequence within a tier.
type taskHeap []*domain.Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*domain.Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
