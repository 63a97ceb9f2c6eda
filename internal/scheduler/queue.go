package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Token groups the tasks scheduled for one run. Once cancelled it stays
// cancelled and no task carrying it will run.
type Token struct {
	id        uint64
	cancelled atomic.Bool
}

// ID returns the token identifier.
func (t *Token) ID() uint64 { return t.id }

// Cancelled reports whether CancelAll has been called for this token.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Handle identifies one scheduled task. The zero Handle refers to nothing.
type Handle struct {
	ID    uint64
	Token uint64
	Due   time.Time
}

type task struct {
	id    uint64
	due   time.Time
	tok   *Token
	fn    func()
	index int
}

// taskHeap orders tasks by due time, then by scheduling order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue is a delayed task queue. Tasks fire one at a time, in (due, schedule)
// order, from whichever goroutine calls FireUntil or Run. Tasks never run
// concurrently with each other.
type Queue struct {
	clock Clock

	mu      sync.Mutex
	tasks   taskHeap
	byToken map[uint64]map[uint64]*task
	nextID  uint64
	nextTok uint64

	fireMu sync.Mutex
	wake   chan struct{}
}

// NewQueue creates a queue reading time from clock.
func NewQueue(clock Clock) *Queue {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Queue{
		clock:   clock,
		byToken: make(map[uint64]map[uint64]*task),
		wake:    make(chan struct{}, 1),
	}
}

// Clock returns the queue's clock.
func (q *Queue) Clock() Clock { return q.clock }

// NewToken issues a fresh cancellation token.
func (q *Queue) NewToken() *Token {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextTok++
	return &Token{id: q.nextTok}
}

// Schedule enqueues fn to run delay after now under tok. Scheduling against a
// cancelled token is a no-op that returns the zero Handle.
func (q *Queue) Schedule(tok *Token, delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	if tok == nil || tok.Cancelled() {
		q.mu.Unlock()
		return Handle{}
	}
	q.nextID++
	t := &task{id: q.nextID, due: q.clock.Now().Add(delay), tok: tok, fn: fn}
	heap.Push(&q.tasks, t)
	set, ok := q.byToken[tok.id]
	if !ok {
		set = make(map[uint64]*task)
		q.byToken[tok.id] = set
	}
	set[t.id] = t
	earliest := q.tasks[0] == t
	q.mu.Unlock()

	if earliest {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return Handle{ID: t.id, Token: tok.id, Due: t.due}
}

// Cancel drops a single pending task. It reports whether the task was pending.
func (q *Queue) Cancel(h Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	set := q.byToken[h.Token]
	t, ok := set[h.ID]
	if !ok {
		return false
	}
	q.removeLocked(t)
	return true
}

// CancelAll marks tok cancelled and drops every task it still has pending.
// It completes before returning; a task already popped for firing observes
// the cancellation and does not run.
func (q *Queue) CancelAll(tok *Token) int {
	if tok == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tok.cancelled.Store(true)
	set := q.byToken[tok.id]
	n := len(set)
	for _, t := range set {
		heap.Remove(&q.tasks, t.index)
	}
	delete(q.byToken, tok.id)
	return n
}

// Pending returns the number of tasks still queued for tok.
func (q *Queue) Pending(tok *Token) int {
	if tok == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byToken[tok.id])
}

// Len returns the number of queued tasks across all tokens.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// FireUntil runs every task due at or before t, in order, and returns how
// many ran. Tasks scheduled by a running task are eligible in the same call.
func (q *Queue) FireUntil(t time.Time) int {
	q.fireMu.Lock()
	defer q.fireMu.Unlock()

	fired := 0
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 || q.tasks[0].due.After(t) {
			q.mu.Unlock()
			break
		}
		next := heap.Pop(&q.tasks).(*task)
		q.forgetLocked(next)
		if c, ok := q.clock.(settable); ok {
			c.Set(next.due)
		}
		q.mu.Unlock()

		if next.tok.Cancelled() {
			continue
		}
		next.fn()
		fired++
	}
	if c, ok := q.clock.(settable); ok {
		c.Set(t)
	}
	return fired
}

// Advance fires everything due within d of the current clock reading.
func (q *Queue) Advance(d time.Duration) int {
	return q.FireUntil(q.clock.Now().Add(d))
}

// Run drives the queue in real time until ctx is cancelled. It is the
// queue's event loop; only one Run should be active per queue.
func (q *Queue) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.FireUntil(q.clock.Now())

		if wait, ok := q.nextDelay(); ok {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (q *Queue) nextDelay() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return 0, false
	}
	d := q.tasks[0].due.Sub(q.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

func (q *Queue) removeLocked(t *task) {
	if t.index >= 0 {
		heap.Remove(&q.tasks, t.index)
	}
	q.forgetLocked(t)
}

func (q *Queue) forgetLocked(t *task) {
	set := q.byToken[t.tok.id]
	delete(set, t.id)
	if len(set) == 0 {
		delete(q.byToken, t.tok.id)
	}
}
