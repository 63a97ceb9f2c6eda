package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestQueue() (*Queue, *ManualClock) {
	clk := NewManualClock(epoch)
	return NewQueue(clk), clk
}

func TestQueue_FiresInDueOrder(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()

	var got []string
	q.Schedule(tok, 300*time.Millisecond, func() { got = append(got, "c") })
	q.Schedule(tok, 100*time.Millisecond, func() { got = append(got, "a") })
	q.Schedule(tok, 200*time.Millisecond, func() { got = append(got, "b") })

	assert.Equal(t, 0, q.Advance(50*time.Millisecond))
	assert.Equal(t, 2, q.Advance(150*time.Millisecond))
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, q.Advance(time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EqualDueKeepsScheduleOrder(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		q.Schedule(tok, 100*time.Millisecond, func() { got = append(got, i) })
	}
	q.Advance(100 * time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestQueue_ClockFollowsTaskDueTime(t *testing.T) {
	q, clk := newTestQueue()
	tok := q.NewToken()

	var seen []time.Duration
	q.Schedule(tok, 100*time.Millisecond, func() { seen = append(seen, clk.Now().Sub(epoch)) })
	q.Schedule(tok, 400*time.Millisecond, func() { seen = append(seen, clk.Now().Sub(epoch)) })

	q.Advance(time.Second)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}, seen)
	assert.Equal(t, time.Second, clk.Now().Sub(epoch))
}

func TestQueue_NestedScheduleFiresInSameAdvance(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()

	var got []string
	q.Schedule(tok, 100*time.Millisecond, func() {
		got = append(got, "outer")
		q.Schedule(tok, 100*time.Millisecond, func() { got = append(got, "inner") })
	})

	q.Advance(200 * time.Millisecond)
	assert.Equal(t, []string{"outer", "inner"}, got)
}

func TestQueue_CancelAllDropsOnlyThatToken(t *testing.T) {
	q, _ := newTestQueue()
	oldTok := q.NewToken()
	newTok := q.NewToken()

	var got []string
	q.Schedule(oldTok, 100*time.Millisecond, func() { got = append(got, "old") })
	q.Schedule(oldTok, 200*time.Millisecond, func() { got = append(got, "old") })
	q.Schedule(newTok, 150*time.Millisecond, func() { got = append(got, "new") })

	assert.Equal(t, 2, q.Pending(oldTok))
	assert.Equal(t, 2, q.CancelAll(oldTok))
	assert.True(t, oldTok.Cancelled())
	assert.Equal(t, 0, q.Pending(oldTok))
	assert.Equal(t, 1, q.Pending(newTok))

	q.Advance(time.Second)
	assert.Equal(t, []string{"new"}, got)
}

func TestQueue_ScheduleOnCancelledTokenIsNoop(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()
	q.CancelAll(tok)

	h := q.Schedule(tok, 0, func() { t.Fatal("must not run") })
	assert.Equal(t, Handle{}, h)
	assert.Equal(t, 0, q.Len())
	q.Advance(time.Second)
}

func TestQueue_CancelDuringFireSkipsRemaining(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()

	var got []int
	q.Schedule(tok, 100*time.Millisecond, func() {
		got = append(got, 1)
		q.CancelAll(tok)
	})
	q.Schedule(tok, 100*time.Millisecond, func() { got = append(got, 2) })
	q.Schedule(tok, 200*time.Millisecond, func() { got = append(got, 3) })

	q.Advance(time.Second)
	assert.Equal(t, []int{1}, got)
}

func TestQueue_CancelSingle(t *testing.T) {
	q, _ := newTestQueue()
	tok := q.NewToken()

	ran := false
	h := q.Schedule(tok, 100*time.Millisecond, func() { ran = true })
	assert.True(t, q.Cancel(h))
	assert.False(t, q.Cancel(h))

	q.Advance(time.Second)
	assert.False(t, ran)
}

func TestQueue_RunRealTime(t *testing.T) {
	q := NewQueue(SystemClock{})
	tok := q.NewToken()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	q.Schedule(tok, 20*time.Millisecond, func() {
		mu.Lock()
		got = append(got, 2)
		mu.Unlock()
		close(done)
	})
	q.Schedule(tok, 5*time.Millisecond, func() {
		mu.Lock()
		got = append(got, 1)
		mu.Unlock()
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue")
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2}, got)
	mu.Unlock()

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
