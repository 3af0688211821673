package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimersFireInDeadlineOrder(t *testing.T) {
	q := New()
	var mu sync.Mutex
	var order []string

	record := func(name string) Callable {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	q.Add(50*time.Millisecond, Timeout, record("T1"))
	q.Add(10*time.Millisecond, Timeout, record("T2"))
	q.Add(10*time.Millisecond, Timeout, record("T3"))
	q.Add(100*time.Millisecond, Timeout, record("T4"))

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && !q.IsEmpty() {
		for _, cb := range q.Fire(time.Now()) {
			cb()
		}
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"T2", "T3", "T1", "T4"}, order)
}

func TestIntervalCancellation(t *testing.T) {
	q := New()
	var mu sync.Mutex
	count := 0

	id := q.Add(20*time.Millisecond, Interval, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, cb := range q.Fire(time.Now()) {
			cb()
		}
		time.Sleep(2 * time.Millisecond)
	}
	q.Clear(id)

	// Drain well past a third tick; cleared timers never invoke again.
	deadline = time.Now().Add(40 * time.Millisecond)
	for time.Now().Before(deadline) {
		q.Fire(time.Now())
		time.Sleep(2 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, count)
}

func TestClearTimerLeavesTombstone(t *testing.T) {
	q := New()
	called := false
	id := q.Add(5*time.Millisecond, Timeout, func() { called = true })
	q.Clear(id)

	time.Sleep(10 * time.Millisecond)
	fired := q.Fire(time.Now())
	require.Empty(t, fired)
	require.False(t, called)
	require.True(t, q.IsEmpty())
}

func TestEmptyQueuePollIsCheap(t *testing.T) {
	q := New()
	fired, hasPending := q.Poll()
	require.Empty(t, fired)
	require.False(t, hasPending)
	_, ok := q.SleepDuration()
	require.False(t, ok)
}

func TestZeroDurationTimerFiresNextTick(t *testing.T) {
	q := New()
	q.Add(0, Timeout, func() {})
	time.Sleep(time.Millisecond)
	fired := q.Fire(time.Now())
	require.Len(t, fired, 1)
}
