package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIsEmptyInvariant(t *testing.T) {
	q := New(context.Background())
	require.True(t, q.IsEmpty())

	q.Enqueue(NativeJob{Tag: uuid.NewString(), Run: func(Context) error { return nil }})
	require.False(t, q.IsEmpty())

	q.RunJobs(nil)
	require.True(t, q.IsEmpty())
}

func TestSpawnExitPreventingBlocksEmpty(t *testing.T) {
	q := New(context.Background())
	release := make(chan struct{})

	q.Spawn(FutureJob{
		Tag: "blocking",
		Poll: func(ctx context.Context) (NativeJob, error) {
			<-release
			return NativeJob{Run: func(Context) error { return nil }}, nil
		},
	}, true)

	require.False(t, q.IsEmpty())
	require.Equal(t, 1, q.PendingFutures())

	close(release)
	require.Eventually(t, func() bool {
		q.RunJobs(nil)
		return q.IsEmpty()
	}, time.Second, time.Millisecond)
}

func TestSpawnNonBlockingDoesNotPreventExit(t *testing.T) {
	q := New(context.Background())
	release := make(chan struct{})

	q.Spawn(FutureJob{
		Poll: func(ctx context.Context) (NativeJob, error) {
			<-release
			return NativeJob{Run: func(Context) error { return nil }}, nil
		},
	}, false)

	require.True(t, q.IsEmpty())
	close(release)
}

func TestNativeJobsFromSameFutureRunContiguously(t *testing.T) {
	q := New(context.Background())
	var mu sync.Mutex
	var order []int

	q.Spawn(FutureJob{
		Poll: func(ctx context.Context) (NativeJob, error) {
			return NativeJob{Run: func(Context) error {
				mu.Lock()
				order = append(order, 1)
				mu.Unlock()
				q.Enqueue(NativeJob{Run: func(Context) error {
					mu.Lock()
					order = append(order, 2)
					mu.Unlock()
					return nil
				}})
				return nil
			}}, nil
		},
	}, true)

	deadline := time.Now().Add(time.Second)
	for !q.IsEmpty() && time.Now().Before(deadline) {
		q.RunJobs(nil)
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}

func TestRunJobsLogsErrorAndContinues(t *testing.T) {
	q := New(context.Background())
	ran := false
	q.Enqueue(NativeJob{Run: func(Context) error { return errors.New("boom") }})
	q.Enqueue(NativeJob{Run: func(Context) error { ran = true; return nil }})
	q.RunJobs(nil)
	require.True(t, ran)
}

func TestRunJobsReportsErrorThroughHandler(t *testing.T) {
	q := New(context.Background())
	var gotTag string
	var gotErr error
	q.SetErrorHandler(func(tag string, err error) { gotTag = tag; gotErr = err })

	q.Enqueue(NativeJob{Tag: "broken", Run: func(Context) error { return errors.New("boom") }})
	q.RunJobs(nil)

	require.Equal(t, "broken", gotTag)
	require.EqualError(t, gotErr, "boom")
}

func TestPollBlocksUntilFifoGetsWorkThenWakes(t *testing.T) {
	q := New(context.Background())

	done := make(chan bool, 1)
	go func() { done <- q.Poll(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Poll should block while the FIFO is empty")
	case <-time.After(30 * time.Millisecond):
	}

	q.Enqueue(NativeJob{Run: func(Context) error { return nil }})

	select {
	case empty := <-done:
		require.False(t, empty, "FIFO just got a job, queue should report non-empty")
	case <-time.After(time.Second):
		t.Fatal("Poll did not wake up after Enqueue")
	}
}

func TestPollReturnsImmediatelyWhenFifoAlreadyHasWork(t *testing.T) {
	q := New(context.Background())
	q.Enqueue(NativeJob{Run: func(Context) error { return nil }})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	require.False(t, q.Poll(ctx))
}

func TestPollWakesOnFutureResolutionWithEmptyFifo(t *testing.T) {
	q := New(context.Background())
	release := make(chan struct{})
	q.Spawn(FutureJob{
		Poll: func(ctx context.Context) (NativeJob, error) {
			<-release
			return NativeJob{Run: func(Context) error { return nil }}, nil
		},
	}, true)

	done := make(chan bool, 1)
	go func() { done <- q.Poll(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Poll should block while the future is still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not wake up once the future resolved")
	}
}
