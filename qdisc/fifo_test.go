package qdisc

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-qdisc/workload"
)

func newScheduled(t *testing.T) workload.Scheduled {
	t.Helper()
	w := workload.New(func(ctx context.Context) (int, error) { return 0, nil }, nil)
	w.MarkScheduled()
	return w
}

func TestFIFOOrderPreserved(t *testing.T) {
	f := NewFIFO(1)
	var ids []uint64
	for i := 0; i < 10; i++ {
		w := newScheduled(t)
		ids = append(ids, w.ID())
		require.NoError(t, f.Enqueue(w))
	}

	for _, id := range ids {
		got, ok := f.TryDequeue(0, false)
		require.True(t, ok)
		require.Equal(t, id, got.ID())
	}
	_, ok := f.TryDequeue(0, false)
	require.False(t, ok)
}

func TestFIFOOverflowPastRingCapacity(t *testing.T) {
	f := NewFIFO(1)
	count := ringBufferSize + 100
	var ids []uint64
	for i := 0; i < count; i++ {
		w := newScheduled(t)
		ids = append(ids, w.ID())
		require.NoError(t, f.Enqueue(w))
	}
	require.Equal(t, count, f.BestEffortCount())

	for _, id := range ids {
		got, ok := f.TryDequeue(0, false)
		require.True(t, ok)
		require.Equal(t, id, got.ID())
	}
}

func TestFIFOIsEmpty(t *testing.T) {
	f := NewFIFO(1)
	require.True(t, f.IsEmpty())
	require.NoError(t, f.Enqueue(newScheduled(t)))
	require.False(t, f.IsEmpty())
	_, _ = f.TryDequeue(0, false)
	require.True(t, f.IsEmpty())
}

func TestFIFOPeekDoesNotRemove(t *testing.T) {
	f := NewFIFO(1)
	w := newScheduled(t)
	require.NoError(t, f.Enqueue(w))

	peeked, ok := f.TryPeek(0)
	require.True(t, ok)
	require.Equal(t, w.ID(), peeked.ID())

	got, ok := f.TryDequeue(0, false)
	require.True(t, ok)
	require.Equal(t, w.ID(), got.ID())
}

func TestFIFOCompleteRejectsFurtherEnqueue(t *testing.T) {
	f := NewFIFO(1)
	f.Complete()
	require.ErrorIs(t, f.Enqueue(newScheduled(t)), ErrCompleted)
}

func TestFIFODisposeRejectsFurtherEnqueue(t *testing.T) {
	f := NewFIFO(1)
	f.Dispose()
	require.ErrorIs(t, f.Enqueue(newScheduled(t)), ErrDisposed)
}

func TestFIFOClassifier(t *testing.T) {
	f := NewFIFO(1, WithClassifier(func(state any) bool { return state == "mine" }))
	require.True(t, f.CanClassify("mine"))
	require.False(t, f.CanClassify("other"))
	require.True(t, f.TryEnqueue("mine", newScheduled(t)))
	require.False(t, f.TryEnqueue("other", newScheduled(t)))
}

func TestFIFOTryFindRouteAndByHandle(t *testing.T) {
	f := NewFIFO(99)
	path := AcquireRoutingPath()
	defer ReleaseRoutingPath(path)

	require.True(t, f.TryFindRoute(99, path))

	missPath := AcquireRoutingPath()
	require.False(t, f.TryFindRoute(100, missPath))
	ReleaseRoutingPath(missPath)

	w := newScheduled(t)
	require.NoError(t, f.TryEnqueueByHandle(99, w))
	got, ok := f.TryDequeue(0, false)
	require.True(t, ok)
	require.Equal(t, w.ID(), got.ID())

	err := f.TryEnqueueByHandle(100, newScheduled(t))
	var scheduleErr *ScheduleError
	require.ErrorAs(t, err, &scheduleErr)
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestFIFOConcurrentProducersSingleConsumer(t *testing.T) {
	f := NewFIFO(1)
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				require.NoError(t, f.Enqueue(newScheduled(t)))
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		_, ok := f.TryDequeue(0, false)
		if !ok {
			break
		}
		total++
	}
	require.Equal(t, producers*perProducer, total)
}
