package channels

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/baxromumarov/fiberworks"
)

type quote struct {
	Symbol string
	Price  int
}

func TestBatchCoalescesIntoOneList(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[int]()

	var got [][]int
	SubscribeToBatch(ch, f, 100*time.Millisecond, func(b []int) { got = append(got, b) })

	for i := 1; i <= 5; i++ {
		ch.Publish(i)
	}
	assert.Equal(t, 1, f.NumScheduled(), "one flush timer per filter")
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, f.ScheduledDelays())

	f.ExecuteAllScheduled()
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, got)

	ch.Publish(6)
	assert.Equal(t, 1, f.NumScheduled(), "the next message re-arms the timer")
	f.ExecuteAllScheduled()
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}, {6}}, got)
}

func TestBatchCoalescingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := fiberworks.NewStubFiber()
		ch := NewChannel[int]()

		var batches [][]int
		var last []int
		lastByKey := map[int]int{}
		SubscribeToBatch(ch, f, time.Second, func(b []int) { batches = append(batches, b) })
		SubscribeToLast(ch, f, time.Second, func(v int) { last = append(last, v) })
		SubscribeToKeyedBatch(ch, f, func(v int) int { return v % 3 }, time.Second, func(m map[int]int) {
			for k, v := range m {
				lastByKey[k] = v
			}
		})

		msgs := rapid.SliceOfN(rapid.IntRange(0, 1000), 1, 40).Draw(t, "msgs")
		for _, m := range msgs {
			ch.Publish(m)
		}
		if n := f.NumScheduled(); n != 3 {
			t.Fatalf("expected one timer per filter, got %d", n)
		}
		f.ExecuteAllScheduled()

		if len(batches) != 1 || len(batches[0]) != len(msgs) {
			t.Fatalf("batch: got %v for %v", batches, msgs)
		}
		for i := range msgs {
			if batches[0][i] != msgs[i] {
				t.Fatalf("batch order: got %v want %v", batches[0], msgs)
			}
		}
		if len(last) != 1 || last[0] != msgs[len(msgs)-1] {
			t.Fatalf("last: got %v want %d", last, msgs[len(msgs)-1])
		}
		want := map[int]int{}
		for _, m := range msgs {
			want[m%3] = m
		}
		for k, v := range want {
			if lastByKey[k] != v {
				t.Fatalf("keyed: key %d got %d want %d", k, lastByKey[k], v)
			}
		}
	})
}

func TestLastDeliversMostRecent(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[string]()

	var got []string
	SubscribeToLast(ch, f, 50*time.Millisecond, func(s string) { got = append(got, s) })
	ch.Publish("m1")
	ch.Publish("m2")
	ch.Publish("m3")
	f.ExecuteAllScheduled()

	assert.Equal(t, []string{"m3"}, got)
}

func TestKeyedBatchSameKeyKeepsLatest(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[quote]()

	var got []map[string]quote
	SubscribeToKeyedBatch(ch, f, func(q quote) string { return q.Symbol }, 50*time.Millisecond,
		func(m map[string]quote) { got = append(got, m) })

	ch.Publish(quote{"ACME", 1})
	ch.Publish(quote{"ACME", 2})
	ch.Publish(quote{"ACME", 3})
	f.ExecuteAllScheduled()

	require.Len(t, got, 1)
	assert.Equal(t, map[string]quote{"ACME": {"ACME", 3}}, got[0])
}

func TestFilterDisposeCancelsPendingFlush(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[int]()

	delivered := false
	sub := SubscribeToBatch(ch, f, time.Second, func([]int) { delivered = true })
	ch.Publish(1)
	require.Equal(t, 1, f.NumScheduled())

	sub.Dispose()
	assert.Equal(t, 0, f.NumScheduled())
	assert.Equal(t, 0, ch.NumSubscribers())
	f.ExecuteAllScheduled()
	assert.False(t, delivered)
}

func TestFilterWithPredicate(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[int]()

	var got []int
	SubscribeToBatch(ch, f, time.Second, func(b []int) { got = b },
		WithFilter(func(v int) bool { return v > 2 }))
	ch.Publish(1)
	assert.Equal(t, 0, f.NumScheduled(), "filtered messages do not arm the timer")
	for _, v := range []int{2, 3, 4} {
		ch.Publish(v)
	}
	f.ExecuteAllScheduled()
	assert.Equal(t, []int{3, 4}, got)
}

func TestFilterDeliverOnSecondFiber(t *testing.T) {
	batching := fiberworks.NewStubFiber()
	consumer := fiberworks.NewStubFiber()
	ch := NewChannel[int]()

	var got []int
	SubscribeToBatch(ch, batching, time.Second, func(b []int) { got = b }, DeliverOn(consumer))
	ch.Publish(1)
	ch.Publish(2)

	batching.ExecuteAllScheduled()
	assert.Nil(t, got, "flush hands the batch to the consumer fiber")
	assert.Equal(t, 1, consumer.NumPending())

	consumer.ExecuteAll()
	assert.Equal(t, []int{1, 2}, got)
}

func TestBatchOnRealFiber(t *testing.T) {
	pool := fiberworks.NewPool(context.Background(), 2)
	defer pool.Close()
	f := fiberworks.NewPoolFiber(pool)
	defer f.Dispose()

	ch := NewChannel[int]()
	var (
		mu      sync.Mutex
		batches [][]int
	)
	done := make(chan struct{})
	SubscribeToBatch(ch, f, 20*time.Millisecond, func(b []int) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
		close(done)
	})
	for i := range 10 {
		ch.Publish(i)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][]int{{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}}, batches)
}

func TestNewFiltersPanicOnMisuse(t *testing.T) {
	f := fiberworks.NewStubFiber()
	assert.Panics(t, func() { NewBatch[int](nil, time.Second, func([]int) {}) })
	assert.Panics(t, func() { NewLast[int](f, -time.Second, func(int) {}) })
	assert.Panics(t, func() { NewKeyedBatch[int, int](f, nil, time.Second, func(map[int]int) {}) })
	assert.Panics(t, func() { NewBatch[int](f, time.Second, nil) })
}

func TestStandaloneBatch(t *testing.T) {
	f := fiberworks.NewStubFiber()
	var got []string
	b := NewBatch(f, time.Second, func(v []string) { got = v })

	b.OnMessage("a")
	b.OnMessage("b")
	f.ExecuteAllScheduled()
	assert.Equal(t, []string{"a", "b"}, got)

	b.OnMessage("c")
	b.Dispose()
	f.ExecuteAllScheduled()
	assert.Equal(t, []string{"a", "b"}, got)
}
