package channels

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/baxromumarov/fiberworks"
)

func TestChannelPublishWithoutSubscribers(t *testing.T) {
	ch := NewChannel[string]()
	assert.False(t, ch.Publish("nobody"))
}

func TestChannelTwoFibersEachReceiveOnce(t *testing.T) {
	pool := fiberworks.NewPool(context.Background(), 4)
	defer pool.Close()

	f1 := fiberworks.NewPoolFiber(pool)
	f2 := fiberworks.NewPoolFiber(pool)
	defer f1.Dispose()
	defer f2.Dispose()

	ch := NewChannel[string]()
	var got1, got2 atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)
	ch.Subscribe(f1, func(msg string) {
		assert.Equal(t, "X", msg)
		got1.Add(1)
		wg.Done()
	})
	ch.Subscribe(f2, func(msg string) {
		assert.Equal(t, "X", msg)
		got2.Add(1)
		wg.Done()
	})

	require.True(t, ch.Publish("X"))
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), got1.Load())
	assert.Equal(t, int32(1), got2.Load())
}

func TestChannelSubscribeDeliversOnFiber(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[int]()

	var got []int
	ch.Subscribe(f, func(v int) { got = append(got, v) })
	ch.Publish(1)
	ch.Publish(2)
	assert.Empty(t, got, "delivery waits for the fiber")

	f.ExecuteAll()
	assert.Equal(t, []int{1, 2}, got)
}

func TestChannelUnsubscribe(t *testing.T) {
	ch := NewChannel[int]()
	n := 0
	sub := ch.SubscribeFunc(func(int) { n++ })
	require.Equal(t, 1, ch.NumSubscribers())

	ch.Publish(1)
	sub.Dispose()
	sub.Dispose()
	assert.False(t, ch.Publish(2))
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, ch.NumSubscribers())
}

func TestChannelFiberDisposeUnsubscribes(t *testing.T) {
	f := fiberworks.NewStubFiber()
	ch := NewChannel[int]()
	ch.Subscribe(f, func(int) {})
	require.Equal(t, 1, ch.NumSubscribers())

	f.Dispose()
	assert.Equal(t, 0, ch.NumSubscribers())
}

func TestChannelWithFilter(t *testing.T) {
	ch := NewChannel[int]()
	var got []int
	ch.SubscribeFunc(func(v int) { got = append(got, v) }, WithFilter(func(v int) bool { return v%2 == 0 }))

	for i := range 6 {
		ch.Publish(i)
	}
	assert.Equal(t, []int{0, 2, 4}, got)
}

func TestChannelWithFilterTypeMismatchPanics(t *testing.T) {
	ch := NewChannel[int]()
	assert.Panics(t, func() {
		ch.SubscribeFunc(func(int) {}, WithFilter(func(string) bool { return true }))
	})
}

func TestChannelPanickingHandlerIsIsolated(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ch := NewChannel[int](WithLogger(zap.New(core)))

	ran := false
	ch.SubscribeFunc(func(int) { panic("bad subscriber") })
	ch.SubscribeFunc(func(int) { ran = true })

	assert.NotPanics(t, func() { ch.Publish(1) })
	assert.True(t, ran)
	assert.Equal(t, 1, logs.FilterMessage("subscriber panicked").Len())
}

func TestChannelSnapshotDuringPublish(t *testing.T) {
	ch := NewChannel[int]()

	var late atomic.Int32
	var removed atomic.Int32
	var victim *fiberworks.Unsubscriber

	ch.SubscribeFunc(func(int) {
		// Mutate the registry while this publish is in flight.
		ch.SubscribeFunc(func(int) { late.Add(1) })
		victim.Dispose()
	})
	victim = ch.SubscribeFunc(func(int) { removed.Add(1) })

	require.True(t, ch.Publish(1))
	assert.Equal(t, int32(0), late.Load(), "handlers added after the snapshot miss the message")
	assert.Equal(t, int32(1), removed.Load(), "handlers in the snapshot still receive it")

	ch.Publish(2)
	assert.Equal(t, int32(1), removed.Load())
	assert.Equal(t, int32(1), late.Load())
}

func TestChannelUnsubscribeSelfDuringPublish(t *testing.T) {
	ch := NewChannel[int]()

	counts := make([]int, 3)
	var first *fiberworks.Unsubscriber
	first = ch.SubscribeFunc(func(int) {
		counts[0]++
		first.Dispose()
	})
	ch.SubscribeFunc(func(int) { counts[1]++ })
	ch.SubscribeFunc(func(int) { counts[2]++ })

	ch.Publish(1)
	assert.Equal(t, []int{1, 1, 1}, counts, "removing a handler mid-publish does not shift the rest")

	ch.Publish(2)
	assert.Equal(t, []int{1, 2, 2}, counts)
	assert.Equal(t, 2, ch.NumSubscribers())
}

func TestChannelConcurrentSubscribeAndPublish(t *testing.T) {
	ch := NewChannel[int]()
	var stable atomic.Int64
	ch.SubscribeFunc(func(int) { stable.Add(1) })

	const publishes = 2000
	var wg conc.WaitGroup
	for range 4 {
		wg.Go(func() {
			for range publishes / 4 {
				ch.Publish(1)
			}
		})
	}
	for range 4 {
		wg.Go(func() {
			for range 200 {
				ch.SubscribeFunc(func(int) {}).Dispose()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int64(publishes), stable.Load(), "a stable subscriber is never skipped")
	assert.Equal(t, 1, ch.NumSubscribers())
}

func TestChannelClear(t *testing.T) {
	ch := NewChannel[int]()
	sub := ch.SubscribeFunc(func(int) {})
	ch.SubscribeFunc(func(int) {})
	ch.Clear()

	assert.Equal(t, 0, ch.NumSubscribers())
	assert.NotPanics(t, sub.Dispose)
}

func TestChannelDeliveryToDisposedFiberIsDropped(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ch := NewChannel[int](WithLogger(zap.New(core)))

	f := fiberworks.NewStubFiber()
	fn := func(int) {}
	// Subscribe through the raw registry so the subscription outlives the fiber.
	ch.add(func(v int) { enqueue(f, ch.logger, func() { fn(v) }) })
	f.Dispose()

	assert.True(t, ch.Publish(1))
	assert.Equal(t, 1, logs.FilterMessage("delivery dropped: fiber disposed").Len())
}
