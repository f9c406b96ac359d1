package channels

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/fiberworks"
)

func threeHandlers(ch *AckChannel[string], calls *[]string) {
	ch.SubscribeFunc(func(string) bool { *calls = append(*calls, "H1"); return false })
	ch.SubscribeFunc(func(string) bool { *calls = append(*calls, "H2"); return true })
	ch.SubscribeFunc(func(string) bool { *calls = append(*calls, "H3"); return false })
}

func TestAckDefaultControlStopsAtFirstAck(t *testing.T) {
	ch := NewAckChannel[string]()
	var calls []string
	threeHandlers(ch, &calls)

	handled, err := ch.Publish(context.Background(), "claim", DefaultAcknowledgementControl{})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"H1", "H2"}, calls)
}

func TestAckReverseControlStopsAtFirstAck(t *testing.T) {
	ch := NewAckChannel[string]()
	var calls []string
	threeHandlers(ch, &calls)

	handled, err := ch.Publish(context.Background(), "claim", ReverseOrderAcknowledgementControl{})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"H3", "H2"}, calls)
}

func TestAckNobodyHandles(t *testing.T) {
	ch := NewAckChannel[int]()
	n := 0
	ch.SubscribeFunc(func(int) bool { n++; return false })
	ch.SubscribeFunc(func(int) bool { n++; panic("treated as not handled") })

	handled, err := ch.Publish(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, 2, n)
}

func TestAckConcurrentPublishFailsFast(t *testing.T) {
	ch := NewAckChannel[int]()
	entered := make(chan struct{})
	release := make(chan struct{})
	ch.SubscribeFunc(func(int) bool {
		close(entered)
		<-release
		return true
	})

	errc := make(chan error, 1)
	go func() {
		_, err := ch.Publish(context.Background(), 1, nil)
		errc <- err
	}()
	<-entered

	_, err := ch.Publish(context.Background(), 2, nil)
	assert.ErrorIs(t, err, ErrPublishInProgress)

	close(release)
	require.NoError(t, <-errc)
}

func TestAckReentrantPublishFails(t *testing.T) {
	ch := NewAckChannel[int]()
	var inner error
	ch.SubscribeFunc(func(v int) bool {
		if v == 1 {
			_, inner = ch.Publish(context.Background(), 2, nil)
		}
		return true
	})

	_, err := ch.Publish(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrPublishInProgress)
}

func TestAckFiberHandlers(t *testing.T) {
	pool := fiberworks.NewPool(context.Background(), 2)
	defer pool.Close()
	f1 := fiberworks.NewPoolFiber(pool)
	f2 := fiberworks.NewPoolFiber(pool)
	defer f1.Dispose()
	defer f2.Dispose()

	ch := NewAckChannel[string]()
	claimed := make(chan string, 2)
	ch.Subscribe(f1, func(s string) bool { return false })
	ch.Subscribe(f2, func(s string) bool {
		claimed <- s
		return true
	})

	handled, err := ch.Publish(context.Background(), "job-1", nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, "job-1", <-claimed)
}

func TestAckFiberHandlerPanicAnswersFalse(t *testing.T) {
	pool := fiberworks.NewPool(context.Background(), 1)
	defer pool.Close()
	f := fiberworks.NewPoolFiber(pool)
	defer f.Dispose()

	ch := NewAckChannel[int]()
	ch.Subscribe(f, func(int) bool { panic("handler bug") })

	handled, err := ch.Publish(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestAckContextCancelEndsWait(t *testing.T) {
	f := fiberworks.NewStubFiber() // never pumped
	ch := NewAckChannel[int]()
	ch.Subscribe(f, func(int) bool { return true })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	handled, err := ch.Publish(ctx, 1, nil)
	assert.False(t, handled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAckDisposedFiberIsSkipped(t *testing.T) {
	dead := fiberworks.NewStubFiber()
	ch := NewAckChannel[int]()
	var calls []string
	ch.add(func(ctx context.Context, _ int) (bool, error) {
		return false, dead.Enqueue(func() {})
	})
	ch.SubscribeFunc(func(int) bool { calls = append(calls, "live"); return true })
	dead.Dispose()

	handled, err := ch.Publish(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, []string{"live"}, calls)
}

func TestAckFiberDisposedWhileAwaitingAnswer(t *testing.T) {
	stub := fiberworks.NewStubFiber()
	ch := NewAckChannel[int]()
	ch.Subscribe(stub, func(int) bool { return true })
	ch.SubscribeFunc(func(int) bool { return true })

	go func() {
		for stub.NumPending() != 1 {
			time.Sleep(time.Millisecond)
		}
		stub.Dispose()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	handled, err := ch.Publish(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, handled, "the live handler answers once the disposed one is skipped")
	assert.Less(t, time.Since(start), time.Second)

	// The channel is not left with a publish in flight.
	_, err = ch.Publish(context.Background(), 2, nil)
	assert.NoError(t, err)
}

func TestAckUnsubscribe(t *testing.T) {
	ch := NewAckChannel[int]()
	sub := ch.SubscribeFunc(func(int) bool { return true })
	require.Equal(t, 1, ch.NumSubscribers())
	sub.Dispose()
	assert.Equal(t, 0, ch.NumSubscribers())

	handled, err := ch.Publish(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.False(t, handled)
}
