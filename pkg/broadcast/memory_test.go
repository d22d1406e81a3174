package broadcast_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/paywall/pkg/broadcast"
)

type purchaseEvent struct {
	Kind      string
	ProductID string
}

func TestMemoryBroadcaster_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("subscribe creates active subscriber", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[string](10)
		defer b.Close()

		sub := b.Subscribe(context.Background())
		require.NotNil(t, sub)
		require.NotNil(t, sub.Receive(context.Background()))
		assert.Equal(t, 1, b.Subscribers())
	})

	t.Run("subscribe after close returns closed subscriber", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[string](10)
		require.NoError(t, b.Close())

		sub := b.Subscribe(context.Background())
		_, ok := <-sub.Receive(context.Background())
		assert.False(t, ok)
	})

	t.Run("context cancellation unsubscribes", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[string](10)
		defer b.Close()

		ctx, cancel := context.WithCancel(context.Background())
		sub := b.Subscribe(ctx)
		cancel()

		require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
		_, ok := <-sub.Receive(context.Background())
		assert.False(t, ok)
	})
}

func TestMemoryBroadcaster_Broadcast(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every subscriber", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[purchaseEvent](4)
		defer b.Close()

		ctx := context.Background()
		s1 := b.Subscribe(ctx)
		s2 := b.Subscribe(ctx)

		ev := purchaseEvent{Kind: "updated", ProductID: "sub_monthly"}
		require.NoError(t, b.Broadcast(ctx, broadcast.Message[purchaseEvent]{Data: ev}))

		assert.Equal(t, ev, (<-s1.Receive(ctx)).Data)
		assert.Equal(t, ev, (<-s2.Receive(ctx)).Data)
	})

	t.Run("full buffer drops message but keeps subscriber", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[int](1)
		defer b.Close()

		ctx := context.Background()
		sub := b.Subscribe(ctx)

		require.NoError(t, b.Broadcast(ctx, broadcast.Message[int]{Data: 1}))
		require.NoError(t, b.Broadcast(ctx, broadcast.Message[int]{Data: 2}))

		assert.Equal(t, uint64(1), b.Dropped())
		assert.Equal(t, 1, b.Subscribers())
		assert.Equal(t, 1, (<-sub.Receive(ctx)).Data)

		require.NoError(t, b.Broadcast(ctx, broadcast.Message[int]{Data: 3}))
		assert.Equal(t, 3, (<-sub.Receive(ctx)).Data)
	})

	t.Run("broadcast after close fails", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[int](1)
		require.NoError(t, b.Close())

		err := b.Broadcast(context.Background(), broadcast.Message[int]{Data: 1})
		assert.ErrorIs(t, err, broadcast.ErrClosed)
	})
}

func TestMemoryBroadcaster_Close(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[string](2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-sub.Receive(ctx)
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestListen(t *testing.T) {
	t.Parallel()

	t.Run("callback sees messages broadcast after registration", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[purchaseEvent](8)
		defer b.Close()

		var (
			mu  sync.Mutex
			got []string
		)
		stop := broadcast.Listen(context.Background(), b, func(e purchaseEvent) {
			mu.Lock()
			got = append(got, e.ProductID)
			mu.Unlock()
		})
		defer stop()

		ctx := context.Background()
		require.NoError(t, b.Broadcast(ctx, broadcast.Message[purchaseEvent]{Data: purchaseEvent{ProductID: "a"}}))
		require.NoError(t, b.Broadcast(ctx, broadcast.Message[purchaseEvent]{Data: purchaseEvent{ProductID: "b"}}))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 2
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		assert.Equal(t, []string{"a", "b"}, got)
		mu.Unlock()
	})

	t.Run("stop ends delivery", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[int](8)
		defer b.Close()

		var calls atomic.Int32
		stop := broadcast.Listen(context.Background(), b, func(int) { calls.Add(1) })
		stop()
		stop()

		require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
		require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: 1}))
		assert.Equal(t, int32(0), calls.Load())
	})

	t.Run("repeated listen and stop leaves no subscribers", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[int](1)
		defer b.Close()

		for range 200 {
			stop := broadcast.Listen(context.Background(), b, func(int) {})
			stop()
		}

		require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
		for i := range 4 {
			require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: i}))
		}
		assert.Zero(t, b.Dropped())
	})

	t.Run("closing the broadcaster ends the listener", func(t *testing.T) {
		t.Parallel()
		b := broadcast.NewMemoryBroadcaster[int](8)
		stop := broadcast.Listen(context.Background(), b, func(int) {})
		require.NoError(t, b.Close())
		stop()
	})
}

func TestMemoryBroadcaster_SubscriberClose(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[int](1)
	defer b.Close()

	sub := b.Subscribe(context.Background())
	require.Equal(t, 1, b.Subscribers())
	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: 1}))
	assert.Zero(t, b.Dropped())
}

func TestMemoryBroadcaster_Concurrent(t *testing.T) {
	t.Parallel()

	b := broadcast.NewMemoryBroadcaster[int](256)
	defer b.Close()

	ctx := context.Background()
	subs := make([]broadcast.Subscriber[int], 5)
	for i := range subs {
		subs[i] = b.Subscribe(ctx)
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 10 {
				_ = b.Broadcast(ctx, broadcast.Message[int]{Data: n*10 + j})
			}
		}(i)
	}
	wg.Wait()

	for _, s := range subs {
		assert.Len(t, s.Receive(ctx), 100)
	}
}
