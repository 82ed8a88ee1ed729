package keel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazy_ResolvesOnFirstUse(t *testing.T) {
	var constructions atomic.Int32

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, func() *testConn {
			constructions.Add(1)
			return newTestConn()
		}),
	})
	ctx := context.Background()

	lazy := NewLazy[*testConn](provider)
	assert.Equal(t, int32(0), constructions.Load())

	first, err := lazy.Value(ctx)
	require.NoError(t, err)
	second, err := lazy.Value(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestLazy_ConcurrentAccessResolvesOnce(t *testing.T) {
	var constructions atomic.Int32

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Transient, func() *testConn {
			constructions.Add(1)
			return newTestConn()
		}),
	})
	ctx := context.Background()

	lazy := NewLazy[*testConn](provider)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := lazy.Value(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Even for a transient service the lazy handle resolves once and caches.
	assert.Equal(t, int32(1), constructions.Load())
}

func TestLazy_CachesFailure(t *testing.T) {
	provider := buildProvider(t, nil)
	ctx := context.Background()

	lazy := NewLazy[*testConn](provider)

	_, err := lazy.Value(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCannotResolveSentinel)

	_, err = lazy.Value(ctx)
	assert.ErrorIs(t, err, ErrCannotResolveSentinel)
}

func TestKeyedLazy(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[notifier](Singleton, newPushNotifier, WithKey("push")),
	})

	lazy := NewKeyedLazy[notifier](provider, "push")

	got, err := lazy.Value(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "push", got.Channel())
}

func TestLazyDescriptor_BreaksConstructionOrdering(t *testing.T) {
	type consumer struct {
		conn *Lazy[*testConn]
	}

	var constructions atomic.Int32

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, func() *testConn {
			constructions.Add(1)
			return newTestConn()
		}),
		LazyDescriptor[*testConn](),
		Describe[*consumer](Singleton, func(conn *Lazy[*testConn]) *consumer {
			return &consumer{conn: conn}
		}),
	})
	ctx := context.Background()

	c, err := Resolve[*consumer](ctx, provider)
	require.NoError(t, err)
	assert.Equal(t, int32(0), constructions.Load())

	conn, err := c.conn.Value(ctx)
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, int32(1), constructions.Load())
}

func TestProviderFuncDescriptor_FreshPerCall(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Transient, newTestConn),
		ProviderFuncDescriptor[*testConn](),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)
	defer scope.Close()

	fn, err := Resolve[ProviderFunc[*testConn]](ctx, scope)
	require.NoError(t, err)

	first, err := fn(ctx)
	require.NoError(t, err)
	second, err := fn(ctx)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}
