package keel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// disposeRecorder collects teardown order across test resources.
type disposeRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *disposeRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *disposeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

type trackedResource struct {
	name     string
	rec      *disposeRecorder
	failWith error
}

func (t *trackedResource) Dispose() error {
	t.rec.record(t.name)
	return t.failWith
}

// bothDisposals implements both teardown contracts to verify which one the
// engine picks.
type bothDisposals struct {
	rec *disposeRecorder
}

func (b *bothDisposals) Dispose() error {
	b.rec.record("plain")
	return nil
}

func (b *bothDisposals) DisposeContext(ctx context.Context) error {
	b.rec.record("context")
	return nil
}

type resourceA struct{ trackedResource }

type resourceB struct {
	trackedResource

	dep *resourceA
}

type resourceC struct{ trackedResource }

func trackedDescriptor[T any](lifetime Lifetime, build func() T) *ServiceDescriptor {
	return DescribeFactory[T](lifetime, func(ctx context.Context, r Resolver) (any, error) {
		return build(), nil
	})
}

func TestScopeClose_ReverseConstructionOrder(t *testing.T) {
	rec := &disposeRecorder{}

	provider := buildProvider(t, []*ServiceDescriptor{
		trackedDescriptor(Scoped, func() *resourceA {
			return &resourceA{trackedResource{name: "a", rec: rec}}
		}),
		trackedDescriptor(Scoped, func() *resourceC {
			return &resourceC{trackedResource{name: "c", rec: rec}}
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	_, err = Resolve[*resourceA](ctx, scope)
	require.NoError(t, err)
	_, err = Resolve[*resourceC](ctx, scope)
	require.NoError(t, err)

	require.NoError(t, scope.Close())
	assert.Equal(t, []string{"c", "a"}, rec.recorded())
}

func TestScopeClose_DependentsBeforeDependencies(t *testing.T) {
	rec := &disposeRecorder{}

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*resourceA](Scoped, func() *resourceA {
			return &resourceA{trackedResource{name: "dependency", rec: rec}}
		}),
		Describe[*resourceB](Scoped, func(a *resourceA) *resourceB {
			return &resourceB{trackedResource: trackedResource{name: "dependent", rec: rec}, dep: a}
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	b, err := Resolve[*resourceB](ctx, scope)
	require.NoError(t, err)
	require.NotNil(t, b.dep)

	require.NoError(t, scope.Close())
	assert.Equal(t, []string{"dependent", "dependency"}, rec.recorded())
}

func TestScopeClose_ContextDisposablePreferred(t *testing.T) {
	rec := &disposeRecorder{}

	provider := buildProvider(t, []*ServiceDescriptor{
		trackedDescriptor(Scoped, func() *bothDisposals {
			return &bothDisposals{rec: rec}
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	_, err = Resolve[*bothDisposals](ctx, scope)
	require.NoError(t, err)

	require.NoError(t, scope.Close())
	assert.Equal(t, []string{"context"}, rec.recorded())
}

func TestScopeClose_ErrorsCollectedWithoutSkipping(t *testing.T) {
	rec := &disposeRecorder{}
	boomA := errors.New("a failed")
	boomC := errors.New("c failed")

	provider := buildProvider(t, []*ServiceDescriptor{
		trackedDescriptor(Scoped, func() *resourceA {
			return &resourceA{trackedResource{name: "a", rec: rec, failWith: boomA}}
		}),
		trackedDescriptor(Scoped, func() *resourceB {
			return &resourceB{trackedResource: trackedResource{name: "b", rec: rec}}
		}),
		trackedDescriptor(Scoped, func() *resourceC {
			return &resourceC{trackedResource{name: "c", rec: rec, failWith: boomC}}
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	_, err = Resolve[*resourceA](ctx, scope)
	require.NoError(t, err)
	_, err = Resolve[*resourceB](ctx, scope)
	require.NoError(t, err)
	_, err = Resolve[*resourceC](ctx, scope)
	require.NoError(t, err)

	err = scope.Close()
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrDisposeFailed(nil))
	assert.ErrorIs(t, err, boomA)
	assert.ErrorIs(t, err, boomC)

	// A failing teardown never skips the remaining ones.
	assert.Equal(t, []string{"c", "b", "a"}, rec.recorded())
}

func TestScopeClose_Twice(t *testing.T) {
	provider := buildProvider(t, nil)

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	require.NoError(t, scope.Close())
	assert.ErrorIs(t, scope.Close(), ErrScopeEnded)
}

func TestScope_ResolveAfterClose(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Scoped, newTestConn),
	})

	scope, err := provider.CreateScope()
	require.NoError(t, err)
	require.NoError(t, scope.Close())

	_, err = Resolve[*testConn](context.Background(), scope)
	assert.ErrorIs(t, err, ErrScopeEnded)
}

func TestScopeClose_TransientsCaptured(t *testing.T) {
	rec := &disposeRecorder{}
	serial := 0

	provider := buildProvider(t, []*ServiceDescriptor{
		DescribeFactory[*resourceA](Transient, func(ctx context.Context, r Resolver) (any, error) {
			serial++
			return &resourceA{trackedResource{name: string(rune('0' + serial)), rec: rec}}, nil
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	first, err := Resolve[*resourceA](ctx, scope)
	require.NoError(t, err)
	second, err := Resolve[*resourceA](ctx, scope)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	require.NoError(t, scope.Close())
	assert.Equal(t, []string{"2", "1"}, rec.recorded())
}

func TestCleanupFactory_RunsOnScopeClose(t *testing.T) {
	rec := &disposeRecorder{}

	provider := buildProvider(t, []*ServiceDescriptor{
		DescribeFactory[*testConn](Scoped, func(ctx context.Context, r Resolver) (any, func(context.Context) error, error) {
			conn := newTestConn()
			cleanup := func(context.Context) error {
				rec.record("cleanup")
				return nil
			}

			return conn, cleanup, nil
		}),
	})
	ctx := context.Background()

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	_, err = Resolve[*testConn](ctx, scope)
	require.NoError(t, err)
	_, err = Resolve[*testConn](ctx, scope)
	require.NoError(t, err)

	assert.Empty(t, rec.recorded())
	require.NoError(t, scope.Close())
	assert.Equal(t, []string{"cleanup"}, rec.recorded())
}

func TestCleanupFactory_NilCleanupAllowed(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		DescribeFactory[*testConn](Scoped, func(ctx context.Context, r Resolver) (any, func(context.Context) error, error) {
			return newTestConn(), nil, nil
		}),
	})

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	_, err = Resolve[*testConn](context.Background(), scope)
	require.NoError(t, err)
	assert.NoError(t, scope.Close())
}

func TestProviderClose_DisposesSingletonsInReverse(t *testing.T) {
	rec := &disposeRecorder{}

	provider, err := NewServiceProvider([]*ServiceDescriptor{
		trackedDescriptor(Singleton, func() *resourceA {
			return &resourceA{trackedResource{name: "a", rec: rec}}
		}),
		trackedDescriptor(Singleton, func() *resourceC {
			return &resourceC{trackedResource{name: "c", rec: rec}}
		}),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = Resolve[*resourceA](ctx, provider)
	require.NoError(t, err)
	_, err = Resolve[*resourceC](ctx, provider)
	require.NoError(t, err)

	require.NoError(t, provider.Close())
	assert.Equal(t, []string{"c", "a"}, rec.recorded())
}

func TestProviderClose_SingletonCleanupRuns(t *testing.T) {
	rec := &disposeRecorder{}

	provider, err := NewServiceProvider([]*ServiceDescriptor{
		DescribeFactory[*testConn](Singleton, func(ctx context.Context, r Resolver) (any, func(context.Context) error, error) {
			return newTestConn(), func(context.Context) error {
				rec.record("singleton-cleanup")
				return nil
			}, nil
		}),
	})
	require.NoError(t, err)

	scope, err := provider.CreateScope()
	require.NoError(t, err)

	// Resolved through a scope, but owned by the root: the scope's close must
	// not run the cleanup.
	_, err = Resolve[*testConn](context.Background(), scope)
	require.NoError(t, err)
	require.NoError(t, scope.Close())
	assert.Empty(t, rec.recorded())

	require.NoError(t, provider.Close())
	assert.Equal(t, []string{"singleton-cleanup"}, rec.recorded())
}

func TestProviderClose_InstancesNeverDisposed(t *testing.T) {
	rec := &disposeRecorder{}
	instance := &resourceA{trackedResource{name: "instance", rec: rec}}

	provider, err := NewServiceProvider([]*ServiceDescriptor{
		DescribeInstance[*resourceA](instance),
	})
	require.NoError(t, err)

	got, err := Resolve[*resourceA](context.Background(), provider)
	require.NoError(t, err)
	assert.Same(t, instance, got)

	require.NoError(t, provider.Close())
	assert.Empty(t, rec.recorded())
}
