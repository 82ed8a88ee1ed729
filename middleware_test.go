package keel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/go-utils/log"
)

type recordingObserver struct {
	mu     sync.Mutex
	before []string
	after  []string
	errs   []error
}

func (o *recordingObserver) BeforeResolve(ctx context.Context, serviceType string, key ServiceKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.before = append(o.before, serviceType)
}

func (o *recordingObserver) AfterResolve(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.after = append(o.after, serviceType)
	o.errs = append(o.errs, err)
}

func TestObserver_SeesSuccessfulResolution(t *testing.T) {
	obs := &recordingObserver{}

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
	}, WithObserver(obs))

	_, err := Resolve[*testConn](context.Background(), provider)
	require.NoError(t, err)

	assert.Equal(t, []string{"*keel.testConn"}, obs.before)
	assert.Equal(t, []string{"*keel.testConn"}, obs.after)
	require.Len(t, obs.errs, 1)
	assert.NoError(t, obs.errs[0])
}

func TestObserver_SeesFailedResolution(t *testing.T) {
	obs := &recordingObserver{}

	provider := buildProvider(t, nil, WithObserver(obs))

	_, err := Resolve[*testConn](context.Background(), provider)
	require.Error(t, err)

	require.Len(t, obs.errs, 1)
	assert.ErrorIs(t, obs.errs[0], ErrCannotResolveSentinel)
}

func TestObserver_TopLevelOnly(t *testing.T) {
	obs := &recordingObserver{}

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
		Describe[*testRepo](Singleton, newTestRepo),
	}, WithObserver(obs))

	_, err := Resolve[*testRepo](context.Background(), provider)
	require.NoError(t, err)

	// The nested conn resolution happens inside the repo's plan and is not
	// reported separately.
	assert.Equal(t, []string{"*keel.testRepo"}, obs.before)
}

func TestObserver_MultipleObserversAllNotified(t *testing.T) {
	first := &recordingObserver{}
	second := &recordingObserver{}

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
	}, WithObserver(first), WithObserver(second))

	_, err := Resolve[*testConn](context.Background(), provider)
	require.NoError(t, err)

	assert.Len(t, first.after, 1)
	assert.Len(t, second.after, 1)
}

func TestFuncObserver_NilHooksSafe(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
	}, WithObserver(&FuncObserver{}))

	_, err := Resolve[*testConn](context.Background(), provider)
	assert.NoError(t, err)
}

func TestFuncObserver_HooksCalled(t *testing.T) {
	var called bool

	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
	}, WithObserver(&FuncObserver{
		OnAfterResolve: func(ctx context.Context, serviceType string, key ServiceKey, service any, err error, elapsed time.Duration) {
			called = true
		},
	}))

	_, err := Resolve[*testConn](context.Background(), provider)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestLoggingObserver_DoesNotInterfere(t *testing.T) {
	provider := buildProvider(t, []*ServiceDescriptor{
		Describe[*testConn](Singleton, newTestConn),
	}, WithObserver(NewLoggingObserver(log.NewNoopLogger())), WithLogger(log.NewNoopLogger()))

	got, err := Resolve[*testConn](context.Background(), provider)
	require.NoError(t, err)
	assert.NotNil(t, got)

	_, err = Resolve[*testRepo](context.Background(), provider)
	assert.Error(t, err)
}

func TestNewLoggingObserver_NilLoggerDefaultsToNoop(t *testing.T) {
	obs := NewLoggingObserver(nil)
	require.NotNil(t, obs)

	obs.BeforeResolve(context.Background(), "svc", NoKey)
	obs.AfterResolve(context.Background(), "svc", NoKey, nil, nil, 0)
}
