package keel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// Disposable is implemented by services that own resources requiring
// synchronous teardown.
type Disposable interface {
	Dispose() error
}

// ContextDisposable is implemented by services whose teardown may block, e.g.
// draining connections. When a service implements both interfaces only
// DisposeContext is called.
type ContextDisposable interface {
	DisposeContext(ctx context.Context) error
}

// inflight tracks one in-progress construction. Concurrent requests for the
// same cache key wait on done instead of racing to construct duplicates.
type inflight struct {
	done  chan struct{}
	value any
	err   error
}

// disposalEntry is one registered teardown on a scope's disposal stack.
type disposalEntry struct {
	name    string
	dispose func(ctx context.Context) error
}

// Scope is a bounded resolution context: it caches scoped instances, tracks
// the disposables constructed within it, and tears them down in reverse
// construction order when closed. One scope models one logical unit of work,
// e.g. one request. The root provider uses a scope internally as the
// singleton cache and provider-level disposal stack.
type Scope struct {
	provider *ServiceProvider
	isRoot   bool

	mu          sync.Mutex
	resolved    map[serviceCacheKey]any
	inflight    map[serviceCacheKey]*inflight
	disposables []disposalEntry
	ended       bool
}

func newScope(provider *ServiceProvider, isRoot bool) *Scope {
	return &Scope{
		provider: provider,
		isRoot:   isRoot,
		resolved: make(map[serviceCacheKey]any),
		inflight: make(map[serviceCacheKey]*inflight),
	}
}

// Provider returns the root provider this scope belongs to.
func (s *Scope) Provider() *ServiceProvider {
	return s.provider
}

// Resolve returns the last-registered service for the given type.
func (s *Scope) Resolve(ctx context.Context, serviceType reflect.Type) (any, error) {
	return s.provider.resolveIdentifier(ctx, identifierOf(serviceType, NoKey), s)
}

// ResolveKeyed returns the last-registered service for the given type and
// key.
func (s *Scope) ResolveKeyed(ctx context.Context, serviceType reflect.Type, key any) (any, error) {
	return s.provider.resolveIdentifier(ctx, identifierOf(serviceType, KeyOf(key)), s)
}

// ResolveAll returns every registration of the given type in registration
// order, each instance obeying its own lifetime.
func (s *Scope) ResolveAll(ctx context.Context, serviceType reflect.Type) ([]any, error) {
	return s.provider.resolveAllIdentifier(ctx, serviceType, NoKey, s)
}

// ResolveAllKeyed returns every registration of the given type under the
// given key, in registration order. Passing AnyKey enumerates all keyed
// registrations.
func (s *Scope) ResolveAllKeyed(ctx context.Context, serviceType reflect.Type, key ServiceKey) ([]any, error) {
	return s.provider.resolveAllIdentifier(ctx, serviceType, key, s)
}

// Close tears the scope down synchronously.
func (s *Scope) Close() error {
	return s.CloseContext(context.Background())
}

// CloseContext tears the scope down, unwinding the disposal stack in reverse
// construction order so dependents are torn down before the dependencies
// they used. Teardown errors are collected, not raised eagerly, so a failure
// in one disposal never skips the rest; all are surfaced together. Closing an
// already-closed scope returns ErrScopeEnded.
func (s *Scope) CloseContext(ctx context.Context) error {
	s.mu.Lock()

	if s.ended {
		s.mu.Unlock()
		return ErrScopeEnded
	}

	s.ended = true
	stack := s.disposables
	s.disposables = nil
	s.resolved = nil
	s.mu.Unlock()

	var failures []error

	for i := len(stack) - 1; i >= 0; i-- {
		if err := stack[i].dispose(ctx); err != nil {
			failures = append(failures, fmt.Errorf("dispose %s: %w", stack[i].name, err))
		}
	}

	if len(failures) > 0 {
		return ErrDisposeFailed(errors.Join(failures...))
	}

	return nil
}

// realize returns the cached instance for a call site, constructing it at
// most once. The first caller for an uncached key performs construction; any
// concurrent caller for the same key awaits that result, while different
// keys proceed independently. Failed constructions are not cached, so a
// later caller may retry.
func (s *Scope) realize(ctx context.Context, cs *callSite) (any, error) {
	key := cs.cache.key

	s.mu.Lock()

	if s.ended {
		s.mu.Unlock()
		return nil, ErrScopeEnded
	}

	if value, ok := s.resolved[key]; ok {
		s.mu.Unlock()
		return value, nil
	}

	if fl, ok := s.inflight[key]; ok {
		s.mu.Unlock()

		select {
		case <-fl.done:
			// Awaiters share the constructing caller's outcome, success or
			// failure. The failure is not cached, so a later call starts a
			// fresh attempt.
			return fl.value, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fl := &inflight{done: make(chan struct{})}
	s.inflight[key] = fl
	s.mu.Unlock()

	value, managed, err := s.instantiate(ctx, cs)

	if err == nil && !managed {
		err = s.captureDisposable(cs, value)
	}

	s.mu.Lock()
	if err == nil && !s.ended {
		s.resolved[key] = value
	}
	delete(s.inflight, key)
	s.mu.Unlock()

	if err != nil {
		fl.err = err
		close(fl.done)

		return nil, err
	}

	fl.value = value
	close(fl.done)

	return value, nil
}

// captureDisposable registers an instance's teardown on this scope's
// disposal stack, in construction order. Instances without a disposal
// contract are ignored. If the scope ended while the instance was being
// constructed, the instance is disposed immediately so nothing leaks.
func (s *Scope) captureDisposable(cs *callSite, value any) error {
	entry, ok := disposalFor(cs, value)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if !s.ended {
		s.disposables = append(s.disposables, entry)
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	if err := entry.dispose(context.Background()); err != nil {
		return ErrDisposeFailed(err)
	}

	return ErrScopeEnded
}

// pushCleanup registers a cleanup-factory teardown. Same bookkeeping as
// captureDisposable, for a bare function.
func (s *Scope) pushCleanup(cs *callSite, cleanup func(ctx context.Context) error) error {
	if cleanup == nil {
		return nil
	}

	s.mu.Lock()
	if !s.ended {
		s.disposables = append(s.disposables, disposalEntry{name: cs.serviceType.String(), dispose: cleanup})
		s.mu.Unlock()

		return nil
	}
	s.mu.Unlock()

	if err := cleanup(context.Background()); err != nil {
		return ErrDisposeFailed(err)
	}

	return ErrScopeEnded
}

func disposalFor(cs *callSite, value any) (disposalEntry, bool) {
	switch d := value.(type) {
	case ContextDisposable:
		return disposalEntry{name: cs.serviceType.String(), dispose: d.DisposeContext}, true
	case Disposable:
		return disposalEntry{
			name: cs.serviceType.String(),
			dispose: func(context.Context) error {
				return d.Dispose()
			},
		}, true
	default:
		return disposalEntry{}, false
	}
}
