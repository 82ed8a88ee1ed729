package keel

import (
	"context"
	"reflect"
)

// resolveCallSite produces an instance from a compiled call site against this
// scope, routing to the cache that owns the result: singletons realize in the
// root scope, scoped services in this scope, disposable transients are built
// fresh and captured here, and everything else is built without bookkeeping.
func (s *Scope) resolveCallSite(ctx context.Context, cs *callSite) (any, error) {
	switch cs.cache.location {
	case locationRoot:
		return s.provider.root.realize(ctx, cs)
	case locationScope:
		return s.realize(ctx, cs)
	case locationDispose:
		value, managed, err := s.instantiate(ctx, cs)
		if err != nil {
			return nil, err
		}

		if !managed {
			if err := s.captureDisposable(cs, value); err != nil {
				return nil, err
			}
		}

		return value, nil
	default:
		value, _, err := s.instantiate(ctx, cs)
		return value, err
	}
}

// instantiate executes one call site. The managed result reports whether
// teardown bookkeeping is already settled for the value, so callers know not
// to capture it again.
func (s *Scope) instantiate(ctx context.Context, cs *callSite) (value any, managed bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	switch cs.kind {
	case kindConstructor:
		value, err = s.invokeConstructor(ctx, cs)
		return value, false, err

	case kindFactory:
		value, managed, err = s.invokeFactory(ctx, cs)
		if err != nil {
			return nil, false, NewServiceError(cs.cache.key.id, err)
		}

		return value, managed, nil

	case kindInstance, kindServiceKey:
		return cs.value, true, nil

	case kindSequence:
		value, err = s.buildSequence(ctx, cs)
		return value, true, err

	case kindProvider:
		return Resolver(s), true, nil

	case kindScopeFactory:
		return ScopeFactory(s.provider), true, nil

	default:
		return nil, false, ErrInvalidDescriptor("unknown call site kind")
	}
}

func (s *Scope) invokeConstructor(ctx context.Context, cs *callSite) (any, error) {
	resolved := make([]any, len(cs.parameters))

	for i, parameter := range cs.parameters {
		value, err := s.resolveCallSite(ctx, parameter)
		if err != nil {
			return nil, err
		}

		resolved[i] = value
	}

	args := make([]reflect.Value, len(resolved))
	for i, value := range resolved {
		args[i] = cs.ctor.argumentValue(i, value)
	}

	value, err := cs.ctor.invoke(args)
	if err != nil {
		return nil, NewServiceError(cs.cache.key.id, err)
	}

	return value, nil
}

func (s *Scope) invokeFactory(ctx context.Context, cs *callSite) (any, bool, error) {
	switch {
	case cs.factory != nil:
		value, err := cs.factory(ctx, s)
		return value, false, err

	case cs.keyedFactory != nil:
		value, err := cs.keyedFactory(ctx, s, cs.key.Value())
		return value, false, err

	default:
		value, cleanup, err := cs.cleanupFactory(ctx, s)
		if err != nil {
			return nil, false, err
		}

		// The cleanup owns the value's teardown; register it on the scope
		// that owns the cache so it unwinds with the scope.
		if err := s.pushCleanup(cs, cleanup); err != nil {
			return nil, false, err
		}

		return value, true, nil
	}
}

// buildSequence materializes an enumerable resolution: one element per
// matching registration, in registration order, each obeying its own
// lifetime.
func (s *Scope) buildSequence(ctx context.Context, cs *callSite) (any, error) {
	slice := reflect.MakeSlice(cs.serviceType, len(cs.items), len(cs.items))

	for i, item := range cs.items {
		value, err := s.resolveCallSite(ctx, item)
		if err != nil {
			return nil, err
		}

		if value != nil {
			slice.Index(i).Set(reflect.ValueOf(value))
		}
	}

	return slice.Interface(), nil
}
