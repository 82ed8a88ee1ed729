package keel

import (
	"context"
	"sync"
)

// Lazy defers resolution of T until first use, then caches the result for the
// lifetime of the Lazy. Resolution runs at most once even under concurrent
// access; a failed resolution is cached too.
type Lazy[T any] struct {
	resolver Resolver
	key      ServiceKey

	once  sync.Once
	value T
	err   error
}

// NewLazy creates a lazy handle for T bound to a resolver.
func NewLazy[T any](resolver Resolver) *Lazy[T] {
	return &Lazy[T]{resolver: resolver}
}

// NewKeyedLazy creates a lazy handle for T registered under the given key.
func NewKeyedLazy[T any](resolver Resolver, key any) *Lazy[T] {
	return &Lazy[T]{resolver: resolver, key: KeyOf(key)}
}

// Value resolves and returns the service, resolving on the first call only.
func (l *Lazy[T]) Value(ctx context.Context) (T, error) {
	l.once.Do(func() {
		var raw any
		var err error

		if l.key.IsNone() {
			raw, err = l.resolver.Resolve(ctx, TypeOf[T]())
		} else {
			raw, err = l.resolver.ResolveKeyed(ctx, TypeOf[T](), l.key.Value())
		}

		if err != nil {
			l.err = err
			return
		}

		l.value, l.err = assertAs[T](raw)
	})

	return l.value, l.err
}

// LazyDescriptor registers *Lazy[T] as a transient service bound to the
// ambient resolver, so consumers can declare a lazy dependency instead of the
// service itself and break construction-time ordering.
func LazyDescriptor[T any]() *ServiceDescriptor {
	return DescribeFactory[*Lazy[T]](Transient, func(ctx context.Context, r Resolver) (any, error) {
		return NewLazy[T](r), nil
	})
}

// ProviderFunc resolves a fresh T on every call, letting a long-lived service
// pull short-lived dependencies on demand.
type ProviderFunc[T any] func(ctx context.Context) (T, error)

// ProviderFuncDescriptor registers ProviderFunc[T] as a transient service
// bound to the ambient resolver.
func ProviderFuncDescriptor[T any]() *ServiceDescriptor {
	return DescribeFactory[ProviderFunc[T]](Transient, func(ctx context.Context, r Resolver) (any, error) {
		fn := ProviderFunc[T](func(ctx context.Context) (T, error) {
			raw, err := r.Resolve(ctx, TypeOf[T]())
			if err != nil {
				var zero T
				return zero, err
			}

			return assertAs[T](raw)
		})

		return fn, nil
	})
}
