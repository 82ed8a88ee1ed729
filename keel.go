// Package keel is a service resolution engine. Registrations are immutable
// ServiceDescriptor values mapping a service type, and optionally a key, to a
// constructor, factory, or pre-built instance under a lifetime. A built
// ServiceProvider compiles registrations into cached call-site plans, detects
// dependency cycles and scope misuse, constructs singletons at most once
// under concurrency, and tears down what it created in reverse construction
// order.
//
// The raw API is reflect.Type based; the generic helpers in this file are the
// typed surface most callers want:
//
//	provider, err := keel.NewServiceProvider([]*keel.ServiceDescriptor{
//		keel.Describe[Database](keel.Singleton, NewPostgres),
//		keel.Describe[UserService](keel.Scoped, NewUserService),
//	}, keel.WithValidateScopes())
//
//	scope, err := provider.CreateScope()
//	defer scope.Close()
//	users, err := keel.Resolve[UserService](ctx, scope)
package keel

import (
	"context"
	"fmt"
)

// Resolve resolves the last-registered service of type T.
func Resolve[T any](ctx context.Context, r Resolver) (T, error) {
	raw, err := r.Resolve(ctx, TypeOf[T]())
	if err != nil {
		var zero T
		return zero, err
	}

	return assertAs[T](raw)
}

// ResolveKeyed resolves the last-registered service of type T under the given
// key.
func ResolveKeyed[T any](ctx context.Context, r Resolver, key any) (T, error) {
	raw, err := r.ResolveKeyed(ctx, TypeOf[T](), key)
	if err != nil {
		var zero T
		return zero, err
	}

	return assertAs[T](raw)
}

// ResolveAll resolves every registration of type T, in registration order.
func ResolveAll[T any](ctx context.Context, r Resolver) ([]T, error) {
	return collect[T](r.ResolveAll(ctx, TypeOf[T]()))
}

// ResolveAllKeyed resolves every registration of type T under the given key,
// in registration order. Passing AnyKey enumerates all keyed registrations.
func ResolveAllKeyed[T any](ctx context.Context, r Resolver, key ServiceKey) ([]T, error) {
	return collect[T](r.ResolveAllKeyed(ctx, TypeOf[T](), key))
}

// MustResolve resolves T and panics on failure. Intended for program startup
// paths where a missing service is unrecoverable.
func MustResolve[T any](ctx context.Context, r Resolver) T {
	value, err := Resolve[T](ctx, r)
	if err != nil {
		panic(fmt.Sprintf("keel: resolve %s: %v", TypeOf[T](), err))
	}

	return value
}

func collect[T any](raw []any, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}

	out := make([]T, len(raw))
	for i, item := range raw {
		value, err := assertAs[T](item)
		if err != nil {
			return nil, err
		}

		out[i] = value
	}

	return out, nil
}

func assertAs[T any](raw any) (T, error) {
	if raw == nil {
		var zero T
		return zero, nil
	}

	value, ok := raw.(T)
	if !ok {
		var zero T
		return zero, ErrTypeMismatch(TypeOf[T](), raw)
	}

	return value, nil
}
