package keel

import (
	"context"
	"fmt"
	"reflect"
)

// Factory constructs a service instance. The resolver is the ambient scope
// the service is being resolved in; factories may block on the context, e.g.
// while acquiring an asynchronous resource.
type Factory func(ctx context.Context, r Resolver) (any, error)

// KeyedFactory constructs a keyed service instance. It receives the key under
// which the service was requested, which for AnyKey registrations is the
// originally requested key.
type KeyedFactory func(ctx context.Context, r Resolver, key any) (any, error)

// CleanupFactory constructs a service instance together with a teardown
// function. The teardown is pushed onto the disposal stack of the cache that
// owns the instance and invoked exactly once when that cache is torn down.
// A nil teardown is allowed.
type CleanupFactory func(ctx context.Context, r Resolver) (any, func(context.Context) error, error)

// DependencyMode controls how a declared dependency is looked up.
type DependencyMode uint8

const (
	// DepUnkeyed looks the dependency up by type with no key.
	DepUnkeyed DependencyMode = iota

	// DepKeyed looks the dependency up under an explicit key.
	DepKeyed

	// DepInheritKey propagates the enclosing call site's key to the lookup,
	// letting keyed registrations cascade through a dependency chain.
	DepInheritKey

	// DepServiceKey injects the key under which the enclosing branch was
	// resolved instead of resolving a service. The value is nil when the
	// branch is unkeyed.
	DepServiceKey
)

// Dependency is the per-parameter metadata attached to a constructor
// descriptor. Type is the declared parameter type; Mode and Key control the
// lookup.
type Dependency struct {
	Type reflect.Type
	Mode DependencyMode
	Key  ServiceKey
}

// Dep declares an unkeyed dependency on T.
func Dep[T any]() Dependency {
	return Dependency{Type: TypeOf[T]()}
}

// KeyedDep declares a dependency on T registered under the given key.
func KeyedDep[T any](key any) Dependency {
	return Dependency{Type: TypeOf[T](), Mode: DepKeyed, Key: KeyOf(key)}
}

// InheritKeyDep declares a dependency on T that inherits the enclosing
// service's key.
func InheritKeyDep[T any]() Dependency {
	return Dependency{Type: TypeOf[T](), Mode: DepInheritKey}
}

// ServiceKeyDep declares a parameter that receives the enclosing service's
// key value.
func ServiceKeyDep[T any]() Dependency {
	return Dependency{Type: TypeOf[T](), Mode: DepServiceKey}
}

// ServiceDescriptor is one registration record: a service type plus optional
// key mapped to an implementation strategy and a lifetime. Descriptors are
// immutable once the provider is built.
type ServiceDescriptor struct {
	serviceType reflect.Type
	key         ServiceKey
	lifetime    Lifetime

	constructor    *constructorInfo
	factory        Factory
	keyedFactory   KeyedFactory
	cleanupFactory CleanupFactory
	instance       any
	hasInstance    bool

	autoActivate bool
}

// DescriptorOption configures a descriptor at construction.
type DescriptorOption func(*ServiceDescriptor)

// WithKey registers the descriptor under an explicit key.
func WithKey(key any) DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.key = KeyOf(key)
	}
}

// WithAnyKey registers the descriptor under the wildcard key so it serves any
// explicitly keyed request for its service type.
func WithAnyKey() DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.key = AnyKey
	}
}

// WithAutoActivate marks the descriptor for eager construction during the
// provider build, so construction failures surface at build time instead of
// on first use.
func WithAutoActivate() DescriptorOption {
	return func(d *ServiceDescriptor) {
		d.autoActivate = true
	}
}

// WithDependencies overrides the dependency list derived from the constructor
// signature. The list must match the constructor parameters positionally.
func WithDependencies(deps ...Dependency) DescriptorOption {
	return func(d *ServiceDescriptor) {
		if d.constructor != nil {
			d.constructor.overrides = deps
		}
	}
}

// NewConstructorDescriptor creates a descriptor whose implementation is a
// constructor function with the signature func(deps...) T or
// func(deps...) (T, error). Dependencies are derived from the parameter types
// once, at registration; WithDependencies refines them with key metadata.
func NewConstructorDescriptor(serviceType reflect.Type, lifetime Lifetime, constructor any, opts ...DescriptorOption) (*ServiceDescriptor, error) {
	info, err := analyzeConstructor(constructor)
	if err != nil {
		return nil, err
	}

	if !info.implType.AssignableTo(serviceType) {
		return nil, ErrInvalidDescriptor(fmt.Sprintf("constructor returns %s, not assignable to service type %s", info.implType, serviceType))
	}

	d := &ServiceDescriptor{
		serviceType: serviceType,
		lifetime:    lifetime,
		constructor: info,
	}
	applyDescriptorOptions(d, opts)

	if err := info.checkOverrides(); err != nil {
		return nil, err
	}

	return d, nil
}

// NewFactoryDescriptor creates a descriptor whose implementation is a factory
// callable: a Factory, a KeyedFactory, or a CleanupFactory.
func NewFactoryDescriptor(serviceType reflect.Type, lifetime Lifetime, factory any, opts ...DescriptorOption) (*ServiceDescriptor, error) {
	d := &ServiceDescriptor{
		serviceType: serviceType,
		lifetime:    lifetime,
	}

	switch f := factory.(type) {
	case Factory:
		d.factory = f
	case func(ctx context.Context, r Resolver) (any, error):
		d.factory = f
	case KeyedFactory:
		d.keyedFactory = f
	case func(ctx context.Context, r Resolver, key any) (any, error):
		d.keyedFactory = f
	case CleanupFactory:
		d.cleanupFactory = f
	case func(ctx context.Context, r Resolver) (any, func(context.Context) error, error):
		d.cleanupFactory = f
	case nil:
		return nil, ErrInvalidDescriptor("factory cannot be nil")
	default:
		return nil, ErrInvalidDescriptor(fmt.Sprintf("unsupported factory signature %T", factory))
	}

	applyDescriptorOptions(d, opts)

	return d, nil
}

// NewInstanceDescriptor creates a descriptor for a pre-built instance. The
// instance is always singleton-like: it is never re-created, never cached per
// scope, and never disposed by the engine.
func NewInstanceDescriptor(serviceType reflect.Type, instance any, opts ...DescriptorOption) (*ServiceDescriptor, error) {
	if instance != nil && !reflect.TypeOf(instance).AssignableTo(serviceType) {
		return nil, ErrInvalidDescriptor(fmt.Sprintf("instance of type %T is not assignable to service type %s", instance, serviceType))
	}

	d := &ServiceDescriptor{
		serviceType: serviceType,
		lifetime:    Singleton,
		instance:    instance,
		hasInstance: true,
	}
	applyDescriptorOptions(d, opts)

	return d, nil
}

func applyDescriptorOptions(d *ServiceDescriptor, opts []DescriptorOption) {
	for _, opt := range opts {
		opt(d)
	}
}

// ServiceType returns the registered service type.
func (d *ServiceDescriptor) ServiceType() reflect.Type {
	return d.serviceType
}

// Key returns the registration key.
func (d *ServiceDescriptor) Key() ServiceKey {
	return d.key
}

// Lifetime returns the registered lifetime.
func (d *ServiceDescriptor) Lifetime() Lifetime {
	return d.lifetime
}

// AutoActivate reports whether the descriptor is eagerly constructed at
// build.
func (d *ServiceDescriptor) AutoActivate() bool {
	return d.autoActivate
}

// String returns a diagnostic representation of the descriptor.
func (d *ServiceDescriptor) String() string {
	return fmt.Sprintf("%s (%s)", identifierOf(d.serviceType, d.key), d.lifetime)
}

func (d *ServiceDescriptor) identifier() serviceIdentifier {
	return identifierOf(d.serviceType, d.key)
}

// =============================================================================
// GENERIC SUGAR
// =============================================================================

// Describe builds a constructor descriptor for service type T, panicking on a
// malformed registration. Use the New*Descriptor functions when registrations
// come from untrusted input.
func Describe[T any](lifetime Lifetime, constructor any, opts ...DescriptorOption) *ServiceDescriptor {
	d, err := NewConstructorDescriptor(TypeOf[T](), lifetime, constructor, opts...)
	if err != nil {
		panic(fmt.Sprintf("keel: describe %s: %v", TypeOf[T](), err))
	}

	return d
}

// DescribeFactory builds a factory descriptor for service type T, panicking
// on a malformed registration.
func DescribeFactory[T any](lifetime Lifetime, factory any, opts ...DescriptorOption) *ServiceDescriptor {
	d, err := NewFactoryDescriptor(TypeOf[T](), lifetime, factory, opts...)
	if err != nil {
		panic(fmt.Sprintf("keel: describe factory %s: %v", TypeOf[T](), err))
	}

	return d
}

// DescribeInstance builds an instance descriptor for service type T.
func DescribeInstance[T any](instance T, opts ...DescriptorOption) *ServiceDescriptor {
	d, err := NewInstanceDescriptor(TypeOf[T](), instance, opts...)
	if err != nil {
		panic(fmt.Sprintf("keel: describe instance %s: %v", TypeOf[T](), err))
	}

	return d
}
