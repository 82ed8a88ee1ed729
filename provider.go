package keel

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"

	"github.com/xraph/go-utils/log"
)

// Resolver is the resolution surface shared by the root provider and scopes.
// Factories and constructors receive the ambient Resolver they are being
// resolved in, so a singleton's dependencies come from the root and a scoped
// service's from its scope.
type Resolver interface {
	Resolve(ctx context.Context, serviceType reflect.Type) (any, error)
	ResolveKeyed(ctx context.Context, serviceType reflect.Type, key any) (any, error)
	ResolveAll(ctx context.Context, serviceType reflect.Type) ([]any, error)
	ResolveAllKeyed(ctx context.Context, serviceType reflect.Type, key ServiceKey) ([]any, error)
}

// ScopeFactory creates scopes. It is registered as an ambient service so
// singletons can open scopes on demand without holding the root provider.
type ScopeFactory interface {
	CreateScope() (*Scope, error)
}

// Options configures a provider build.
type Options struct {
	// ValidateScopes enables scope misuse detection: singletons that consume
	// scoped services fail, and scoped services cannot be resolved from the
	// root provider.
	ValidateScopes bool

	// ValidateOnBuild compiles every registration during the build and
	// reports all faults together, instead of surfacing them one by one on
	// first resolution.
	ValidateOnBuild bool

	// Logger receives provider lifecycle events. Defaults to a no-op logger.
	Logger log.Logger

	// Observers are notified around every top-level resolution.
	Observers []Observer
}

// Option mutates build options.
type Option func(*Options)

// WithValidateScopes enables scope misuse detection.
func WithValidateScopes() Option {
	return func(o *Options) { o.ValidateScopes = true }
}

// WithValidateOnBuild enables eager compilation of every registration at
// build time.
func WithValidateOnBuild() Option {
	return func(o *Options) { o.ValidateOnBuild = true }
}

// WithLogger sets the provider logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithObserver appends a resolution observer.
func WithObserver(observer Observer) Option {
	return func(o *Options) { o.Observers = append(o.Observers, observer) }
}

// ServiceProvider is the root of a built service graph: it owns the compiled
// call sites, the singleton cache, and the provider-level disposal stack, and
// it hands out scopes. A provider is immutable after build and safe for
// concurrent use.
type ServiceProvider struct {
	registry  *descriptorRegistry
	callSites *callSiteFactory
	validator *callSiteValidator
	observers []Observer
	logger    log.Logger

	root     *Scope
	disposed atomic.Bool
}

// NewServiceProvider builds a provider from an ordered descriptor list. The
// descriptor order is the registration order: it decides last-wins lookup,
// enumeration order, and auto-activation order.
func NewServiceProvider(descriptors []*ServiceDescriptor, opts ...Option) (*ServiceProvider, error) {
	options := Options{Logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = log.NewNoopLogger()
	}

	for _, d := range descriptors {
		if d == nil {
			return nil, ErrInvalidDescriptor("descriptor list contains nil")
		}
	}

	registry := newDescriptorRegistry(descriptors)

	p := &ServiceProvider{
		registry:  registry,
		callSites: newCallSiteFactory(registry),
		observers: options.Observers,
		logger:    options.Logger,
	}
	p.root = newScope(p, true)

	if options.ValidateScopes {
		p.validator = newCallSiteValidator()
	}

	resolverType := TypeOf[Resolver]()
	scopeFactoryType := TypeOf[ScopeFactory]()
	p.callSites.add(identifierOf(resolverType, NoKey), newProviderCallSite(resolverType))
	p.callSites.add(identifierOf(scopeFactoryType, NoKey), newScopeFactoryCallSite(scopeFactoryType))

	if options.ValidateOnBuild {
		if err := p.validateDescriptors(); err != nil {
			return nil, err
		}
	}

	if err := p.autoActivate(); err != nil {
		return nil, err
	}

	p.logger.Debug("service provider built",
		log.Int64("descriptors", int64(len(descriptors))),
		log.Bool("validate_scopes", options.ValidateScopes),
		log.Bool("validate_on_build", options.ValidateOnBuild),
	)

	return p, nil
}

// validateDescriptors compiles every registration, including shadowed ones,
// and aggregates every fault found so a single build reports the complete
// picture.
func (p *ServiceProvider) validateDescriptors() error {
	var faults []error

	for _, d := range p.registry.all() {
		cs, err := p.callSites.callSiteForDescriptor(d, newCallSiteChain())
		if err != nil {
			faults = append(faults, NewServiceError(d.identifier(), err))
			continue
		}

		if cs != nil && p.validator != nil {
			if err := p.validator.validateCallSite(cs); err != nil {
				faults = append(faults, err)
			}
		}
	}

	if len(faults) > 0 {
		return ErrBuildFailed(errors.Join(faults...))
	}

	return nil
}

// autoActivate eagerly constructs every descriptor marked for activation, in
// registration order, so construction failures surface at build time.
func (p *ServiceProvider) autoActivate() error {
	ctx := context.Background()

	var faults []error

	for _, d := range p.registry.all() {
		if !d.autoActivate {
			continue
		}

		if _, err := p.resolveIdentifier(ctx, d.identifier(), p.root); err != nil {
			faults = append(faults, err)
		}
	}

	if len(faults) > 0 {
		return ErrBuildFailed(errors.Join(faults...))
	}

	return nil
}

// Resolve returns the last-registered service for the given type from the
// root provider.
func (p *ServiceProvider) Resolve(ctx context.Context, serviceType reflect.Type) (any, error) {
	return p.root.Resolve(ctx, serviceType)
}

// ResolveKeyed returns the last-registered service for the given type and key
// from the root provider.
func (p *ServiceProvider) ResolveKeyed(ctx context.Context, serviceType reflect.Type, key any) (any, error) {
	return p.root.ResolveKeyed(ctx, serviceType, key)
}

// ResolveAll returns every registration of the given type, in registration
// order.
func (p *ServiceProvider) ResolveAll(ctx context.Context, serviceType reflect.Type) ([]any, error) {
	return p.root.ResolveAll(ctx, serviceType)
}

// ResolveAllKeyed returns every registration of the given type under the
// given key, in registration order.
func (p *ServiceProvider) ResolveAllKeyed(ctx context.Context, serviceType reflect.Type, key ServiceKey) ([]any, error) {
	return p.root.ResolveAllKeyed(ctx, serviceType, key)
}

// CreateScope opens a new scope. Scoped services resolved through it are
// cached for its lifetime and torn down when it closes; the caller owns the
// scope and must close it.
func (p *ServiceProvider) CreateScope() (*Scope, error) {
	if p.disposed.Load() {
		return nil, ErrProviderDisposed
	}

	return newScope(p, false), nil
}

// IsService reports whether the given type resolves to something without
// constructing it. Slice types always resolve, possibly to an empty sequence.
func (p *ServiceProvider) IsService(serviceType reflect.Type) bool {
	return p.isResolvable(identifierOf(serviceType, NoKey))
}

// IsKeyedService reports whether the given type and key resolve to something,
// through an exact registration or a wildcard one.
func (p *ServiceProvider) IsKeyedService(serviceType reflect.Type, key any) bool {
	return p.isResolvable(identifierOf(serviceType, KeyOf(key)))
}

func (p *ServiceProvider) isResolvable(id serviceIdentifier) bool {
	if p.callSites.isService(id) {
		return true
	}

	return id.serviceType.Kind() == reflect.Slice && !id.key.IsAny()
}

// Descriptors returns a copy of the registration list in registration order.
func (p *ServiceProvider) Descriptors() []*ServiceDescriptor {
	all := p.registry.all()
	out := make([]*ServiceDescriptor, len(all))
	copy(out, all)

	return out
}

// Close disposes the provider: every singleton and root-captured disposable
// unwinds in reverse construction order. Closing twice is a no-op.
func (p *ServiceProvider) Close() error {
	return p.CloseContext(context.Background())
}

// CloseContext disposes the provider with a context for blocking teardowns.
func (p *ServiceProvider) CloseContext(ctx context.Context) error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}

	p.logger.Debug("service provider closing")

	return p.root.CloseContext(ctx)
}

// resolveIdentifier is the single entry point for plain resolution: it
// compiles (or fetches) the call site, applies scope validation, notifies
// observers, and executes the plan against the requesting scope.
func (p *ServiceProvider) resolveIdentifier(ctx context.Context, id serviceIdentifier, scope *Scope) (any, error) {
	if p.disposed.Load() {
		return nil, ErrProviderDisposed
	}

	if scope.isEnded() {
		return nil, ErrScopeEnded
	}

	finish := p.observeStart(ctx, id)

	value, err := p.resolveCompiled(ctx, id, scope)

	finish(value, err)

	return value, err
}

func (p *ServiceProvider) resolveCompiled(ctx context.Context, id serviceIdentifier, scope *Scope) (any, error) {
	cs, err := p.callSites.callSiteFor(id, newCallSiteChain())
	if err != nil {
		return nil, err
	}

	if cs == nil {
		return nil, ErrCannotResolveService(id, "")
	}

	if p.validator != nil {
		if err := p.validator.validateCallSite(cs); err != nil {
			return nil, err
		}

		if err := p.validator.validateResolution(cs, scope, p.root); err != nil {
			return nil, err
		}
	}

	return scope.resolveCallSite(ctx, cs)
}

// resolveAllIdentifier resolves the enumerable form of a service type by
// compiling its slice identifier.
func (p *ServiceProvider) resolveAllIdentifier(ctx context.Context, serviceType reflect.Type, key ServiceKey, scope *Scope) ([]any, error) {
	id := identifierOf(reflect.SliceOf(serviceType), key)

	value, err := p.resolveIdentifier(ctx, id, scope)
	if err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(value)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, nil
}

func (s *Scope) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ended
}
