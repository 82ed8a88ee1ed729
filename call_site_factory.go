package keel

import (
	"reflect"
	"sync"
)

const defaultSlot = 0

// callSiteFactory compiles resolution plans. Compilation is pure with
// respect to the registry and never instantiates services; results are
// memoized per (identifier, slot) so each distinct service is compiled once.
//
// Compilation of a single identifier is serialized by a per-identifier lock.
// Consider C -> D -> A and E -> D -> A resolved in parallel: C and E are
// compiled concurrently, but D and A are synchronized so both branches end up
// referencing the same cached call site, which is what lets instance caches
// key off call-site identity.
type callSiteFactory struct {
	registry *descriptorRegistry

	lockMu sync.Mutex
	locks  map[serviceIdentifier]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[serviceCacheKey]*callSite
}

func newCallSiteFactory(registry *descriptorRegistry) *callSiteFactory {
	return &callSiteFactory{
		registry: registry,
		locks:    make(map[serviceIdentifier]*sync.Mutex),
		cache:    make(map[serviceCacheKey]*callSite),
	}
}

// add installs a pre-built call site, used for the built-in ambient services.
func (f *callSiteFactory) add(id serviceIdentifier, cs *callSite) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache[serviceCacheKey{id: id, slot: defaultSlot}] = cs
}

// callSiteFor returns the compiled call site for an identifier, or nil when
// nothing is registered for it.
func (f *callSiteFactory) callSiteFor(id serviceIdentifier, chain *callSiteChain) (*callSite, error) {
	if cs, ok := f.cached(serviceCacheKey{id: id, slot: defaultSlot}); ok {
		return cs, nil
	}

	return f.createCallSite(id, chain)
}

// callSiteForDescriptor compiles the call site of one specific descriptor
// under its own slot, used by build-time validation so every registration is
// checked, not just the last-registered one.
func (f *callSiteFactory) callSiteForDescriptor(d *ServiceDescriptor, chain *callSiteChain) (*callSite, error) {
	id := d.identifier()

	chainItem, ok := f.registry.chainFor(id)
	if !ok {
		return nil, nil
	}

	return f.createExact(d, id, chain, chainItem.slotOf(d))
}

func (f *callSiteFactory) createCallSite(id serviceIdentifier, chain *callSiteChain) (*callSite, error) {
	// The cycle check must run before taking the per-identifier lock: a
	// cyclic graph would otherwise re-enter the same non-reentrant lock.
	if err := chain.checkCircularDependency(id); err != nil {
		return nil, err
	}

	if id.key.IsAny() && id.serviceType.Kind() != reflect.Slice {
		return nil, ErrAnyKeyResolution(id.serviceType)
	}

	lock := f.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cs, err := f.tryCreateExact(id, chain)
	if err != nil || cs != nil {
		return cs, err
	}

	return f.tryCreateSequence(id, chain)
}

func (f *callSiteFactory) lockFor(id serviceIdentifier) *sync.Mutex {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()

	lock, ok := f.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[id] = lock
	}

	return lock
}

func (f *callSiteFactory) cached(key serviceCacheKey) (*callSite, bool) {
	f.cacheMu.RLock()
	defer f.cacheMu.RUnlock()

	cs, ok := f.cache[key]
	return cs, ok
}

func (f *callSiteFactory) store(key serviceCacheKey, cs *callSite) {
	f.cacheMu.Lock()
	defer f.cacheMu.Unlock()
	f.cache[key] = cs
}

// tryCreateExact resolves an identifier against the registry: an exact
// (type, key) match wins; failing that, a wildcard registration of the same
// type serves any explicitly keyed request, compiled under the originally
// requested key so the implementation can specialize.
func (f *callSiteFactory) tryCreateExact(id serviceIdentifier, chain *callSiteChain) (*callSite, error) {
	if descriptors, ok := f.registry.chainFor(id); ok {
		return f.createExact(descriptors.last(), id, chain, defaultSlot)
	}

	if !id.key.IsNone() && !id.key.IsAny() {
		catchAll := identifierOf(id.serviceType, AnyKey)
		if descriptors, ok := f.registry.chainFor(catchAll); ok {
			return f.createExact(descriptors.last(), id, chain, defaultSlot)
		}
	}

	return nil, nil
}

func (f *callSiteFactory) createExact(d *ServiceDescriptor, id serviceIdentifier, chain *callSiteChain, slot int) (*callSite, error) {
	cacheKey := serviceCacheKey{id: id, slot: slot}
	if cs, ok := f.cached(cacheKey); ok {
		return cs, nil
	}

	cache := newResultCache(d.lifetime, id, slot)

	var (
		cs  *callSite
		err error
	)

	switch {
	case d.hasInstance:
		cs = newInstanceCallSite(d.serviceType, id.key, d.instance)
	case d.factory != nil:
		cs = &callSite{
			kind:        kindFactory,
			serviceType: d.serviceType,
			key:         id.key,
			cache:       cache,
			factory:     d.factory,
		}
	case d.keyedFactory != nil:
		cs = &callSite{
			kind:         kindFactory,
			serviceType:  d.serviceType,
			key:          id.key,
			cache:        cache,
			keyedFactory: d.keyedFactory,
		}
	case d.cleanupFactory != nil:
		cs = &callSite{
			kind:           kindFactory,
			serviceType:    d.serviceType,
			key:            id.key,
			cache:          cache,
			cleanupFactory: d.cleanupFactory,
		}
	case d.constructor != nil:
		cs, err = f.createConstructorCallSite(cache, id, d, chain)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidDescriptor("descriptor has no implementation strategy")
	}

	f.store(cacheKey, cs)

	return cs, nil
}

func (f *callSiteFactory) createConstructorCallSite(cache resultCache, id serviceIdentifier, d *ServiceDescriptor, chain *callSiteChain) (*callSite, error) {
	chain.add(id, d.constructor.implType)
	defer chain.remove(id)

	deps := d.constructor.dependencies()
	parameters := make([]*callSite, len(deps))

	for i, dep := range deps {
		cs, err := f.parameterCallSite(id, dep, chain)
		if err != nil {
			return nil, err
		}

		if cs == nil {
			return nil, ErrCannotResolveService(identifierOf(dep.Type, dependencyLookupKey(id, dep)), chain.String())
		}

		parameters[i] = cs
	}

	return &callSite{
		kind:        kindConstructor,
		serviceType: d.serviceType,
		key:         id.key,
		cache:       cache,
		ctor:        d.constructor,
		parameters:  parameters,
	}, nil
}

func (f *callSiteFactory) parameterCallSite(enclosing serviceIdentifier, dep Dependency, chain *callSiteChain) (*callSite, error) {
	if dep.Mode == DepServiceKey {
		if key := enclosing.key.Value(); key != nil {
			keyType := reflect.TypeOf(key)
			if !keyType.AssignableTo(dep.Type) {
				return nil, ErrInvalidServiceKeyType(dep.Type, key)
			}
		}

		return newServiceKeyCallSite(dep.Type, enclosing.key), nil
	}

	return f.callSiteFor(identifierOf(dep.Type, dependencyLookupKey(enclosing, dep)), chain)
}

func dependencyLookupKey(enclosing serviceIdentifier, dep Dependency) ServiceKey {
	switch dep.Mode {
	case DepKeyed:
		return dep.Key
	case DepInheritKey:
		return enclosing.key
	default:
		return NoKey
	}
}

// tryCreateSequence compiles the enumerable call site for a slice-typed
// identifier: every matching descriptor in registration order, each under its
// own slot so items keep their individual cache identity.
func (f *callSiteFactory) tryCreateSequence(id serviceIdentifier, chain *callSiteChain) (*callSite, error) {
	if id.serviceType.Kind() != reflect.Slice {
		return nil, nil
	}

	cacheKey := serviceCacheKey{id: id, slot: defaultSlot}
	if cs, ok := f.cached(cacheKey); ok {
		return cs, nil
	}

	chain.add(id, nil)
	defer chain.remove(id)

	itemType := id.serviceType.Elem()
	location := locationRoot

	var items []*callSite

	for _, d := range f.registry.all() {
		if d.serviceType != itemType || !sequenceKeyMatches(id.key, d.key) {
			continue
		}

		itemID := identifierOf(itemType, d.key)

		descriptors, ok := f.registry.chainFor(itemID)
		if !ok {
			continue
		}

		item, err := f.createExact(d, itemID, chain, descriptors.slotOf(d))
		if err != nil {
			return nil, err
		}

		location = commonCacheLocation(location, item.cache.location)
		items = append(items, item)
	}

	if location != locationRoot && location != locationScope {
		location = locationNone
	}

	seq := &callSite{
		kind:        kindSequence,
		serviceType: id.serviceType,
		key:         id.key,
		cache:       resultCache{location: location, key: cacheKey},
		itemType:    itemType,
		items:       items,
	}
	f.store(cacheKey, seq)

	return seq, nil
}

// sequenceKeyMatches decides whether a descriptor belongs to an enumerable
// lookup. An unfiltered lookup returns every registration of the type, an
// explicit key filters to exact matches, and the wildcard lookup returns all
// keyed registrations. Wildcard registrations themselves are never
// enumerated: they cannot be constructed without a concrete key.
func sequenceKeyMatches(lookup, descriptor ServiceKey) bool {
	if descriptor.IsAny() {
		return false
	}

	switch lookup.kind {
	case keyNone:
		return true
	case keyAny:
		return descriptor.kind == keyValue
	default:
		return descriptor == lookup
	}
}

// isService reports whether an identifier can be resolved: a matching
// registration, a wildcard registration for a keyed request, or a built-in
// ambient service.
func (f *callSiteFactory) isService(id serviceIdentifier) bool {
	if _, ok := f.registry.chainFor(id); ok {
		return true
	}

	if !id.key.IsNone() && !id.key.IsAny() {
		if _, ok := f.registry.chainFor(identifierOf(id.serviceType, AnyKey)); ok {
			return true
		}
	}

	_, ok := f.cached(serviceCacheKey{id: id, slot: defaultSlot})

	return ok
}
