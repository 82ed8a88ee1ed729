package keel

import "reflect"

// callSiteKind discriminates the call-site variants.
type callSiteKind uint8

const (
	kindConstructor callSiteKind = iota
	kindFactory
	kindInstance
	kindSequence
	kindProvider
	kindScopeFactory
	kindServiceKey
)

// callSite is a compiled, cacheable plan to produce an instance of one
// (service type, key). Call sites are created once by the call-site factory,
// cached forever, and safe for unsynchronized concurrent reads.
type callSite struct {
	kind        callSiteKind
	serviceType reflect.Type
	key         ServiceKey
	cache       resultCache

	// kindConstructor
	ctor       *constructorInfo
	parameters []*callSite

	// kindFactory; exactly one of the three is set.
	factory        Factory
	keyedFactory   KeyedFactory
	cleanupFactory CleanupFactory

	// kindInstance and kindServiceKey
	value any

	// kindSequence
	itemType reflect.Type
	items    []*callSite
}

func newInstanceCallSite(serviceType reflect.Type, key ServiceKey, value any) *callSite {
	// Pre-built instances already have a fixed lifetime: never cached per
	// scope, never disposed by the engine.
	return &callSite{
		kind:        kindInstance,
		serviceType: serviceType,
		key:         key,
		cache:       resultCache{location: locationNone, key: serviceCacheKey{id: identifierOf(serviceType, key)}},
		value:       value,
	}
}

func newServiceKeyCallSite(paramType reflect.Type, key ServiceKey) *callSite {
	return &callSite{
		kind:        kindServiceKey,
		serviceType: paramType,
		key:         key,
		cache:       resultCache{location: locationNone, key: serviceCacheKey{id: identifierOf(paramType, key)}},
		value:       key.Value(),
	}
}

func newProviderCallSite(serviceType reflect.Type) *callSite {
	return &callSite{
		kind:        kindProvider,
		serviceType: serviceType,
		cache:       resultCache{location: locationNone, key: serviceCacheKey{id: identifierOf(serviceType, NoKey)}},
	}
}

func newScopeFactoryCallSite(serviceType reflect.Type) *callSite {
	return &callSite{
		kind:        kindScopeFactory,
		serviceType: serviceType,
		cache:       resultCache{location: locationNone, key: serviceCacheKey{id: identifierOf(serviceType, NoKey)}},
	}
}
