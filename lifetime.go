package keel

// Lifetime controls how instances of a service are cached.
type Lifetime int

const (
	// Transient services are constructed on every resolution.
	Transient Lifetime = iota

	// Scoped services are constructed once per scope and shared by all
	// resolutions within that scope.
	Scoped

	// Singleton services are constructed once per provider and shared by
	// the root and every scope.
	Singleton
)

// String returns the lifetime name.
func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return "unknown"
	}
}

// cacheLocation identifies which cache, if any, owns the result of a call
// site. Values are ordered so that the common location of a group of call
// sites is the maximum of their locations.
type cacheLocation uint8

const (
	locationRoot cacheLocation = iota
	locationScope
	locationDispose
	locationNone
)

// resultCache describes where the result of a call site is stored and under
// which identity.
type resultCache struct {
	location cacheLocation
	key      serviceCacheKey
}

func newResultCache(lifetime Lifetime, id serviceIdentifier, slot int) resultCache {
	key := serviceCacheKey{id: id, slot: slot}

	switch lifetime {
	case Singleton:
		return resultCache{location: locationRoot, key: key}
	case Scoped:
		return resultCache{location: locationScope, key: key}
	default:
		return resultCache{location: locationDispose, key: key}
	}
}

func commonCacheLocation(a, b cacheLocation) cacheLocation {
	if a > b {
		return a
	}

	return b
}
