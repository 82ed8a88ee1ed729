package keel

import (
	"fmt"
	"reflect"
)

type keyKind uint8

const (
	keyNone keyKind = iota
	keyValue
	keyAny
)

// ServiceKey disambiguates registrations that share a service type. A key is
// either absent (the zero value), an explicit comparable value, or the
// wildcard AnyKey which matches any explicitly requested key at registration
// time.
type ServiceKey struct {
	kind  keyKind
	value any
}

// NoKey is the absent-key sentinel. It is the zero ServiceKey.
var NoKey = ServiceKey{}

// AnyKey is the wildcard key. A descriptor registered under AnyKey serves any
// explicitly keyed request for its service type, receiving the requested key
// as input. AnyKey is a registration target only; resolving it directly
// fails.
var AnyKey = ServiceKey{kind: keyAny}

// KeyOf wraps a value as an explicit service key. A ServiceKey passes through
// unchanged. Other values must be comparable; KeyOf panics otherwise, since an
// unusable key is a registration-time programmer error.
func KeyOf(value any) ServiceKey {
	if value == nil {
		return NoKey
	}

	if key, ok := value.(ServiceKey); ok {
		return key
	}

	if !reflect.TypeOf(value).Comparable() {
		panic(fmt.Sprintf("keel: service key of type %T is not comparable", value))
	}

	return ServiceKey{kind: keyValue, value: value}
}

// IsNone reports whether the key is the absent-key sentinel.
func (k ServiceKey) IsNone() bool {
	return k.kind == keyNone
}

// IsAny reports whether the key is the wildcard.
func (k ServiceKey) IsAny() bool {
	return k.kind == keyAny
}

// Value returns the underlying key value, or nil for NoKey and AnyKey.
func (k ServiceKey) Value() any {
	if k.kind != keyValue {
		return nil
	}

	return k.value
}

// String returns a human-readable representation of the key.
func (k ServiceKey) String() string {
	switch k.kind {
	case keyValue:
		return fmt.Sprintf("%v", k.value)
	case keyAny:
		return "<any>"
	default:
		return "<none>"
	}
}

// serviceIdentifier uniquely identifies a service by its type and key. It is
// the lookup key of the descriptor registry and the call-site cache.
type serviceIdentifier struct {
	serviceType reflect.Type
	key         ServiceKey
}

func identifierOf(serviceType reflect.Type, key ServiceKey) serviceIdentifier {
	return serviceIdentifier{serviceType: serviceType, key: key}
}

// String returns a human-readable representation of the identifier.
func (id serviceIdentifier) String() string {
	typeName := "<nil>"
	if id.serviceType != nil {
		typeName = id.serviceType.String()
	}

	if id.key.IsNone() {
		return typeName
	}

	return fmt.Sprintf("%s[key=%s]", typeName, id.key)
}

// serviceCacheKey identifies one cached call site or instance. Multiple
// descriptors for the same identifier are distinguished by slot: the last
// registered descriptor holds slot 0, earlier registrations count up.
type serviceCacheKey struct {
	id   serviceIdentifier
	slot int
}

// TypeOf returns the reflect.Type for T. Unlike reflect.TypeOf on a value it
// works for interface types, which is the common case for service types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
