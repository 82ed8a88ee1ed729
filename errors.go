package keel

import (
	"fmt"
	"reflect"

	"github.com/xraph/go-utils/errs"
)

// =============================================================================
// ERROR CODES
// =============================================================================

const (
	// CodeCannotResolveService indicates no descriptor satisfies a requested
	// type/key.
	CodeCannotResolveService = "CANNOT_RESOLVE_SERVICE"

	// CodeCircularDependency indicates a call site transitively depends on
	// itself.
	CodeCircularDependency = "CIRCULAR_DEPENDENCY"

	// CodeScopedInSingleton indicates a singleton call site transitively
	// depends on a scoped one.
	CodeScopedInSingleton = "SCOPED_IN_SINGLETON"

	// CodeDirectScopedFromRoot indicates a scoped service was resolved
	// directly from the root provider.
	CodeDirectScopedFromRoot = "DIRECT_SCOPED_FROM_ROOT"

	// CodeScopedFromRoot indicates a scoped service was reached from the root
	// provider through a transient or singleton dependency.
	CodeScopedFromRoot = "SCOPED_FROM_ROOT"

	// CodeAnyKeyResolution indicates the wildcard key was used as a
	// resolution target.
	CodeAnyKeyResolution = "ANY_KEY_RESOLUTION"

	// CodeInvalidDescriptor indicates a descriptor with no usable
	// implementation strategy.
	CodeInvalidDescriptor = "INVALID_DESCRIPTOR"

	// CodeInvalidServiceKeyType indicates a service-key parameter whose type
	// cannot hold the branch key.
	CodeInvalidServiceKeyType = "INVALID_SERVICE_KEY_TYPE"

	// CodeServiceError indicates a failure during service construction.
	CodeServiceError = "SERVICE_ERROR"

	// CodeProviderDisposed indicates an operation on a disposed provider.
	CodeProviderDisposed = "PROVIDER_DISPOSED"

	// CodeScopeEnded indicates an operation on an ended scope.
	CodeScopeEnded = "SCOPE_ENDED"

	// CodeBuildFailed indicates the provider build failed validation or
	// auto-activation.
	CodeBuildFailed = "BUILD_FAILED"

	// CodeTypeMismatch indicates a type mismatch during typed resolution.
	CodeTypeMismatch = "TYPE_MISMATCH"

	// CodeDisposeFailed indicates one or more teardown calls failed.
	CodeDisposeFailed = "DISPOSE_FAILED"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

// ErrProviderDisposed is returned when operations are attempted on a disposed
// provider.
var ErrProviderDisposed = errs.NewError(CodeProviderDisposed, "service provider has been disposed", nil)

// ErrScopeEnded is returned when operations are attempted on an ended scope.
var ErrScopeEnded = errs.NewError(CodeScopeEnded, "scope has ended", nil)

// ErrCannotResolveSentinel is a sentinel error for unresolvable services (for
// error checking).
var ErrCannotResolveSentinel = errs.NewError(CodeCannotResolveService, "cannot resolve service", nil)

// ErrCircularDependencySentinel is a sentinel error for circular dependency
// (for error checking).
var ErrCircularDependencySentinel = errs.NewError(CodeCircularDependency, "circular dependency", nil)

// ErrTypeMismatchSentinel is a sentinel error for type mismatch (for error
// checking).
var ErrTypeMismatchSentinel = errs.NewError(CodeTypeMismatch, "type mismatch", nil)

// ErrBuildFailedSentinel is a sentinel error for failed builds (for error
// checking).
var ErrBuildFailedSentinel = errs.NewError(CodeBuildFailed, "build failed", nil)

// =============================================================================
// ERROR CONSTRUCTORS
// =============================================================================

// ErrCannotResolveService creates an error for when no descriptor satisfies
// the requested identifier. The chain names the requesting path when the
// failure happened while compiling a nested dependency.
func ErrCannotResolveService(id serviceIdentifier, chain string) *errs.Error {
	message := fmt.Sprintf("cannot resolve service '%s'", id)
	if chain != "" {
		message = fmt.Sprintf("cannot resolve service '%s' required by %s", id, chain)
	}

	e := errs.NewError(CodeCannotResolveService, message, nil).
		WithContext("service_type", id.serviceType.String())
	if !id.key.IsNone() {
		e = e.WithContext("service_key", id.key.String())
	}

	return e.(*errs.Error)
}

// ErrCircularDependency creates an error naming the full compilation chain
// that closed the cycle.
func ErrCircularDependency(cycle []string) *errs.Error {
	return errs.NewError(
		CodeCircularDependency,
		fmt.Sprintf("circular dependency detected: %s", joinChain(cycle)),
		nil,
	).WithContext("cycle", cycle).(*errs.Error)
}

// ErrScopedInSingleton creates a validation error for a scoped service
// reachable from a singleton.
func ErrScopedInSingleton(scopedType, singletonType reflect.Type) *errs.Error {
	return errs.NewError(
		CodeScopedInSingleton,
		fmt.Sprintf("scoped service '%s' cannot be consumed by singleton '%s'", scopedType, singletonType),
		nil,
	).WithContext("scoped_type", scopedType.String()).
		WithContext("singleton_type", singletonType.String()).(*errs.Error)
}

// ErrDirectScopedFromRoot creates an error for a scoped service resolved
// directly from the root provider.
func ErrDirectScopedFromRoot(serviceType reflect.Type) *errs.Error {
	return errs.NewError(
		CodeDirectScopedFromRoot,
		fmt.Sprintf("scoped service '%s' cannot be resolved from the root provider", serviceType),
		nil,
	).WithContext("service_type", serviceType.String()).(*errs.Error)
}

// ErrScopedFromRoot creates an error for a scoped service reached from the
// root provider through another service.
func ErrScopedFromRoot(serviceType, scopedType reflect.Type) *errs.Error {
	return errs.NewError(
		CodeScopedFromRoot,
		fmt.Sprintf("cannot resolve '%s' from the root provider because it requires scoped service '%s'", serviceType, scopedType),
		nil,
	).WithContext("service_type", serviceType.String()).
		WithContext("scoped_type", scopedType.String()).(*errs.Error)
}

// ErrAnyKeyResolution creates an error for a resolution that targeted the
// wildcard key.
func ErrAnyKeyResolution(serviceType reflect.Type) *errs.Error {
	return errs.NewError(
		CodeAnyKeyResolution,
		fmt.Sprintf("service '%s' cannot be resolved with the wildcard key; AnyKey is a registration target only", serviceType),
		nil,
	).WithContext("service_type", serviceType.String()).(*errs.Error)
}

// ErrInvalidDescriptor creates an error for a malformed descriptor.
func ErrInvalidDescriptor(reason string) *errs.Error {
	return errs.NewError(CodeInvalidDescriptor, reason, nil)
}

// ErrInvalidServiceKeyType creates an error for a service-key parameter whose
// declared type cannot hold the branch key.
func ErrInvalidServiceKeyType(paramType reflect.Type, key any) *errs.Error {
	return errs.NewError(
		CodeInvalidServiceKeyType,
		fmt.Sprintf("service key of type %T cannot be injected into parameter of type %s", key, paramType),
		nil,
	).WithContext("parameter_type", paramType.String()).(*errs.Error)
}

// NewServiceError wraps a failure that occurred while constructing a service.
func NewServiceError(id serviceIdentifier, cause error) *errs.Error {
	return errs.NewError(
		CodeServiceError,
		fmt.Sprintf("service '%s' construction failed", id),
		cause,
	).WithContext("service_type", id.serviceType.String()).(*errs.Error)
}

// ErrBuildFailed aggregates every validation and auto-activation fault found
// during a provider build.
func ErrBuildFailed(cause error) *errs.Error {
	return errs.NewError(
		CodeBuildFailed,
		"some services are not able to be constructed",
		cause,
	)
}

// ErrTypeMismatch creates an error for typed resolution returning an
// unexpected dynamic type.
func ErrTypeMismatch(expected reflect.Type, actual any) *errs.Error {
	return errs.NewError(
		CodeTypeMismatch,
		fmt.Sprintf("resolved service is %T, not %s", actual, expected),
		nil,
	).WithContext("expected_type", expected.String()).
		WithContext("actual_type", fmt.Sprintf("%T", actual)).(*errs.Error)
}

// ErrDisposeFailed aggregates teardown failures collected during a disposal
// pass.
func ErrDisposeFailed(cause error) *errs.Error {
	return errs.NewError(CodeDisposeFailed, "one or more services failed to dispose", cause)
}

func joinChain(parts []string) string {
	result := ""
	for i, part := range parts {
		if i > 0 {
			result += " -> "
		}
		result += part
	}

	return result
}
