package keel

import (
	"errors"
	"reflect"
	"sync"
)

// callSiteValidator detects scope misuse in compiled call-site trees. For
// every visited cache key it remembers the first scoped service found in that
// subtree, so repeat visits and resolve-time root checks are cheap lookups.
type callSiteValidator struct {
	mu             sync.Mutex
	scopedServices map[serviceCacheKey]reflect.Type
	visited        map[serviceCacheKey]bool
}

// validatorState tracks the innermost enclosing singleton on the current
// walk.
type validatorState struct {
	singleton *callSite
}

func newCallSiteValidator() *callSiteValidator {
	return &callSiteValidator{
		scopedServices: make(map[serviceCacheKey]reflect.Type),
		visited:        make(map[serviceCacheKey]bool),
	}
}

// validateCallSite walks a compiled tree and returns every scoped-in-
// singleton violation found, joined. Violations are collected rather than
// short-circuited so one validation pass reports every misconfiguration.
func (v *callSiteValidator) validateCallSite(cs *callSite) error {
	var violations []error

	v.visit(cs, &validatorState{}, &violations)

	if len(violations) > 0 {
		return errors.Join(violations...)
	}

	return nil
}

// validateResolution fails resolutions of scoped services performed against
// the root scope, directly or through a dependent.
func (v *callSiteValidator) validateResolution(cs *callSite, scope, root *Scope) error {
	if scope != root {
		return nil
	}

	scoped, ok := v.cachedScoped(cs.cache.key)
	if !ok || scoped == nil {
		return nil
	}

	if cs.serviceType == scoped {
		return ErrDirectScopedFromRoot(scoped)
	}

	return ErrScopedFromRoot(cs.serviceType, scoped)
}

// visit returns the first scoped service type in the call site's subtree, or
// nil when the subtree has none.
func (v *callSiteValidator) visit(cs *callSite, state *validatorState, violations *[]error) reflect.Type {
	scoped, ok := v.cachedScoped(cs.cache.key)
	if !ok {
		scoped = v.visitLocation(cs, state, violations)
		v.storeScoped(cs.cache.key, scoped)
	}

	if scoped != nil && state.singleton != nil {
		*violations = append(*violations, ErrScopedInSingleton(cs.serviceType, state.singleton.serviceType))
	}

	return scoped
}

func (v *callSiteValidator) visitLocation(cs *callSite, state *validatorState, violations *[]error) reflect.Type {
	switch cs.cache.location {
	case locationRoot:
		prev := state.singleton
		state.singleton = cs
		result := v.visitChildren(cs, state, violations)
		state.singleton = prev

		return result
	case locationScope:
		v.visitChildren(cs, state, violations)
		return cs.serviceType
	default:
		return v.visitChildren(cs, state, violations)
	}
}

func (v *callSiteValidator) visitChildren(cs *callSite, state *validatorState, violations *[]error) reflect.Type {
	var result reflect.Type

	switch cs.kind {
	case kindConstructor:
		for _, parameter := range cs.parameters {
			if scoped := v.visit(parameter, state, violations); scoped != nil && result == nil {
				result = scoped
			}
		}
	case kindSequence:
		for _, item := range cs.items {
			if scoped := v.visit(item, state, violations); scoped != nil && result == nil {
				result = scoped
			}
		}
	}

	return result
}

func (v *callSiteValidator) cachedScoped(key serviceCacheKey) (reflect.Type, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	scoped, ok := v.scopedServices[key]
	if !ok && v.visited[key] {
		return nil, true
	}

	return scoped, ok
}

func (v *callSiteValidator) storeScoped(key serviceCacheKey, scoped reflect.Type) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.visited[key] = true
	if scoped != nil {
		v.scopedServices[key] = scoped
	}
}
