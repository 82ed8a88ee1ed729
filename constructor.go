package keel

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// constructorInfo holds the analyzed metadata of a constructor function:
// its parameter types, derived once at registration, and its result shape.
// Analysis happens here so that resolution never re-inspects the function.
type constructorInfo struct {
	fn         reflect.Value
	fnType     reflect.Type
	implType   reflect.Type
	hasError   bool
	paramTypes []reflect.Type

	// overrides, when set, refines the derived dependency list with key
	// metadata. Set via WithDependencies.
	overrides []Dependency
}

// analyzeConstructor inspects a constructor function and extracts its
// dependency and result information.
func analyzeConstructor(constructor any) (*constructorInfo, error) {
	if constructor == nil {
		return nil, ErrInvalidDescriptor("constructor cannot be nil")
	}

	fnValue := reflect.ValueOf(constructor)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return nil, ErrInvalidDescriptor(fmt.Sprintf("constructor must be a function, got %T", constructor))
	}

	if fnType.IsVariadic() {
		return nil, ErrInvalidDescriptor("constructor must not be variadic")
	}

	info := &constructorInfo{
		fn:     fnValue,
		fnType: fnType,
	}

	switch fnType.NumOut() {
	case 1:
		info.implType = fnType.Out(0)
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, ErrInvalidDescriptor("constructor's second return value must be an error")
		}

		info.implType = fnType.Out(0)
		info.hasError = true
	default:
		return nil, ErrInvalidDescriptor("constructor must return (T) or (T, error)")
	}

	if info.implType.Implements(errorType) {
		return nil, ErrInvalidDescriptor("constructor's first return value must not be an error")
	}

	for i := 0; i < fnType.NumIn(); i++ {
		info.paramTypes = append(info.paramTypes, fnType.In(i))
	}

	return info, nil
}

// dependencies returns the per-parameter dependency metadata, merging the
// derived parameter types with any WithDependencies overrides.
func (c *constructorInfo) dependencies() []Dependency {
	deps := make([]Dependency, len(c.paramTypes))

	for i, paramType := range c.paramTypes {
		if c.overrides != nil {
			deps[i] = c.overrides[i]
			continue
		}

		deps[i] = Dependency{Type: paramType}
	}

	return deps
}

// checkOverrides verifies that an override list matches the constructor
// signature positionally.
func (c *constructorInfo) checkOverrides() error {
	if c.overrides == nil {
		return nil
	}

	if len(c.overrides) != len(c.paramTypes) {
		return ErrInvalidDescriptor(fmt.Sprintf(
			"dependency list has %d entries but the constructor takes %d parameters",
			len(c.overrides), len(c.paramTypes),
		))
	}

	for i, dep := range c.overrides {
		if dep.Type == nil {
			return ErrInvalidDescriptor(fmt.Sprintf("dependency %d has no declared type", i))
		}

		if !dep.Type.AssignableTo(c.paramTypes[i]) {
			return ErrInvalidDescriptor(fmt.Sprintf(
				"dependency %d declares type %s, not assignable to parameter type %s",
				i, dep.Type, c.paramTypes[i],
			))
		}
	}

	return nil
}

// invoke calls the constructor with already-resolved argument values.
func (c *constructorInfo) invoke(args []reflect.Value) (any, error) {
	results := c.fn.Call(args)

	if c.hasError {
		if errValue := results[1]; !errValue.IsNil() {
			return nil, errValue.Interface().(error)
		}
	}

	return results[0].Interface(), nil
}

// argumentValue converts a resolved dependency into a reflect value suitable
// for the parameter at position i, handling untyped nils for interface and
// pointer parameters.
func (c *constructorInfo) argumentValue(i int, resolved any) reflect.Value {
	paramType := c.paramTypes[i]

	if resolved == nil {
		return reflect.Zero(paramType)
	}

	value := reflect.ValueOf(resolved)
	if value.Type() != paramType && value.Type().ConvertibleTo(paramType) && !value.Type().AssignableTo(paramType) {
		return value.Convert(paramType)
	}

	return value
}
