package contracts

import (
	"slices"
	"strings"
)

type selectorKind int

const (
	selectNone selectorKind = iota
	selectMethod
	selectMethodsNamed
	selectAnyConstructor
	selectConstructor
)

// Selector picks the operations of a target type that an interceptor binds to.
// The zero Selector matches nothing.
type Selector struct {
	kind   selectorKind
	name   string
	params []string
}

// Method selects the method with exactly this name and parameter signature.
func Method(name string, params ...string) Selector {
	return Selector{kind: selectMethod, name: name, params: slices.Clone(params)}
}

// MethodsNamed selects every overload of the named method.
func MethodsNamed(name string) Selector {
	return Selector{kind: selectMethodsNamed, name: name}
}

// AnyConstructor selects every constructor of the type.
func AnyConstructor() Selector {
	return Selector{kind: selectAnyConstructor}
}

// Constructor selects the constructor with exactly this parameter signature.
func Constructor(params ...string) Selector {
	return Selector{kind: selectConstructor, params: slices.Clone(params)}
}

// IsZero reports whether the selector was never initialised.
func (s Selector) IsZero() bool {
	return s.kind == selectNone
}

// Matches reports whether op is selected.
func (s Selector) Matches(op OperationInfo) bool {
	switch s.kind {
	case selectMethod:
		return op.Kind == KindMethod && op.Name == s.name && slices.Equal(op.Params, s.params)
	case selectMethodsNamed:
		return op.Kind == KindMethod && op.Name == s.name
	case selectAnyConstructor:
		return op.Kind == KindConstructor
	case selectConstructor:
		return op.Kind == KindConstructor && slices.Equal(op.Params, s.params)
	default:
		return false
	}
}

// String implements fmt.Stringer
func (s Selector) String() string {
	switch s.kind {
	case selectMethod:
		return s.name + "(" + strings.Join(s.params, ",") + ")"
	case selectMethodsNamed:
		return s.name + "(*)"
	case selectAnyConstructor:
		return ConstructorName + "(*)"
	case selectConstructor:
		return ConstructorName + "(" + strings.Join(s.params, ",") + ")"
	default:
		return "<none>"
	}
}
