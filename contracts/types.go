package contracts

import (
	"strings"
)

// Realm identifies a type-visibility namespace. A type name resolves to at
// most one definition inside a realm.
type Realm string

// RootRealm stands in for platform code that was loaded without a realm.
const RootRealm Realm = "<root>"

// Normalize maps the empty realm onto RootRealm.
func (r Realm) Normalize() Realm {
	if r == "" {
		return RootRealm
	}
	return r
}

// String implements fmt.Stringer
func (r Realm) String() string {
	return string(r.Normalize())
}

// OperationKind distinguishes methods from constructors
type OperationKind int

const (
	KindMethod OperationKind = iota
	KindConstructor
)

func (k OperationKind) String() string {
	switch k {
	case KindMethod:
		return "method"
	case KindConstructor:
		return "constructor"
	default:
		return "unknown"
	}
}

// ConstructorName is the operation name reported for constructors.
const ConstructorName = "<init>"

// OperationInfo describes one operation of a loaded type.
type OperationInfo struct {
	Kind   OperationKind
	Name   string
	Params []string
	Static bool
}

// NewMethod describes an instance method.
func NewMethod(name string, params ...string) OperationInfo {
	return OperationInfo{Kind: KindMethod, Name: name, Params: params}
}

// NewStaticMethod describes a method that runs without an instance.
func NewStaticMethod(name string, params ...string) OperationInfo {
	return OperationInfo{Kind: KindMethod, Name: name, Params: params, Static: true}
}

// NewConstructor describes a constructor.
func NewConstructor(params ...string) OperationInfo {
	return OperationInfo{Kind: KindConstructor, Name: ConstructorName, Params: params}
}

// Signature renders the operation as name(param,param).
func (o OperationInfo) Signature() string {
	name := o.Name
	if o.Kind == KindConstructor {
		name = ConstructorName
	}
	return name + "(" + strings.Join(o.Params, ",") + ")"
}

// TypeInfo describes a type as seen in one realm.
type TypeInfo struct {
	Name       string
	Realm      Realm
	Operations []OperationInfo
}

// Operation finds an operation by signature.
func (t TypeInfo) Operation(signature string) (OperationInfo, bool) {
	for _, op := range t.Operations {
		if op.Signature() == signature {
			return op, true
		}
	}
	return OperationInfo{}, false
}

// Target addresses a single operation of a type in a realm.
type Target struct {
	Realm     Realm
	TypeName  string
	Operation OperationInfo
}

// NewTarget builds a Target, normalising the realm.
func NewTarget(realm Realm, typeName string, op OperationInfo) Target {
	return Target{Realm: realm.Normalize(), TypeName: typeName, Operation: op}
}

// Key uniquely identifies the bound operation. Two targets with the same key
// compete for the same binding.
func (t Target) Key() string {
	return t.Realm.String() + "|" + t.TypeName + "#" + t.Operation.Signature()
}

// String implements fmt.Stringer
func (t Target) String() string {
	return t.TypeName + "." + t.Operation.Signature()
}
