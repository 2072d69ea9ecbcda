package contracts

import (
	"context"
)

// Callable runs the real operation with the given arguments.
type Callable func(args []any) (any, error)

// EntryPoint is what a backend splices into a target operation. Concrete
// entry points implement MethodEntry or ConstructorEntry depending on Kind.
type EntryPoint interface {
	Kind() OperationKind
}

// MethodEntry wraps a method call. call performs the original operation.
type MethodEntry interface {
	EntryPoint
	Invoke(instance any, args []any, call Callable) (any, error)
}

// ConstructorEntry is notified after an instance finished construction.
type ConstructorEntry interface {
	EntryPoint
	Constructed(instance any, args []any)
}

// Binding is the backend's receipt for a splice, needed to revert it.
type Binding struct {
	ID     string
	Target Target
}

// TypeScope is the backend's per-realm type introspection capability.
type TypeScope interface {
	// Lookup reports the type's shape. found=false with a nil error means the
	// type is not visible in the realm.
	Lookup(typeName string) (info TypeInfo, found bool, err error)
}

// Backend performs the low-level splice and revert of entry points and
// reports type loading.
type Backend interface {
	// Splice installs entry around target. Returns ErrUnknownTarget when the
	// operation does not exist and ErrAlreadyBound when something else is
	// spliced there.
	Splice(ctx context.Context, target Target, entry EntryPoint) (Binding, error)
	// Revert removes a splice. Returns ErrNotBound if it is already gone.
	Revert(ctx context.Context, binding Binding) error
	// OnTypeLoaded registers fn for every type that becomes visible from now
	// on. The returned func unsubscribes.
	OnTypeLoaded(fn func(TypeInfo)) (unsubscribe func())
	// LoadedTypes lists the types visible right now, across all realms.
	LoadedTypes() []TypeInfo
	// Scope returns the introspection capability for a realm.
	Scope(realm Realm) (TypeScope, error)
}
