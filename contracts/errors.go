package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDescriptor is returned for descriptors that cannot be installed
	ErrInvalidDescriptor = errors.New("contracts: invalid descriptor")

	// Backend errors
	ErrUnknownTarget = errors.New("backend: unknown target operation")
	ErrAlreadyBound  = errors.New("backend: operation already bound")
	ErrNotBound      = errors.New("backend: operation not bound")
	ErrEntryMismatch = errors.New("backend: entry point kind does not match operation")

	// ErrBindingConflict marks an attempt to bind an operation that another
	// descriptor already owns
	ErrBindingConflict = errors.New("registry: operation already bound by another descriptor")
)

// InstallError reports that one descriptor could not be attached to a target.
type InstallError struct {
	Provider   string
	Descriptor string
	Target     Target
	Err        error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s (provider %s) on %s in realm %s: %v",
		e.Descriptor, e.Provider, e.Target, e.Target.Realm, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
