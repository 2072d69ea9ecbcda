package contracts

import (
	"fmt"
)

// Interceptor is observer logic bound to target operations. The hook methods
// it may implement are declared by the interceptors package; Name identifies
// it in logs and diagnostics.
type Interceptor interface {
	Name() string
}

// Descriptor binds a target type and operation selector to an interceptor.
// Descriptors are immutable once built.
type Descriptor struct {
	typeName     string
	selector     Selector
	interceptor  Interceptor
	precondition Precondition
	debug        bool
}

// DescriptorOption configures a descriptor at build time
type DescriptorOption func(*Descriptor)

// WithPrecondition gates installation on p.
func WithPrecondition(p Precondition) DescriptorOption {
	return func(d *Descriptor) {
		d.precondition = p
	}
}

// WithDebug turns on precondition diagnostics for the descriptor.
func WithDebug(debug bool) DescriptorOption {
	return func(d *Descriptor) {
		d.debug = debug
	}
}

// NewDescriptor creates a descriptor
func NewDescriptor(typeName string, selector Selector, interceptor Interceptor, opts ...DescriptorOption) Descriptor {
	d := Descriptor{
		typeName:    typeName,
		selector:    selector,
		interceptor: interceptor,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// TypeName returns the target type name
func (d Descriptor) TypeName() string { return d.typeName }

// Selector returns the operation selector
func (d Descriptor) Selector() Selector { return d.selector }

// Interceptor returns the bound interceptor
func (d Descriptor) Interceptor() Interceptor { return d.interceptor }

// Precondition returns the installation precondition, or nil
func (d Descriptor) Precondition() Precondition { return d.precondition }

// Debug reports whether precondition diagnostics are enabled
func (d Descriptor) Debug() bool { return d.debug }

// WithDebugEnabled returns a copy of d with diagnostics forced on.
func (d Descriptor) WithDebugEnabled() Descriptor {
	d.debug = true
	return d
}

// Key renders a stable identity for logs: Type.selector@interceptor.
func (d Descriptor) Key() string {
	name := "<nil>"
	if d.interceptor != nil {
		name = d.interceptor.Name()
	}
	return d.typeName + "." + d.selector.String() + "@" + name
}

// Validate checks the descriptor is usable
func (d Descriptor) Validate() error {
	if d.typeName == "" {
		return fmt.Errorf("%w: empty target type name", ErrInvalidDescriptor)
	}
	if d.selector.IsZero() {
		return fmt.Errorf("%w: %s has no operation selector", ErrInvalidDescriptor, d.typeName)
	}
	if d.interceptor == nil {
		return fmt.Errorf("%w: %s has no interceptor", ErrInvalidDescriptor, d.typeName)
	}
	return nil
}

// Plugin is one entry of the plugin catalog: an ordered descriptor list plus
// an optional precondition that gates the whole plugin.
type Plugin struct {
	Name         string
	Precondition Precondition
	Descriptors  []Descriptor
}
