package registry

import (
	"slices"

	"github.com/glimte/mmate-instrument/contracts"
)

// Binding describes one operation an installation owns.
type Binding struct {
	HandleID   string
	Provider   string
	Descriptor string
	Target     contracts.Target
}

// Rejection records a descriptor that lost a binding conflict.
type Rejection struct {
	Provider   string
	Descriptor string
	Target     contracts.Target
	// Owner is the descriptor key holding the binding.
	Owner string
	Err   error
}

// Handle is the receipt of one Install call, needed to uninstall it.
type Handle struct {
	id       string
	registry *Registry

	// Everything below is guarded by registry.mu.
	plugins  []*installedPlugin
	bindings []*binding
	rejected []Rejection
	seen     map[string]struct{}
	deferred map[string]contracts.TypeInfo
	active   bool
}

type installedPlugin struct {
	plugin      contracts.Plugin
	descriptors []*installedDescriptor
}

// installedDescriptor caches the descriptor's key and interceptor name so
// plugin code is asked for them once, at Install.
type installedDescriptor struct {
	provider   string
	key        string
	name       string
	descriptor contracts.Descriptor
}

type binding struct {
	handle  *Handle
	owner   *installedDescriptor
	target  contracts.Target
	receipt contracts.Binding
}

func (b *binding) view() Binding {
	return Binding{
		HandleID:   b.handle.id,
		Provider:   b.owner.provider,
		Descriptor: b.owner.key,
		Target:     b.target,
	}
}

// ID returns the installation ID
func (h *Handle) ID() string {
	return h.id
}

// Active reports whether the handle is still installed
func (h *Handle) Active() bool {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return h.active
}

// Plugins returns the names of the installed plugins in install order
func (h *Handle) Plugins() []string {
	names := make([]string, 0, len(h.plugins))
	for _, p := range h.plugins {
		names = append(names, p.plugin.Name)
	}
	return names
}

// Bindings lists the operations this installation owns
func (h *Handle) Bindings() []Binding {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()

	out := make([]Binding, 0, len(h.bindings))
	for _, b := range h.bindings {
		out = append(out, b.view())
	}
	return out
}

// Rejected lists the binding attempts this installation lost
func (h *Handle) Rejected() []Rejection {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return slices.Clone(h.rejected)
}

// Deferred reports how many candidate types are waiting on a precondition
func (h *Handle) Deferred() int {
	h.registry.mu.RLock()
	defer h.registry.mu.RUnlock()
	return len(h.deferred)
}
