package reinstall

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/mmate-instrument/contracts"
)

// ErrUnknownPlugin is returned by StaticCatalog for names it does not hold
var ErrUnknownPlugin = errors.New("reinstall: unknown plugin")

// Catalog resolves plugin names into plugins, preserving the requested order
type Catalog interface {
	Plugins(ctx context.Context, names []string) ([]contracts.Plugin, error)
}

// CatalogFunc is a function adapter for Catalog
type CatalogFunc func(ctx context.Context, names []string) ([]contracts.Plugin, error)

// Plugins implements Catalog
func (f CatalogFunc) Plugins(ctx context.Context, names []string) ([]contracts.Plugin, error) {
	return f(ctx, names)
}

// StaticCatalog serves a fixed set of plugins by name
type StaticCatalog struct {
	plugins map[string]contracts.Plugin
}

// NewStaticCatalog creates a catalog holding plugins. A later plugin with the
// same name replaces an earlier one.
func NewStaticCatalog(plugins ...contracts.Plugin) *StaticCatalog {
	c := &StaticCatalog{plugins: make(map[string]contracts.Plugin, len(plugins))}
	for _, p := range plugins {
		c.plugins[p.Name] = p
	}
	return c
}

// Plugins implements Catalog
func (c *StaticCatalog) Plugins(ctx context.Context, names []string) ([]contracts.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]contracts.Plugin, 0, len(names))
	var errs []error
	for _, name := range names {
		p, ok := c.plugins[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPlugin, name))
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// WithDebug returns a catalog that turns on precondition diagnostics for
// every descriptor of the named plugins.
func WithDebug(catalog Catalog, names ...string) Catalog {
	if len(names) == 0 {
		return catalog
	}
	debug := make(map[string]bool, len(names))
	for _, n := range names {
		debug[n] = true
	}
	return CatalogFunc(func(ctx context.Context, requested []string) ([]contracts.Plugin, error) {
		plugins, err := catalog.Plugins(ctx, requested)
		for i, p := range plugins {
			if !debug[p.Name] {
				continue
			}
			descriptors := make([]contracts.Descriptor, len(p.Descriptors))
			for j, d := range p.Descriptors {
				descriptors[j] = d.WithDebugEnabled()
			}
			p.Descriptors = descriptors
			plugins[i] = p
		}
		return plugins, err
	})
}
