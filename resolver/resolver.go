package resolver

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/glimte/mmate-instrument/contracts"
)

// ScopeProvider hands out the per-realm introspection capability
type ScopeProvider interface {
	Scope(realm contracts.Realm) (contracts.TypeScope, error)
}

// Option configures the Resolver
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver caches one TypeScope per realm and answers type lookups against it.
// It is safe for concurrent use.
type Resolver struct {
	provider ScopeProvider
	logger   *slog.Logger
	realms   sync.Map // map[contracts.Realm]*realmEntry
}

// realmEntry is inserted before its scope exists; once guarantees a single
// Scope call per realm no matter how many goroutines race on LoadOrStore.
type realmEntry struct {
	once  sync.Once
	scope contracts.TypeScope
	err   error
	types sync.Map // map[string]contracts.TypeInfo, positive results only
}

// New creates a resolver backed by provider
func New(provider ScopeProvider, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve reports whether typeName is visible in realm. Malformed names and
// backend failures resolve to false.
func (r *Resolver) Resolve(realm contracts.Realm, typeName string) (contracts.TypeInfo, bool) {
	if !validTypeName(typeName) {
		return contracts.TypeInfo{}, false
	}
	realm = realm.Normalize()

	entry := r.entry(realm)
	if entry.err != nil {
		return contracts.TypeInfo{}, false
	}

	if cached, ok := entry.types.Load(typeName); ok {
		return cached.(contracts.TypeInfo), true
	}

	info, found, err := entry.scope.Lookup(typeName)
	if err != nil {
		r.logger.Debug("type lookup failed",
			"realm", realm,
			"type", typeName,
			"error", err,
		)
		return contracts.TypeInfo{}, false
	}
	if !found {
		return contracts.TypeInfo{}, false
	}

	info.Realm = realm
	entry.types.Store(typeName, info)
	return info, true
}

// Realms returns the number of realms with a cached scope
func (r *Resolver) Realms() int {
	n := 0
	r.realms.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Forget drops the cached scope of a realm, e.g. when the backend unloads it
func (r *Resolver) Forget(realm contracts.Realm) {
	r.realms.Delete(realm.Normalize())
}

func (r *Resolver) entry(realm contracts.Realm) *realmEntry {
	v, ok := r.realms.Load(realm)
	if !ok {
		v, _ = r.realms.LoadOrStore(realm, &realmEntry{})
	}
	entry := v.(*realmEntry)
	entry.once.Do(func() {
		entry.scope, entry.err = r.provider.Scope(realm)
		if entry.err == nil && entry.scope == nil {
			entry.err = errNilScope
		}
		if entry.err != nil {
			r.logger.Warn("realm scope unavailable",
				"realm", realm,
				"error", entry.err,
			)
		}
	})
	return entry
}

func validTypeName(name string) bool {
	if name == "" || strings.TrimSpace(name) != name {
		return false
	}
	for _, c := range name {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return false
		}
	}
	return true
}
