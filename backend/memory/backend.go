package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-instrument/contracts"
	"github.com/google/uuid"
)

var (
	// ErrTypeExists is returned when a type is defined twice in one realm
	ErrTypeExists = errors.New("memory: type already defined in realm")
	// ErrUnknownType is returned when calling into a type that is not defined
	ErrUnknownType = errors.New("memory: unknown type")
	// ErrUnknownOperation is returned when calling an operation the type lacks
	ErrUnknownOperation = errors.New("memory: unknown operation")
)

// MethodFunc is the body of a method. instance is nil for static methods.
type MethodFunc func(instance any, args []any) (any, error)

// ConstructorFunc builds a new instance
type ConstructorFunc func(args []any) (any, error)

// Method declares a method and its body
type Method struct {
	Info contracts.OperationInfo
	Fn   MethodFunc
}

// Constructor declares a constructor and its body
type Constructor struct {
	Params []string
	Fn     ConstructorFunc
}

// Type is a type definition loaded into a realm
type Type struct {
	Name         string
	Constructors []Constructor
	Methods      []Method
}

// Option configures the Backend
type Option func(*Backend)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Backend is an in-process instrumentation backend. Host code calls loaded
// operations through Call and Construct; spliced entry points run around them.
type Backend struct {
	mu           sync.RWMutex
	realms       map[contracts.Realm]map[string]*loadedType
	loaded       []*loadedType
	bindings     map[string]*operation
	listeners    map[int]func(contracts.TypeInfo)
	nextListener int
	logger       *slog.Logger
}

type loadedType struct {
	info contracts.TypeInfo
	ops  map[string]*operation
}

type operation struct {
	target    contracts.Target
	method    MethodFunc
	ctor      ConstructorFunc
	entry     atomic.Pointer[boundEntry]
	bindingID string
}

type boundEntry struct {
	method contracts.MethodEntry
	ctor   contracts.ConstructorEntry
}

// New creates an empty backend
func New(opts ...Option) *Backend {
	b := &Backend{
		realms:    make(map[contracts.Realm]map[string]*loadedType),
		bindings:  make(map[string]*operation),
		listeners: make(map[int]func(contracts.TypeInfo)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Define loads a type into a realm and notifies type-load listeners.
func (b *Backend) Define(realm contracts.Realm, t Type) (contracts.TypeInfo, error) {
	realm = realm.Normalize()
	if t.Name == "" {
		return contracts.TypeInfo{}, fmt.Errorf("memory: type name cannot be empty")
	}

	lt := &loadedType{
		info: contracts.TypeInfo{Name: t.Name, Realm: realm},
		ops:  make(map[string]*operation),
	}
	for _, c := range t.Constructors {
		info := contracts.NewConstructor(c.Params...)
		lt.info.Operations = append(lt.info.Operations, info)
		lt.ops[info.Signature()] = &operation{
			target: contracts.NewTarget(realm, t.Name, info),
			ctor:   c.Fn,
		}
	}
	for _, m := range t.Methods {
		info := m.Info
		info.Kind = contracts.KindMethod
		lt.info.Operations = append(lt.info.Operations, info)
		lt.ops[info.Signature()] = &operation{
			target: contracts.NewTarget(realm, t.Name, info),
			method: m.Fn,
		}
	}

	b.mu.Lock()
	types, ok := b.realms[realm]
	if !ok {
		types = make(map[string]*loadedType)
		b.realms[realm] = types
	}
	if _, exists := types[t.Name]; exists {
		b.mu.Unlock()
		return contracts.TypeInfo{}, fmt.Errorf("%w: %s in %s", ErrTypeExists, t.Name, realm)
	}
	types[t.Name] = lt
	b.loaded = append(b.loaded, lt)
	listeners := make([]func(contracts.TypeInfo), 0, len(b.listeners))
	for _, id := range b.listenerIDs() {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.Unlock()

	b.logger.Debug("type loaded", "realm", realm, "type", t.Name, "operations", len(lt.info.Operations))

	// Listeners run without the lock so they may splice.
	info := cloneInfo(lt.info)
	for _, fn := range listeners {
		fn(info)
	}
	return info, nil
}

// Call invokes a method through whatever entry point is bound to it.
func (b *Backend) Call(realm contracts.Realm, typeName, signature string, instance any, args ...any) (any, error) {
	op, err := b.operation(realm, typeName, signature)
	if err != nil {
		return nil, err
	}
	if op.method == nil {
		return nil, fmt.Errorf("%w: %s.%s is not a method", ErrUnknownOperation, typeName, signature)
	}

	original := func(a []any) (any, error) {
		return op.method(instance, a)
	}

	// The entry is loaded once so a concurrent revert cannot split this call.
	bound := op.entry.Load()
	if bound == nil || bound.method == nil {
		return original(args)
	}
	return bound.method.Invoke(instance, args, original)
}

// Construct runs the constructor with the given signature.
func (b *Backend) Construct(realm contracts.Realm, typeName, signature string, args ...any) (any, error) {
	op, err := b.operation(realm, typeName, signature)
	if err != nil {
		return nil, err
	}
	if op.ctor == nil {
		return nil, fmt.Errorf("%w: %s.%s is not a constructor", ErrUnknownOperation, typeName, signature)
	}

	bound := op.entry.Load()
	instance, err := op.ctor(args)
	if err != nil {
		return nil, err
	}
	if bound != nil && bound.ctor != nil {
		bound.ctor.Constructed(instance, args)
	}
	return instance, nil
}

// Splice implements contracts.Backend
func (b *Backend) Splice(ctx context.Context, target contracts.Target, entry contracts.EntryPoint) (contracts.Binding, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Binding{}, err
	}
	if entry == nil {
		return contracts.Binding{}, fmt.Errorf("%w: nil entry point", contracts.ErrEntryMismatch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	op, err := b.operationLocked(target.Realm, target.TypeName, target.Operation.Signature())
	if err != nil {
		return contracts.Binding{}, fmt.Errorf("%w: %s: %v", contracts.ErrUnknownTarget, target, err)
	}
	if op.bindingID != "" {
		return contracts.Binding{}, fmt.Errorf("%w: %s", contracts.ErrAlreadyBound, target)
	}

	bound := &boundEntry{}
	switch e := entry.(type) {
	case contracts.MethodEntry:
		if op.method == nil {
			return contracts.Binding{}, fmt.Errorf("%w: method entry on %s", contracts.ErrEntryMismatch, target)
		}
		bound.method = e
	case contracts.ConstructorEntry:
		if op.ctor == nil {
			return contracts.Binding{}, fmt.Errorf("%w: constructor entry on %s", contracts.ErrEntryMismatch, target)
		}
		bound.ctor = e
	default:
		return contracts.Binding{}, fmt.Errorf("%w: unsupported entry %T", contracts.ErrEntryMismatch, entry)
	}

	id := uuid.New().String()
	op.bindingID = id
	op.entry.Store(bound)
	b.bindings[id] = op

	return contracts.Binding{ID: id, Target: op.target}, nil
}

// Revert implements contracts.Backend
func (b *Backend) Revert(ctx context.Context, binding contracts.Binding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	op, ok := b.bindings[binding.ID]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrNotBound, binding.Target)
	}
	op.entry.Store(nil)
	op.bindingID = ""
	delete(b.bindings, binding.ID)
	return nil
}

// Detach removes whatever is spliced into target, bypassing its binding.
// It simulates an external party reverting a splice.
func (b *Backend) Detach(target contracts.Target) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	op, err := b.operationLocked(target.Realm, target.TypeName, target.Operation.Signature())
	if err != nil || op.bindingID == "" {
		return false
	}
	delete(b.bindings, op.bindingID)
	op.bindingID = ""
	op.entry.Store(nil)
	return true
}

// Bound reports whether an entry point is spliced into target
func (b *Backend) Bound(target contracts.Target) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	op, err := b.operationLocked(target.Realm, target.TypeName, target.Operation.Signature())
	return err == nil && op.bindingID != ""
}

// Bindings returns the number of active splices
func (b *Backend) Bindings() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bindings)
}

// OnTypeLoaded implements contracts.Backend
func (b *Backend) OnTypeLoaded(fn func(contracts.TypeInfo)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextListener
	b.nextListener++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// LoadedTypes implements contracts.Backend. Types are listed in load order.
func (b *Backend) LoadedTypes() []contracts.TypeInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]contracts.TypeInfo, 0, len(b.loaded))
	for _, lt := range b.loaded {
		out = append(out, cloneInfo(lt.info))
	}
	return out
}

// Scope implements contracts.Backend
func (b *Backend) Scope(realm contracts.Realm) (contracts.TypeScope, error) {
	return &scope{backend: b, realm: realm.Normalize()}, nil
}

type scope struct {
	backend *Backend
	realm   contracts.Realm
}

func (s *scope) Lookup(typeName string) (contracts.TypeInfo, bool, error) {
	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	lt, ok := s.backend.realms[s.realm][typeName]
	if !ok {
		return contracts.TypeInfo{}, false, nil
	}
	return cloneInfo(lt.info), true, nil
}

func (b *Backend) operation(realm contracts.Realm, typeName, signature string) (*operation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.operationLocked(realm, typeName, signature)
}

func (b *Backend) operationLocked(realm contracts.Realm, typeName, signature string) (*operation, error) {
	lt, ok := b.realms[realm.Normalize()][typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrUnknownType, typeName, realm.Normalize())
	}
	op, ok := lt.ops[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, typeName, signature)
	}
	return op, nil
}

func (b *Backend) listenerIDs() []int {
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func cloneInfo(info contracts.TypeInfo) contracts.TypeInfo {
	info.Operations = slices.Clone(info.Operations)
	return info
}
