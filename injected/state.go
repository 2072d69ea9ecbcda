package injected

import (
	"runtime"
	"sync"
	"weak"
)

// Carrier is implemented by instrumented types that carry their own slot.
type Carrier interface {
	InjectedState() any
	SetInjectedState(state any)
}

// Slot is an embeddable Carrier. The zero value is empty and ready to use.
type Slot struct {
	mu    sync.RWMutex
	state any
}

// InjectedState implements Carrier. A nil result is the normal "nothing
// injected yet" state.
func (s *Slot) InjectedState() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetInjectedState implements Carrier. Setting nil clears the slot.
func (s *Slot) SetInjectedState(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Table associates state with *T instances that cannot be widened with a
// Slot. Entries are keyed by instance identity, never keep the instance
// alive, and are dropped once the instance is collected.
type Table[T any] struct {
	mu      sync.RWMutex
	entries map[weak.Pointer[T]]*tableEntry
}

type tableEntry struct {
	state   any
	cleanup runtime.Cleanup
}

// NewTable creates an empty table
func NewTable[T any]() *Table[T] {
	return &Table[T]{entries: make(map[weak.Pointer[T]]*tableEntry)}
}

// Get returns the state attached to instance. ok is false when nothing is
// attached, which callers must treat as a normal outcome.
func (t *Table[T]) Get(instance *T) (state any, ok bool) {
	if instance == nil {
		return nil, false
	}
	key := weak.Make(instance)

	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Set attaches state to instance, replacing any previous state. Setting nil
// is the same as Clear.
func (t *Table[T]) Set(instance *T, state any) {
	if instance == nil {
		return
	}
	if state == nil {
		t.Clear(instance)
		return
	}
	key := weak.Make(instance)

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.state = state
		return
	}
	t.entries[key] = &tableEntry{
		state:   state,
		cleanup: runtime.AddCleanup(instance, t.release, key),
	}
}

// Clear detaches any state from instance
func (t *Table[T]) Clear(instance *T) {
	if instance == nil {
		return
	}
	key := weak.Make(instance)

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.cleanup.Stop()
		delete(t.entries, key)
	}
}

// Len returns the number of live entries
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Table[T]) release(key weak.Pointer[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Get reads the injected state of a Carrier. Values that are not Carriers
// never have state.
func Get(instance any) (any, bool) {
	c, ok := instance.(Carrier)
	if !ok || c == nil {
		return nil, false
	}
	state := c.InjectedState()
	return state, state != nil
}

// Set writes the injected state of a Carrier and reports whether instance
// could carry it.
func Set(instance any, state any) bool {
	c, ok := instance.(Carrier)
	if !ok || c == nil {
		return false
	}
	c.SetInjectedState(state)
	return true
}
