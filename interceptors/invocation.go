package interceptors

import (
	"time"

	"github.com/glimte/mmate-instrument/contracts"
)

// Invocation carries the facts of one intercepted method call between the
// enter and leave hooks. A fresh Invocation is built for every call and is
// owned by that call alone; do not retain it after the leave hook returns.
type Invocation struct {
	typ      contracts.TypeInfo
	op       contracts.OperationInfo
	instance any
	args     []any

	returnValue any
	returned    bool
	err         error
	panicValue  any
	panicked    bool

	start time.Time
	cost  time.Duration
	end   time.Time

	userContext any

	// unobserved lists filters whose inner enter did not run for this call.
	unobserved []*FilteringInterceptor
}

func newInvocation(typ contracts.TypeInfo, op contracts.OperationInfo, instance any, args []any) *Invocation {
	return &Invocation{
		typ:      typ,
		op:       op,
		instance: instance,
		args:     args,
	}
}

// NewInvocation builds a detached invocation, for driving hooks in tests.
func NewInvocation(typ contracts.TypeInfo, op contracts.OperationInfo, instance any, args ...any) *Invocation {
	return newInvocation(typ, op, instance, args)
}

// Type returns the intercepted type
func (inv *Invocation) Type() contracts.TypeInfo { return inv.typ }

// Operation returns the intercepted operation
func (inv *Invocation) Operation() contracts.OperationInfo { return inv.op }

// Instance returns the receiver, nil for static operations
func (inv *Invocation) Instance() any { return inv.instance }

// Args returns the argument slice. Changes made by the enter hook are seen
// by the real operation.
func (inv *Invocation) Args() []any { return inv.args }

// Arg returns argument i, or nil when out of range
func (inv *Invocation) Arg(i int) any {
	if i < 0 || i >= len(inv.args) {
		return nil
	}
	return inv.args[i]
}

// SetArg rewrites argument i. It reports false when i is out of range.
func (inv *Invocation) SetArg(i int, v any) bool {
	if i < 0 || i >= len(inv.args) {
		return false
	}
	inv.args[i] = v
	return true
}

// ReturnValue returns the real operation's result. ok is false when the
// operation failed or has not run yet.
func (inv *Invocation) ReturnValue() (value any, ok bool) {
	return inv.returnValue, inv.returned
}

// Err returns the error the real operation returned
func (inv *Invocation) Err() error { return inv.err }

// Panic returns the value the real operation panicked with
func (inv *Invocation) Panic() (value any, ok bool) {
	return inv.panicValue, inv.panicked
}

// Failed reports whether the real operation returned an error or panicked
func (inv *Invocation) Failed() bool {
	return inv.err != nil || inv.panicked
}

// StartTime is when the real call began
func (inv *Invocation) StartTime() time.Time { return inv.start }

// CostTime is how long the real call took
func (inv *Invocation) CostTime() time.Duration { return inv.cost }

// EndTime is when the real call returned
func (inv *Invocation) EndTime() time.Time { return inv.end }

// UserContext returns what the enter hook stored for the leave hook
func (inv *Invocation) UserContext() any { return inv.userContext }

// SetUserContext stores interceptor-private state for the leave hook
func (inv *Invocation) SetUserContext(v any) { inv.userContext = v }

func (inv *Invocation) markStart() {
	inv.start = time.Now()
}

func (inv *Invocation) markEnd() {
	inv.end = time.Now()
	inv.cost = inv.end.Sub(inv.start)
}

// setOutcome records the real result; it only takes effect once.
func (inv *Invocation) setOutcome(value any, err error) {
	if inv.returned || inv.err != nil || inv.panicked {
		return
	}
	if err != nil {
		inv.err = err
		return
	}
	inv.returnValue = value
	inv.returned = true
}

func (inv *Invocation) setPanic(v any) {
	if inv.returned || inv.err != nil || inv.panicked {
		return
	}
	inv.panicValue = v
	inv.panicked = true
}

// ConstructInvocation carries the facts of one completed construction
type ConstructInvocation struct {
	typ      contracts.TypeInfo
	op       contracts.OperationInfo
	instance any
	args     []any
}

// NewConstructInvocation builds a detached construct invocation, for tests.
func NewConstructInvocation(typ contracts.TypeInfo, op contracts.OperationInfo, instance any, args ...any) *ConstructInvocation {
	return &ConstructInvocation{typ: typ, op: op, instance: instance, args: args}
}

// Type returns the constructed type
func (inv *ConstructInvocation) Type() contracts.TypeInfo { return inv.typ }

// Operation returns the constructor
func (inv *ConstructInvocation) Operation() contracts.OperationInfo { return inv.op }

// Instance returns the newly constructed instance
func (inv *ConstructInvocation) Instance() any { return inv.instance }

// Args returns the constructor arguments
func (inv *ConstructInvocation) Args() []any { return inv.args }
