package interceptors

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/glimte/mmate-instrument/contracts"
)

// HookPanicError wraps a panic raised by an interceptor hook
type HookPanicError struct {
	Value any
	Stack []byte
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("interceptor hook panicked: %v", e.Value)
}

// Option configures a dispatcher
type Option func(*dispatcher)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *dispatcher) {
		d.logger = logger
	}
}

// WithSink sets where hook failures are reported
func WithSink(sink contracts.DiagnosticSink) Option {
	return func(d *dispatcher) {
		d.sink = sink
	}
}

// WithProvider names the plugin the interceptor belongs to
func WithProvider(provider string) Option {
	return func(d *dispatcher) {
		d.provider = provider
	}
}

// WithDescriptor names the descriptor that produced the binding
func WithDescriptor(key string) Option {
	return func(d *dispatcher) {
		d.descriptor = key
	}
}

// WithInterceptorName reports the interceptor under name instead of asking
// it for its Name
func WithInterceptorName(name string) Option {
	return func(d *dispatcher) {
		d.name = name
	}
}

// dispatcher holds what both variants share: identity and failure reporting
type dispatcher struct {
	typ        contracts.TypeInfo
	op         contracts.OperationInfo
	hooks      hooks
	logger     *slog.Logger
	sink       contracts.DiagnosticSink
	provider   string
	descriptor string
	name       string
}

func newDispatcher(typ contracts.TypeInfo, op contracts.OperationInfo, interceptor Interceptor, opts []Option) dispatcher {
	d := dispatcher{
		typ:    typ,
		op:     op,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	d.hooks = resolveHooks(interceptor, d.name)
	return d
}

// hookFailed reports a contained hook failure
func (d *dispatcher) hookFailed(stage contracts.Stage, err error) {
	attrs := []any{
		"interceptor", d.hooks.name,
		"stage", stage,
		"targetType", d.typ.Name,
		"operation", d.op.Signature(),
		"realm", d.typ.Realm,
		"error", err,
	}
	var pe *HookPanicError
	if errors.As(err, &pe) {
		attrs = append(attrs, "stack", string(pe.Stack))
	}
	d.logger.Error("interceptor hook failed", attrs...)

	if d.sink == nil {
		return
	}
	diag := contracts.NewDiagnostic(contracts.DiagnosticHookFailed,
		fmt.Sprintf("%s failed in %s stage", d.hooks.name, stage))
	diag.Stage = stage
	diag.Provider = d.provider
	diag.Interceptor = d.hooks.name
	diag.Descriptor = d.descriptor
	diag.Realm = d.typ.Realm
	diag.TargetType = d.typ.Name
	diag.Operation = d.op.Signature()
	diag.Error = err.Error()
	d.sink.Emit(diag)
}

// MethodDispatcher runs an interceptor's enter and leave hooks around a method
type MethodDispatcher struct {
	dispatcher
}

// NewMethodDispatcher creates the entry point for one intercepted method
func NewMethodDispatcher(typ contracts.TypeInfo, op contracts.OperationInfo, interceptor Interceptor, opts ...Option) *MethodDispatcher {
	return &MethodDispatcher{dispatcher: newDispatcher(typ, op, interceptor, opts)}
}

// Kind implements contracts.EntryPoint
func (d *MethodDispatcher) Kind() contracts.OperationKind {
	return contracts.KindMethod
}

// Invoke implements contracts.MethodEntry. The caller always observes the real
// operation's outcome: hook failures are contained, and a panic from the real
// operation is re-raised with its original value after the leave stage.
func (d *MethodDispatcher) Invoke(instance any, args []any, call contracts.Callable) (any, error) {
	inv := newInvocation(d.typ, d.op, instance, args)

	if d.enter(inv) == SkipLeave {
		return call(inv.args)
	}

	inv.markStart()
	result, panicValue, panicked, err := invokeReal(call, inv.args)
	inv.markEnd()

	if panicked {
		inv.setPanic(panicValue)
	} else {
		inv.setOutcome(result, err)
	}

	d.leave(inv)

	if panicked {
		panic(panicValue)
	}
	return result, err
}

func invokeReal(call contracts.Callable, args []any) (result any, panicValue any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicValue = r
			panicked = true
		}
	}()
	result, err = call(args)
	return result, nil, false, err
}

func (d *MethodDispatcher) enter(inv *Invocation) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			d.hookFailed(contracts.StageEnter, &HookPanicError{Value: r, Stack: debug.Stack()})
			decision = Continue
		}
	}()

	var err error
	decision, err = d.hooks.enter(inv)
	if err != nil {
		d.hookFailed(contracts.StageEnter, err)
		return Continue
	}
	if decision != SkipLeave {
		return Continue
	}
	return SkipLeave
}

func (d *MethodDispatcher) leave(inv *Invocation) {
	defer func() {
		if r := recover(); r != nil {
			d.hookFailed(contracts.StageLeave, &HookPanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if err := d.hooks.leave(inv); err != nil {
		d.hookFailed(contracts.StageLeave, err)
	}
}

// ConstructorDispatcher runs an interceptor's construct hook once an instance
// has been built
type ConstructorDispatcher struct {
	dispatcher
}

// NewConstructorDispatcher creates the entry point for one intercepted constructor
func NewConstructorDispatcher(typ contracts.TypeInfo, op contracts.OperationInfo, interceptor Interceptor, opts ...Option) *ConstructorDispatcher {
	return &ConstructorDispatcher{dispatcher: newDispatcher(typ, op, interceptor, opts)}
}

// Kind implements contracts.EntryPoint
func (d *ConstructorDispatcher) Kind() contracts.OperationKind {
	return contracts.KindConstructor
}

// Constructed implements contracts.ConstructorEntry
func (d *ConstructorDispatcher) Constructed(instance any, args []any) {
	inv := &ConstructInvocation{typ: d.typ, op: d.op, instance: instance, args: args}

	defer func() {
		if r := recover(); r != nil {
			d.hookFailed(contracts.StageConstruct, &HookPanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	if err := d.hooks.construct(inv); err != nil {
		d.hookFailed(contracts.StageConstruct, err)
	}
}

// NewEntryPoint builds the dispatcher variant matching op's kind
func NewEntryPoint(typ contracts.TypeInfo, op contracts.OperationInfo, interceptor Interceptor, opts ...Option) contracts.EntryPoint {
	if op.Kind == contracts.KindConstructor {
		return NewConstructorDispatcher(typ, op, interceptor, opts...)
	}
	return NewMethodDispatcher(typ, op, interceptor, opts...)
}
