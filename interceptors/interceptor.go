package interceptors

import (
	"log/slog"
	"time"

	"github.com/glimte/mmate-instrument/contracts"
)

// Decision is what an enter hook tells the dispatcher to do next
type Decision int

const (
	// Continue runs the real operation with timing and the leave stage.
	Continue Decision = iota
	// SkipLeave runs the real operation bare: no timing, no leave stage.
	SkipLeave
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case SkipLeave:
		return "skip_leave"
	default:
		return "unknown"
	}
}

// Interceptor is the base every interceptor implements
type Interceptor = contracts.Interceptor

// EnterHook runs before the real method call
type EnterHook interface {
	OnEnter(inv *Invocation) (Decision, error)
}

// LeaveHook runs after the real method call with the outcome filled in
type LeaveHook interface {
	OnLeave(inv *Invocation) error
}

// ConstructHook runs after an instance finished construction
type ConstructHook interface {
	OnConstruct(inv *ConstructInvocation) error
}

// hooks is the capability set of an interceptor, resolved once at build time.
// Missing hooks are no-ops.
type hooks struct {
	name      string
	enter     func(*Invocation) (Decision, error)
	leave     func(*Invocation) error
	construct func(*ConstructInvocation) error
}

// resolveHooks asks i for its Name only when name is empty.
func resolveHooks(i Interceptor, name string) hooks {
	if name == "" {
		name = i.Name()
	}
	h := hooks{
		name:      name,
		enter:     func(*Invocation) (Decision, error) { return Continue, nil },
		leave:     func(*Invocation) error { return nil },
		construct: func(*ConstructInvocation) error { return nil },
	}
	if e, ok := i.(EnterHook); ok {
		h.enter = e.OnEnter
	}
	if l, ok := i.(LeaveHook); ok {
		h.leave = l.OnLeave
	}
	if c, ok := i.(ConstructHook); ok {
		h.construct = c.OnConstruct
	}
	return h
}

// Funcs is a function-based interceptor. Nil hooks are no-ops.
type Funcs struct {
	InterceptorName string
	Enter           func(inv *Invocation) (Decision, error)
	Leave           func(inv *Invocation) error
	Construct       func(inv *ConstructInvocation) error
}

// Name implements Interceptor
func (f *Funcs) Name() string {
	return f.InterceptorName
}

// OnEnter implements EnterHook
func (f *Funcs) OnEnter(inv *Invocation) (Decision, error) {
	if f.Enter == nil {
		return Continue, nil
	}
	return f.Enter(inv)
}

// OnLeave implements LeaveHook
func (f *Funcs) OnLeave(inv *Invocation) error {
	if f.Leave == nil {
		return nil
	}
	return f.Leave(inv)
}

// OnConstruct implements ConstructHook
func (f *Funcs) OnConstruct(inv *ConstructInvocation) error {
	if f.Construct == nil {
		return nil
	}
	return f.Construct(inv)
}

// Built-in interceptors

// LoggingInterceptor logs intercepted calls with timing information
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// OnEnter implements EnterHook
func (i *LoggingInterceptor) OnEnter(inv *Invocation) (Decision, error) {
	i.logger.Debug("entering operation",
		"targetType", inv.Type().Name,
		"operation", inv.Operation().Signature(),
		"args", len(inv.Args()),
	)
	return Continue, nil
}

// OnLeave implements LeaveHook
func (i *LoggingInterceptor) OnLeave(inv *Invocation) error {
	if err := inv.Err(); err != nil {
		i.logger.Error("operation failed",
			"targetType", inv.Type().Name,
			"operation", inv.Operation().Signature(),
			"duration", inv.CostTime(),
			"error", err,
		)
		return nil
	}
	if p, panicked := inv.Panic(); panicked {
		i.logger.Error("operation panicked",
			"targetType", inv.Type().Name,
			"operation", inv.Operation().Signature(),
			"duration", inv.CostTime(),
			"panic", p,
		)
		return nil
	}

	i.logger.Debug("operation completed",
		"targetType", inv.Type().Name,
		"operation", inv.Operation().Signature(),
		"duration", inv.CostTime(),
	)
	return nil
}

// OnConstruct implements ConstructHook
func (i *LoggingInterceptor) OnConstruct(inv *ConstructInvocation) error {
	i.logger.Debug("instance constructed",
		"targetType", inv.Type().Name,
		"constructor", inv.Operation().Signature(),
	)
	return nil
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsCollector defines the interface for collecting call metrics
type MetricsCollector interface {
	IncrementCallCount(operation string)
	RecordCostTime(operation string, duration time.Duration)
	IncrementErrorCount(operation string, errorType string)
}

// MetricsInterceptor collects metrics about intercepted calls
type MetricsInterceptor struct {
	collector MetricsCollector
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// OnEnter implements EnterHook
func (i *MetricsInterceptor) OnEnter(inv *Invocation) (Decision, error) {
	i.collector.IncrementCallCount(operationKey(inv))
	return Continue, nil
}

// OnLeave implements LeaveHook
func (i *MetricsInterceptor) OnLeave(inv *Invocation) error {
	op := operationKey(inv)
	i.collector.RecordCostTime(op, inv.CostTime())

	if inv.Err() != nil {
		i.collector.IncrementErrorCount(op, "error")
	} else if _, panicked := inv.Panic(); panicked {
		i.collector.IncrementErrorCount(op, "panic")
	}
	return nil
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

func operationKey(inv *Invocation) string {
	return inv.Type().Name + "." + inv.Operation().Signature()
}
