// Package interceptors provides the per-call dispatch machinery of the engine.
//
// An interceptor is any value with a Name. It opts into the stages it cares
// about by implementing EnterHook, LeaveHook or ConstructHook; the stages it
// leaves out are no-ops. Capabilities are resolved once, when the dispatcher
// for a bound operation is built.
//
// Dispatchers:
//   - MethodDispatcher: enter hook, real call with timing, leave hook
//   - ConstructorDispatcher: construct hook after the instance exists
//
// A hook that returns an error or panics is logged and reported to the
// diagnostics sink; the real call still runs and its outcome reaches the
// caller untouched. An enter hook may return SkipLeave to run the real call
// without timing or a leave stage.
//
// Built-in interceptors:
//   - LoggingInterceptor: Logs calls with timing information
//   - MetricsInterceptor: Counts calls, errors and cost time
//   - TracingInterceptor: Opens an OpenTelemetry span per call
//   - FilteringInterceptor: Runs another interceptor only for accepted calls
//
// Example usage:
//
//	counter := &interceptors.Funcs{
//		InterceptorName: "counter",
//		Enter: func(inv *interceptors.Invocation) (interceptors.Decision, error) {
//			calls.Add(1)
//			return interceptors.Continue, nil
//		},
//		Leave: func(inv *interceptors.Invocation) error {
//			observe(inv.CostTime())
//			return nil
//		},
//	}
//
// State that the enter hook needs to hand to the leave hook of the same call
// goes through Invocation.SetUserContext; interceptor fields are shared by
// every concurrent call and need their own synchronisation.
package interceptors
