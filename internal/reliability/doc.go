// Package reliability guards outbound delivery of diagnostics.
//
// The circuit breaker stops a sink from hammering a broker that is down:
// after a run of failures every attempt is rejected until a cool-down has
// passed, then a limited number of probes decide whether to close again.
//
//	cb := NewCircuitBreaker(
//	    WithName("diagnostics"),
//	    WithFailureThreshold(5),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return publish(ctx, payload)
//	})
package reliability
