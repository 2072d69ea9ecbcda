package interceptors

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// CallFilter defines the interface for per-call filtering
type CallFilter interface {
	// ShouldObserve returns true if the call should run the wrapped hooks
	ShouldObserve(inv *Invocation) (bool, error)
}

// CallFilterFunc is a function adapter for CallFilter
type CallFilterFunc func(inv *Invocation) (bool, error)

// ShouldObserve implements CallFilter
func (f CallFilterFunc) ShouldObserve(inv *Invocation) (bool, error) {
	return f(inv)
}

// FilteringInterceptor runs the wrapped interceptor only for calls the filter
// accepts. Rejected calls return SkipLeave, so the real operation runs bare.
type FilteringInterceptor struct {
	filter CallFilter
	inner  hooks
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter CallFilter, interceptor Interceptor) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter: filter,
		inner:  resolveHooks(interceptor, ""),
	}
}

// OnEnter implements EnterHook
func (i *FilteringInterceptor) OnEnter(inv *Invocation) (Decision, error) {
	observe, err := i.filter.ShouldObserve(inv)
	if err != nil {
		inv.unobserved = append(inv.unobserved, i)
		return Continue, fmt.Errorf("filter error: %w", err)
	}
	if !observe {
		return SkipLeave, nil
	}
	return i.inner.enter(inv)
}

// OnLeave implements LeaveHook
// Calls whose filter failed skip the inner leave like they skipped its enter.
func (i *FilteringInterceptor) OnLeave(inv *Invocation) error {
	if slices.Contains(inv.unobserved, i) {
		return nil
	}
	return i.inner.leave(inv)
}

// OnConstruct implements ConstructHook. Constructions are never filtered.
func (i *FilteringInterceptor) OnConstruct(inv *ConstructInvocation) error {
	return i.inner.construct(inv)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor(" + i.inner.name + ")"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []CallFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...CallFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldObserve implements CallFilter - all filters must return true
func (f *CompositeFilter) ShouldObserve(inv *Invocation) (bool, error) {
	for _, filter := range f.filters {
		observe, err := filter.ShouldObserve(inv)
		if err != nil {
			return false, err
		}
		if !observe {
			return false, nil
		}
	}
	return true, nil
}

// SamplingFilter accepts one call out of every n
type SamplingFilter struct {
	n     uint64
	calls atomic.Uint64
}

// NewSamplingFilter creates a filter accepting every nth call. n <= 1 accepts all.
func NewSamplingFilter(n int) *SamplingFilter {
	if n < 1 {
		n = 1
	}
	return &SamplingFilter{n: uint64(n)}
}

// ShouldObserve implements CallFilter
func (f *SamplingFilter) ShouldObserve(*Invocation) (bool, error) {
	return (f.calls.Add(1)-1)%f.n == 0, nil
}

// InstanceFilter accepts calls whose receiver satisfies the predicate.
// Static calls are never accepted.
type InstanceFilter struct {
	accept func(instance any) bool
}

// NewInstanceFilter creates a receiver-based filter
func NewInstanceFilter(accept func(instance any) bool) *InstanceFilter {
	return &InstanceFilter{accept: accept}
}

// ShouldObserve implements CallFilter
func (f *InstanceFilter) ShouldObserve(inv *Invocation) (bool, error) {
	if inv.Instance() == nil {
		return false, nil
	}
	return f.accept(inv.Instance()), nil
}
