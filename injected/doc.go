// Package injected lets interceptors attach opaque state to instrumented
// instances and read it back from unrelated call sites on the same instance.
//
// Types that can be widened embed Slot and so implement Carrier. Types that
// cannot get a Table, keyed by instance identity through weak pointers. In
// both cases the association never extends the instance's lifetime, and a
// missing entry is an expected state that readers must handle.
package injected
