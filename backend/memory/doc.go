// Package memory is an in-process implementation of contracts.Backend.
//
// Types are defined into realms at runtime and called through Call and
// Construct. Whatever entry point is spliced into an operation runs around
// the real body, which makes the package suitable both for embedding the
// engine in Go programs that dispatch dynamically and for tests.
package memory
