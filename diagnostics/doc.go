// Package diagnostics provides contracts.DiagnosticSink implementations:
// a structured-log sink, a fan-out combinator and a bounded recorder of
// recent diagnostics for plugin authors.
package diagnostics
