package contracts

import (
	"time"

	"github.com/google/uuid"
)

// DiagnosticKind classifies a diagnostic
type DiagnosticKind string

const (
	DiagnosticHookFailed         DiagnosticKind = "hook_failed"
	DiagnosticPreconditionFailed DiagnosticKind = "precondition_failed"
	DiagnosticBindingConflict    DiagnosticKind = "binding_conflict"
	DiagnosticSpliceFailed       DiagnosticKind = "splice_failed"
	DiagnosticRevertFailed       DiagnosticKind = "revert_failed"
)

// Stage names the dispatch or installation phase a diagnostic came from
type Stage string

const (
	StageEnter     Stage = "enter"
	StageLeave     Stage = "leave"
	StageConstruct Stage = "construct"
	StageInstall   Stage = "install"
	StageUninstall Stage = "uninstall"
)

// Diagnostic is one event for the observability subsystem.
type Diagnostic struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Kind        DiagnosticKind `json:"kind"`
	Stage       Stage          `json:"stage,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Interceptor string         `json:"interceptor,omitempty"`
	Descriptor  string         `json:"descriptor,omitempty"`
	Realm       Realm          `json:"realm,omitempty"`
	TargetType  string         `json:"targetType,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	MissingType string         `json:"missingType,omitempty"`
	Message     string         `json:"message"`
	Error       string         `json:"error,omitempty"`
}

// NewDiagnostic stamps a diagnostic with an ID and the current time.
func NewDiagnostic(kind DiagnosticKind, message string) Diagnostic {
	return Diagnostic{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
	}
}

// DiagnosticSink consumes diagnostics. Emit is called on application
// goroutines from inside dispatch and must not block.
type DiagnosticSink interface {
	Emit(d Diagnostic)
}

// DiagnosticSinkFunc is a function adapter for DiagnosticSink
type DiagnosticSinkFunc func(d Diagnostic)

// Emit implements DiagnosticSink
func (f DiagnosticSinkFunc) Emit(d Diagnostic) {
	f(d)
}
