package diagnostics

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/glimte/mmate-instrument/contracts"
)

// Discard drops every diagnostic
var Discard contracts.DiagnosticSink = contracts.DiagnosticSinkFunc(func(contracts.Diagnostic) {})

// LogSink writes diagnostics as structured log records
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger, or slog.Default when nil
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit implements contracts.DiagnosticSink
func (s *LogSink) Emit(d contracts.Diagnostic) {
	attrs := []slog.Attr{
		slog.String("diagnosticId", d.ID),
		slog.String("kind", string(d.Kind)),
	}
	add := func(key, value string) {
		if value != "" {
			attrs = append(attrs, slog.String(key, value))
		}
	}
	add("stage", string(d.Stage))
	add("provider", d.Provider)
	add("interceptor", d.Interceptor)
	add("descriptor", d.Descriptor)
	add("realm", string(d.Realm))
	add("targetType", d.TargetType)
	add("operation", d.Operation)
	add("missingType", d.MissingType)
	add("error", d.Error)

	s.logger.LogAttrs(context.Background(), levelFor(d.Kind), d.Message, attrs...)
}

func levelFor(kind contracts.DiagnosticKind) slog.Level {
	switch kind {
	case contracts.DiagnosticPreconditionFailed:
		return slog.LevelInfo
	case contracts.DiagnosticBindingConflict:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Multi fans a diagnostic out to every non-nil sink in order
func Multi(sinks ...contracts.DiagnosticSink) contracts.DiagnosticSink {
	var active []contracts.DiagnosticSink
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	switch len(active) {
	case 0:
		return Discard
	case 1:
		return active[0]
	}
	return contracts.DiagnosticSinkFunc(func(d contracts.Diagnostic) {
		for _, s := range active {
			s.Emit(d)
		}
	})
}

// Recorder keeps the most recent diagnostics in a bounded ring
type Recorder struct {
	mu    sync.Mutex
	ring  []contracts.Diagnostic
	next  int
	full  bool
	total uint64
}

// NewRecorder creates a recorder holding up to capacity diagnostics.
// A capacity below one is raised to one.
func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{ring: make([]contracts.Diagnostic, capacity)}
}

// Emit implements contracts.DiagnosticSink
func (r *Recorder) Emit(d contracts.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = d
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns the retained diagnostics, oldest first
func (r *Recorder) Recent() []contracts.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return slices.Clone(r.ring[:r.next])
	}
	out := make([]contracts.Diagnostic, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

// Total returns how many diagnostics were ever emitted
func (r *Recorder) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
