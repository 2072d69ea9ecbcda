package precondition

import (
	"log/slog"

	"github.com/glimte/mmate-instrument/contracts"
)

// Option configures the Evaluator
type Option func(*Evaluator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithSink sets where precondition diagnostics go
func WithSink(sink contracts.DiagnosticSink) Option {
	return func(e *Evaluator) {
		e.sink = sink
	}
}

// Request is one precondition evaluation for a candidate type
type Request struct {
	Provider string
	// Descriptor is the descriptor key; empty for plugin-wide preconditions.
	Descriptor string
	Realm      contracts.Realm
	Candidate  contracts.TypeInfo
	Debug      bool
	// Reported is asked before each diagnostic is forwarded and returns true
	// for keys it has already seen. Nil forwards everything.
	Reported func(key string) bool
}

// Evaluator decides per realm whether plugins and descriptors may attach
type Evaluator struct {
	resolver contracts.TypeResolver
	sink     contracts.DiagnosticSink
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator resolving types through resolver
func NewEvaluator(resolver contracts.TypeResolver, opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PluginAllowed evaluates the plugin-wide precondition for a candidate.
// debug enables diagnostics, normally because a descriptor asked for them.
func (e *Evaluator) PluginAllowed(plugin contracts.Plugin, realm contracts.Realm, candidate contracts.TypeInfo, debug bool) bool {
	return e.Evaluate(plugin.Precondition, Request{
		Provider:  plugin.Name,
		Realm:     realm,
		Candidate: candidate,
		Debug:     debug,
	})
}

// CanInstall evaluates the descriptor's precondition for a candidate type.
func (e *Evaluator) CanInstall(provider string, d contracts.Descriptor, realm contracts.Realm, candidate contracts.TypeInfo) bool {
	return e.Evaluate(d.Precondition(), Request{
		Provider:   provider,
		Descriptor: d.Key(),
		Realm:      realm,
		Candidate:  candidate,
		Debug:      d.Debug(),
	})
}

// Evaluate runs p for req. A nil precondition always passes.
func (e *Evaluator) Evaluate(p contracts.Precondition, req Request) bool {
	if p == nil {
		return true
	}

	in := contracts.PreconditionInput{
		Provider:  req.Provider,
		Realm:     req.Realm.Normalize(),
		Candidate: req.Candidate,
		Resolver:  e.resolver,
		Debug:     req.Debug,
	}
	if req.Debug {
		in.Sink = contracts.DiagnosticSinkFunc(func(d contracts.Diagnostic) {
			d.Descriptor = req.Descriptor
			if req.Reported != nil && req.Reported(reportKey(d)) {
				return
			}
			e.logger.Info("precondition not satisfied",
				"provider", d.Provider,
				"descriptor", req.Descriptor,
				"realm", d.Realm,
				"targetType", d.TargetType,
				"missingType", d.MissingType,
			)
			if e.sink != nil {
				e.sink.Emit(d)
			}
		})
	}

	ok := p.CanInstall(in)
	if !ok && req.Debug {
		e.logger.Debug("precondition rejected candidate",
			"provider", req.Provider,
			"descriptor", req.Descriptor,
			"realm", in.Realm,
			"targetType", req.Candidate.Name,
			"precondition", p.String(),
		)
	}
	return ok
}

func reportKey(d contracts.Diagnostic) string {
	return string(d.Kind) + "|" + d.Provider + "|" + d.Descriptor + "|" + d.Realm.String() + "|" + d.TargetType + "|" + d.MissingType
}
