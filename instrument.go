// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/glimte/mmate-instrument/contracts"
	"github.com/glimte/mmate-instrument/diagnostics"
	"github.com/glimte/mmate-instrument/precondition"
	"github.com/glimte/mmate-instrument/registry"
	"github.com/glimte/mmate-instrument/reinstall"
	"github.com/glimte/mmate-instrument/resolver"
	"github.com/glimte/mmate-instrument/transports/rabbitmq"
)

// Agent owns one interception engine: resolver, evaluator, registry,
// reinstaller and diagnostics sinks. Build it with New, Start it once and
// Close it on shutdown.
type Agent struct {
	cfg         Config
	logger      *slog.Logger
	backend     contracts.Backend
	resolver    *resolver.Resolver
	evaluator   *precondition.Evaluator
	registry    *registry.Registry
	reinstaller *reinstall.Reinstaller
	recorder    *diagnostics.Recorder
	publisher   *rabbitmq.DiagnosticsPublisher

	mu      sync.Mutex
	started bool
	closed  bool
}

type agentConfig struct {
	cfg      Config
	logger   *slog.Logger
	catalog  reinstall.Catalog
	source   reinstall.NameSource
	sinks    []contracts.DiagnosticSink
	amqp     rabbitmq.ChannelFactory
	amqpOpts []rabbitmq.PublisherOption
}

// Option configures the Agent
type Option func(*agentConfig)

// WithConfig replaces the default configuration
func WithConfig(cfg Config) Option {
	return func(c *agentConfig) {
		c.cfg = cfg
	}
}

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

// WithCatalog sets where plugin names are resolved
func WithCatalog(catalog reinstall.Catalog) Option {
	return func(c *agentConfig) {
		c.catalog = catalog
	}
}

// WithNameSource overrides where the reinstaller polls plugin names from.
// Polling runs only with a positive ReinstallInterval.
func WithNameSource(source reinstall.NameSource) Option {
	return func(c *agentConfig) {
		c.source = source
	}
}

// WithSink adds a diagnostics sink
func WithSink(sink contracts.DiagnosticSink) Option {
	return func(c *agentConfig) {
		c.sinks = append(c.sinks, sink)
	}
}

// WithDiagnosticsChannel ships diagnostics through factory instead of
// dialling DiagnosticsAMQPURL
func WithDiagnosticsChannel(factory rabbitmq.ChannelFactory, opts ...rabbitmq.PublisherOption) Option {
	return func(c *agentConfig) {
		c.amqp = factory
		c.amqpOpts = opts
	}
}

// New wires an agent around backend
func New(backend contracts.Backend, opts ...Option) (*Agent, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}

	c := &agentConfig{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &Agent{
		cfg:      c.cfg,
		logger:   c.logger,
		backend:  backend,
		recorder: diagnostics.NewRecorder(c.cfg.RecentDiagnostics),
	}

	factory := c.amqp
	if factory == nil && c.cfg.DiagnosticsAMQPURL != "" {
		factory = rabbitmq.DialChannel(c.cfg.DiagnosticsAMQPURL, c.cfg.DiagnosticsExchange)
	}
	if factory != nil {
		pubOpts := append([]rabbitmq.PublisherOption{
			rabbitmq.WithExchange(c.cfg.DiagnosticsExchange),
			rabbitmq.WithRoutingKey(c.cfg.DiagnosticsRoutingKey),
			rabbitmq.WithBufferSize(c.cfg.DiagnosticsBuffer),
			rabbitmq.WithLogger(c.logger),
		}, c.amqpOpts...)
		a.publisher = rabbitmq.NewDiagnosticsPublisher(factory, pubOpts...)
	}

	sinks := append([]contracts.DiagnosticSink{a.recorder}, c.sinks...)
	if a.publisher != nil {
		sinks = append(sinks, a.publisher)
	}
	sink := diagnostics.Multi(sinks...)

	a.resolver = resolver.New(backend, resolver.WithLogger(c.logger))
	a.evaluator = precondition.NewEvaluator(a.resolver,
		precondition.WithLogger(c.logger),
		precondition.WithSink(sink),
	)

	reg, err := registry.New(backend, a.evaluator,
		registry.WithLogger(c.logger),
		registry.WithSink(sink),
	)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	catalog := c.catalog
	if catalog == nil {
		catalog = reinstall.NewStaticCatalog()
	}
	reinstallOpts := []reinstall.Option{reinstall.WithLogger(c.logger)}
	if c.cfg.ReinstallInterval > 0 {
		source := c.source
		if source == nil {
			source = EnvNameSource()
		}
		reinstallOpts = append(reinstallOpts, reinstall.WithPolling(source, c.cfg.ReinstallInterval))
	}
	a.reinstaller = reinstall.New(reg, reinstall.WithDebug(catalog, c.cfg.DebugPlugins...), reinstallOpts...)

	return a, nil
}

// NewFromEnv loads the configuration from the environment and builds an
// agent logging JSON to stderr at the configured level. Later options win.
func NewFromEnv(backend contracts.Backend, opts ...Option) (*Agent, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	base := []Option{WithConfig(cfg), WithLogger(cfg.NewLogger(os.Stderr))}
	return New(backend, append(base, opts...)...)
}

// EnvNameSource re-reads MMATE_INSTRUMENT_PLUGINS on every poll
func EnvNameSource() reinstall.NameSource {
	return reinstall.NameSourceFunc(func(context.Context) ([]string, error) {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		return cfg.Plugins, nil
	})
}

// Start follows type loading, installs the configured plugins and starts
// background polling and publishing when configured. Installation failures
// of individual descriptors are returned but leave the agent running.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return registry.ErrClosed
	}
	if a.started {
		return nil
	}

	if a.publisher != nil {
		if err := a.publisher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start diagnostics publisher: %w", err)
		}
	}
	if err := a.registry.Start(); err != nil {
		return fmt.Errorf("failed to start registry: %w", err)
	}
	a.started = true

	var errs []error
	if len(a.cfg.Plugins) > 0 {
		if _, err := a.reinstaller.Apply(ctx, a.cfg.Plugins); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cfg.ReinstallInterval > 0 {
		if err := a.reinstaller.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("instrumentation agent started",
		"plugins", a.cfg.Plugins,
		"reinstallInterval", a.cfg.ReinstallInterval,
		"diagnosticsPublisher", a.publisher != nil,
	)
	return errors.Join(errs...)
}

// Install attaches plugins directly, outside the named plugin set
func (a *Agent) Install(ctx context.Context, plugins ...contracts.Plugin) (*registry.Handle, error) {
	return a.registry.Install(ctx, plugins...)
}

// Uninstall detaches a handle returned by Install
func (a *Agent) Uninstall(ctx context.Context, h *registry.Handle) error {
	return a.registry.Uninstall(ctx, h)
}

// Reinstall converges the named plugin set onto names
func (a *Agent) Reinstall(ctx context.Context, names []string) (bool, error) {
	return a.reinstaller.Apply(ctx, names)
}

// Registry exposes the binding registry
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

// Resolver exposes the per-realm type resolver
func (a *Agent) Resolver() *resolver.Resolver {
	return a.resolver
}

// RecentDiagnostics returns the most recent diagnostics, oldest first
func (a *Agent) RecentDiagnostics() []contracts.Diagnostic {
	return a.recorder.Recent()
}

// Close detaches every installation and stops background work
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if err := a.reinstaller.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reinstaller: %w", err))
	}
	if err := a.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("registry: %w", err))
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics publisher: %w", err))
		}
	}

	a.logger.Info("instrumentation agent stopped")
	return errors.Join(errs...)
}
