package reinstall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-instrument/contracts"
	"github.com/glimte/mmate-instrument/registry"
)

var (
	// ErrAlreadyRunning is returned by Start when polling is active
	ErrAlreadyRunning = errors.New("reinstall: already running")
	// ErrNoSource is returned by Start without a NameSource
	ErrNoSource = errors.New("reinstall: no name source configured")
)

// Installer is the part of the registry the reinstaller drives
type Installer interface {
	Install(ctx context.Context, plugins ...contracts.Plugin) (*registry.Handle, error)
	Uninstall(ctx context.Context, h *registry.Handle) error
}

// NameSource reports the plugin names that should be installed right now
type NameSource interface {
	Names(ctx context.Context) ([]string, error)
}

// NameSourceFunc is a function adapter for NameSource
type NameSourceFunc func(ctx context.Context) ([]string, error)

// Names implements NameSource
func (f NameSourceFunc) Names(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// Option configures the Reinstaller
type Option func(*Reinstaller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reinstaller) {
		r.logger = logger
	}
}

// WithPolling makes Start poll source every interval. Non-positive
// intervals keep the default.
func WithPolling(source NameSource, interval time.Duration) Option {
	return func(r *Reinstaller) {
		r.source = source
		if interval > 0 {
			r.interval = interval
		}
	}
}

// Reinstaller converges the installed plugin set onto a named set that may
// change at runtime. Each change detaches the current installation and
// installs the newly resolved plugins.
type Reinstaller struct {
	installer Installer
	catalog   Catalog
	logger    *slog.Logger
	source    NameSource
	interval  time.Duration

	mu      sync.Mutex
	current *registry.Handle
	names   []string
	applied bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a reinstaller
func New(installer Installer, catalog Catalog, opts ...Option) *Reinstaller {
	r := &Reinstaller{
		installer: installer,
		catalog:   catalog,
		logger:    slog.Default(),
		interval:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply converges onto names. Nothing happens when the set of names is the
// one already applied. A catalog failure keeps the current installation.
// changed reports whether the installation was replaced.
func (r *Reinstaller) Apply(ctx context.Context, names []string) (changed bool, err error) {
	names = dedupe(names)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applied && sameSet(r.names, names) {
		return false, nil
	}

	var plugins []contracts.Plugin
	if len(names) > 0 {
		plugins, err = r.catalog.Plugins(ctx, names)
		if err != nil {
			r.logger.Error("failed to resolve plugins, keeping current installation",
				"plugins", names,
				"error", err,
			)
			return false, fmt.Errorf("resolve plugins: %w", err)
		}
	}

	var errs []error
	if r.current != nil {
		if err := r.installer.Uninstall(ctx, r.current); err != nil {
			r.logger.Warn("detach of previous installation incomplete", "handle", r.current.ID(), "error", err)
			errs = append(errs, err)
		}
		r.current = nil
	}

	if len(plugins) > 0 {
		h, err := r.installer.Install(ctx, plugins...)
		if err != nil {
			errs = append(errs, err)
		}
		r.current = h
	}
	r.names = names
	r.applied = true

	r.logger.Info("plugin set applied", "plugins", names)
	return true, errors.Join(errs...)
}

// Run applies every name set received on changes until ctx is done or the
// channel closes. Apply failures are logged and do not stop the loop.
func (r *Reinstaller) Run(ctx context.Context, changes <-chan []string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case names, ok := <-changes:
			if !ok {
				return nil
			}
			if _, err := r.Apply(ctx, names); err != nil {
				r.logger.Error("reinstall failed", "plugins", names, "error", err)
			}
		}
	}
}

// Start polls the configured NameSource in the background
func (r *Reinstaller) Start(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	r.logger.Info("starting plugin reinstaller", "interval", r.interval)
	go r.pollLoop(ctx, r.done)
	return nil
}

// Stop ends polling and waits for the loop to exit
func (r *Reinstaller) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	cancel, done := r.cancel, r.done
	r.runMu.Unlock()

	cancel()
	<-done
}

// Close stops polling and detaches the current installation
func (r *Reinstaller) Close(ctx context.Context) error {
	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	err := r.installer.Uninstall(ctx, r.current)
	r.current = nil
	r.names = nil
	r.applied = false
	return err
}

// Current returns the active installation, or nil
func (r *Reinstaller) Current() *registry.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Names returns the applied plugin names
func (r *Reinstaller) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.names)
}

func (r *Reinstaller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Reinstaller) poll(ctx context.Context) {
	names, err := r.source.Names(ctx)
	if err != nil {
		r.logger.Warn("failed to read plugin names", "error", err)
		return
	}
	if _, err := r.Apply(ctx, names); err != nil {
		r.logger.Error("reinstall failed", "plugins", names, "error", err)
	}
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}
