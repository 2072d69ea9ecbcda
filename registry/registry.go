package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/glimte/mmate-instrument/contracts"
	"github.com/glimte/mmate-instrument/interceptors"
	"github.com/glimte/mmate-instrument/precondition"
	"github.com/google/uuid"
)

// Evaluator decides whether plugins and descriptors may attach to a candidate
type Evaluator interface {
	Evaluate(p contracts.Precondition, req precondition.Request) bool
}

// Option configures the Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithSink sets where installation and hook diagnostics are reported
func WithSink(sink contracts.DiagnosticSink) Option {
	return func(r *Registry) {
		r.sink = sink
	}
}

// Registry holds every active descriptor binding. The first installation to
// bind an operation owns it until uninstalled.
type Registry struct {
	backend   contracts.Backend
	evaluator Evaluator
	logger    *slog.Logger
	sink      contracts.DiagnosticSink

	mu          sync.RWMutex
	handles     []*Handle
	owners      map[string]*binding
	unsubscribe func()
	closed      bool
}

// New creates a registry installing through backend
func New(backend contracts.Backend, evaluator Evaluator, opts ...Option) (*Registry, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	r := &Registry{
		backend:   backend,
		evaluator: evaluator,
		logger:    slog.Default(),
		owners:    make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes to type-load events so installations follow code as it
// loads. Calling Start twice is a no-op.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.unsubscribe != nil {
		return nil
	}
	r.unsubscribe = r.backend.OnTypeLoaded(r.typeLoaded)
	return nil
}

// Close stops following type loads and uninstalls every active handle
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	handles := slices.Clone(r.handles)
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	for _, h := range handles {
		if err := r.Uninstall(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Install attaches the plugins' descriptors to every matching type loaded so
// far, and to matching types loaded later once Start has run. The handle is
// returned even when some descriptors failed; the error joins one
// *contracts.InstallError per failure.
func (r *Registry) Install(ctx context.Context, plugins ...contracts.Plugin) (*Handle, error) {
	h := &Handle{
		id:       uuid.New().String(),
		registry: r,
		seen:     make(map[string]struct{}),
		deferred: make(map[string]contracts.TypeInfo),
		active:   true,
	}

	var errs []error
	for _, p := range plugins {
		ip := &installedPlugin{plugin: p}
		for _, d := range p.Descriptors {
			id, err := identify(p.Name, d)
			if err == nil {
				err = d.Validate()
			}
			if err != nil {
				errs = append(errs, &contracts.InstallError{Provider: p.Name, Descriptor: id.key, Err: err})
				continue
			}
			ip.descriptors = append(ip.descriptors, id)
		}
		h.plugins = append(h.plugins, ip)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	r.handles = append(r.handles, h)

	for _, info := range r.backend.LoadedTypes() {
		errs = append(errs, r.attachSafe(ctx, h, info)...)
	}
	for _, err := range errs {
		if errors.Is(err, ErrPluginPanic) {
			r.attachFailed(h, err)
		}
	}

	r.logger.Info("installed plugins",
		"handle", h.id,
		"plugins", strings.Join(h.Plugins(), ","),
		"bindings", len(h.bindings),
		"deferred", len(h.deferred),
		"rejected", len(h.rejected),
	)
	return h, errors.Join(errs...)
}

// Uninstall reverts every binding the handle owns. Unknown, nil and already
// uninstalled handles are a no-op, as are bindings the backend already lost.
func (r *Registry) Uninstall(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := slices.Index(r.handles, h)
	if idx < 0 {
		return nil
	}
	r.handles = slices.Delete(r.handles, idx, idx+1)
	h.active = false

	var errs []error
	for _, b := range h.bindings {
		if r.owners[b.target.Key()] == b {
			delete(r.owners, b.target.Key())
		}
		err := r.backend.Revert(ctx, b.receipt)
		if err == nil || errors.Is(err, contracts.ErrNotBound) {
			continue
		}
		r.logger.Error("failed to revert binding",
			"handle", h.id,
			"provider", b.owner.provider,
			"descriptor", b.owner.key,
			"target", b.target.String(),
			"realm", b.target.Realm,
			"error", err,
		)
		r.report(contracts.DiagnosticRevertFailed, contracts.StageUninstall, b.owner, b.target, "revert failed", err)
		errs = append(errs, fmt.Errorf("revert %s in %s: %w", b.target, b.target.Realm, err))
	}
	h.bindings = nil
	clear(h.deferred)

	r.logger.Info("uninstalled plugins", "handle", h.id, "plugins", strings.Join(h.Plugins(), ","))
	return errors.Join(errs...)
}

// Lookup reports which installation owns target
func (r *Registry) Lookup(target contracts.Target) (Binding, bool) {
	target = contracts.NewTarget(target.Realm, target.TypeName, target.Operation)

	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.owners[target.Key()]
	if !ok {
		return Binding{}, false
	}
	return b.view(), true
}

// Bindings lists every active binding ordered by target
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.owners))
	for k := range r.owners {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]Binding, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.owners[k].view())
	}
	return out
}

// Active returns the number of installed handles
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// typeLoaded attaches every active installation to a newly visible type and
// retries candidates in the same realm that were waiting on a precondition.
func (r *Registry) typeLoaded(info contracts.TypeInfo) {
	ctx := context.Background()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	for _, h := range r.handles {
		errs := r.attachSafe(ctx, h, info)

		var retry []contracts.TypeInfo
		for key, waiting := range h.deferred {
			if waiting.Realm.Normalize() == info.Realm.Normalize() && key != typeKey(info) {
				retry = append(retry, waiting)
			}
		}
		slices.SortFunc(retry, func(a, b contracts.TypeInfo) int {
			return strings.Compare(a.Name, b.Name)
		})
		for _, waiting := range retry {
			errs = append(errs, r.attachSafe(ctx, h, waiting)...)
		}

		for _, err := range errs {
			r.attachFailed(h, err)
		}
	}
}

// attachFailed logs an attach error and reports it as a splice failure.
func (r *Registry) attachFailed(h *Handle, err error) {
	var ie *contracts.InstallError
	if !errors.As(err, &ie) {
		r.logger.Error("failed to attach interceptor", "handle", h.id, "error", err)
		return
	}
	r.logger.Error("failed to attach interceptor",
		"handle", h.id,
		"provider", ie.Provider,
		"descriptor", ie.Descriptor,
		"target", ie.Target.String(),
		"realm", ie.Target.Realm,
		"error", ie.Err,
	)
	owner := r.descriptorByKey(h, ie.Provider, ie.Descriptor)
	if owner == nil {
		owner = &installedDescriptor{provider: ie.Provider, key: ie.Descriptor}
	}
	r.report(contracts.DiagnosticSpliceFailed, contracts.StageInstall, owner, ie.Target, "splice failed", ie.Err)
}

// attachSafe runs attach and turns a panic escaping plugin code into an
// install error for the candidate. Must hold r.mu.
func (r *Registry) attachSafe(ctx context.Context, h *Handle, info contracts.TypeInfo) (errs []error) {
	defer func() {
		if v := recover(); v != nil {
			target := contracts.NewTarget(info.Realm, info.Name, contracts.OperationInfo{})
			errs = append(errs, &contracts.InstallError{Target: target, Err: fmt.Errorf("%w: %v", ErrPluginPanic, v)})
		}
	}()
	return r.attach(ctx, h, info)
}

// attach evaluates h against one candidate type. Must hold r.mu.
func (r *Registry) attach(ctx context.Context, h *Handle, info contracts.TypeInfo) []error {
	info.Realm = info.Realm.Normalize()
	waiting := false

	var errs []error
	for _, p := range h.plugins {
		var matching []*installedDescriptor
		debug := false
		for _, d := range p.descriptors {
			if d.descriptor.TypeName() == info.Name {
				matching = append(matching, d)
				debug = debug || d.descriptor.Debug()
			}
		}
		if len(matching) == 0 {
			continue
		}

		allowed, err := r.evaluate(h, p.plugin.Precondition, precondition.Request{
			Provider:  p.plugin.Name,
			Realm:     info.Realm,
			Candidate: info,
			Debug:     debug,
		})
		if err != nil {
			errs = append(errs, r.panicked(h, p.plugin.Name, "", info, err)...)
			continue
		}
		if !allowed {
			waiting = true
			continue
		}

		for _, d := range matching {
			allowed, err := r.evaluate(h, d.descriptor.Precondition(), precondition.Request{
				Provider:   d.provider,
				Descriptor: d.key,
				Realm:      info.Realm,
				Candidate:  info,
				Debug:      d.descriptor.Debug(),
			})
			if err != nil {
				errs = append(errs, r.panicked(h, d.provider, d.key, info, err)...)
				continue
			}
			if !allowed {
				waiting = true
				continue
			}
			for _, op := range info.Operations {
				if !d.descriptor.Selector().Matches(op) {
					continue
				}
				if err := r.bind(ctx, h, d, info, op); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	if waiting {
		h.deferred[typeKey(info)] = info
	} else {
		delete(h.deferred, typeKey(info))
	}
	return errs
}

// evaluate runs one precondition with plugin panics returned as errors.
// Diagnostics are forwarded once per handle. Must hold r.mu.
func (r *Registry) evaluate(h *Handle, pre contracts.Precondition, req precondition.Request) (ok bool, err error) {
	if r.evaluator == nil || pre == nil {
		return true, nil
	}
	req.Reported = func(key string) bool {
		key = "precondition|" + key
		if _, done := h.seen[key]; done {
			return true
		}
		h.seen[key] = struct{}{}
		return false
	}

	defer func() {
		if v := recover(); v != nil {
			ok, err = false, fmt.Errorf("%w: precondition: %v", ErrPluginPanic, v)
		}
	}()
	return r.evaluator.Evaluate(pre, req), nil
}

// panicked returns the install error for a precondition that panicked on
// info, once per handle. The candidate is not retried for it.
func (r *Registry) panicked(h *Handle, provider, key string, info contracts.TypeInfo, err error) []error {
	seenKey := "panic|" + typeKey(info) + "@" + provider + "|" + key
	if _, done := h.seen[seenKey]; done {
		return nil
	}
	h.seen[seenKey] = struct{}{}
	target := contracts.NewTarget(info.Realm, info.Name, contracts.OperationInfo{})
	return []error{&contracts.InstallError{Provider: provider, Descriptor: key, Target: target, Err: err}}
}

// bind splices one operation unless someone already owns it. Must hold r.mu.
func (r *Registry) bind(ctx context.Context, h *Handle, d *installedDescriptor, info contracts.TypeInfo, op contracts.OperationInfo) error {
	target := contracts.NewTarget(info.Realm, info.Name, op)
	key := target.Key()

	if owner, ok := r.owners[key]; ok {
		if owner.owner == d {
			return nil
		}
		r.reject(h, d, target, owner)
		return nil
	}

	attemptKey := key + "@" + d.key
	entry := interceptors.NewEntryPoint(info, op, d.descriptor.Interceptor(),
		interceptors.WithLogger(r.logger),
		interceptors.WithSink(r.sink),
		interceptors.WithProvider(d.provider),
		interceptors.WithDescriptor(d.key),
		interceptors.WithInterceptorName(d.name),
	)
	receipt, err := r.backend.Splice(ctx, target, entry)
	if err != nil {
		// A descriptor that failed on a target is not retried by later events.
		if _, failed := h.seen[attemptKey]; failed {
			return nil
		}
		h.seen[attemptKey] = struct{}{}
		return &contracts.InstallError{Provider: d.provider, Descriptor: d.key, Target: target, Err: err}
	}

	b := &binding{handle: h, owner: d, target: target, receipt: receipt}
	r.owners[key] = b
	h.bindings = append(h.bindings, b)

	r.logger.Debug("interceptor bound",
		"handle", h.id,
		"provider", d.provider,
		"descriptor", d.key,
		"interceptor", d.name,
		"target", target.String(),
		"realm", target.Realm,
	)
	return nil
}

// reject records a lost binding conflict once per descriptor and target.
func (r *Registry) reject(h *Handle, d *installedDescriptor, target contracts.Target, owner *binding) {
	rejectKey := "conflict|" + target.Key() + "@" + d.key
	if _, done := h.seen[rejectKey]; done {
		return
	}
	h.seen[rejectKey] = struct{}{}

	err := fmt.Errorf("%w: %s in %s is owned by %s", contracts.ErrBindingConflict, target, target.Realm, owner.owner.key)
	h.rejected = append(h.rejected, Rejection{
		Provider:   d.provider,
		Descriptor: d.key,
		Target:     target,
		Owner:      owner.owner.key,
		Err:        err,
	})

	r.logger.Warn("binding conflict, keeping existing binding",
		"handle", h.id,
		"provider", d.provider,
		"descriptor", d.key,
		"owner", owner.owner.key,
		"ownerHandle", owner.handle.id,
		"target", target.String(),
		"realm", target.Realm,
	)
	r.report(contracts.DiagnosticBindingConflict, contracts.StageInstall, d, target, "binding conflict", err)
}

func (r *Registry) report(kind contracts.DiagnosticKind, stage contracts.Stage, d *installedDescriptor, target contracts.Target, message string, err error) {
	if r.sink == nil {
		return
	}
	diag := contracts.NewDiagnostic(kind, message)
	diag.Stage = stage
	diag.Realm = target.Realm
	diag.TargetType = target.TypeName
	diag.Operation = target.Operation.Signature()
	if d != nil {
		diag.Provider = d.provider
		diag.Descriptor = d.key
		diag.Interceptor = d.name
	}
	if err != nil {
		diag.Error = err.Error()
	}
	r.sink.Emit(diag)
}

func (r *Registry) descriptorByKey(h *Handle, provider, key string) *installedDescriptor {
	for _, p := range h.plugins {
		for _, d := range p.descriptors {
			if d.provider == provider && d.key == key {
				return d
			}
		}
	}
	return nil
}

// identify resolves a descriptor's key and interceptor name. Both run plugin
// code, so a panic becomes an error and the key falls back to the target.
func identify(provider string, d contracts.Descriptor) (id *installedDescriptor, err error) {
	id = &installedDescriptor{provider: provider, descriptor: d}
	defer func() {
		if v := recover(); v != nil {
			if id.key == "" {
				id.key = d.TypeName() + "." + d.Selector().String()
			}
			err = fmt.Errorf("%w: descriptor identity: %v", ErrPluginPanic, v)
		}
	}()
	id.key = d.Key()
	if i := d.Interceptor(); i != nil {
		id.name = i.Name()
	}
	return id, nil
}

func typeKey(info contracts.TypeInfo) string {
	return info.Realm.Normalize().String() + "|" + info.Name
}
