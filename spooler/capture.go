package spooler

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExitStatus is the status the capture exits with when it terminates the
// process itself.
const ExitStatus = 10

// Handler receives faults nobody else handled.
type Handler interface {
	HandleFault(f *Fault)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f *Fault)

func (fn HandlerFunc) HandleFault(f *Fault) { fn(f) }

// RuntimeHandler hands the fault back to the Go runtime by panicking again
// with the original value, which terminates the process.
type RuntimeHandler struct{}

func (RuntimeHandler) HandleFault(f *Fault) { panic(f.Value) }

// Registry is the process-wide fault handler slot. Besides the installed
// handler it remembers whether that handler is a Capture, so installing
// twice updates the existing capture instead of stacking a second one.
type Registry struct {
	mu      sync.Mutex
	handler Handler
	capture *Capture
	wrapped Handler
	exit    func(int)
}

// DefaultRegistry receives faults from the package-level Recover and Go.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry whose fallback is RuntimeHandler.
func NewRegistry() *Registry {
	return &Registry{exit: os.Exit}
}

// Handler returns the installed handler, RuntimeHandler when none is.
func (r *Registry) Handler() Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return RuntimeHandler{}
	}
	return r.handler
}

// SetHandler installs a foreign handler. A capture installed later wraps it.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
	r.capture = nil
	r.wrapped = nil
}

// Capture returns the installed capture, or nil.
func (r *Registry) Capture() *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capture
}

// Install makes a capture the process-wide handler. When a capture is
// already installed only its listener is replaced; the store, identifier and
// terminate mode chosen at first install stay fixed.
func (r *Registry) Install(cfg CaptureConfig) *Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture != nil {
		r.capture.SetListener(cfg.Listener)
		return r.capture
	}
	prev := r.handler
	if prev == nil {
		prev = RuntimeHandler{}
	}
	c := newCapture(cfg, prev, r.handler == nil, r.exit)
	r.wrapped = r.handler
	r.handler = c
	r.capture = c
	return c
}

// Uninstall restores the handler the capture wrapped.
func (r *Registry) Uninstall() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture == nil {
		return
	}
	r.handler = r.wrapped
	r.wrapped = nil
	r.capture = nil
}

// Dispatch hands f to the installed handler.
func (r *Registry) Dispatch(f *Fault) {
	r.Handler().HandleFault(f)
}

// Recover must be deferred directly at the root of a goroutine. It turns a
// panic into a fault for the installed handler.
func (r *Registry) Recover() {
	if v := recover(); v != nil {
		r.Dispatch(NewFault(v))
	}
}

// Go runs fn on a new goroutine guarded by Recover.
func (r *Registry) Go(fn func()) {
	go func() {
		defer r.Recover()
		fn()
	}()
}

// Recover is Registry.Recover on DefaultRegistry.
func Recover() {
	if v := recover(); v != nil {
		DefaultRegistry.Dispatch(NewFault(v))
	}
}

// Go is Registry.Go on DefaultRegistry.
func Go(fn func()) { DefaultRegistry.Go(fn) }

// CaptureConfig configures a capture. A nil Store means the storage location
// is unknown and faults go straight to the previous handler.
type CaptureConfig struct {
	Store         *RecordStore
	App           AppInfo
	Device        DeviceInfo
	AppIdentifier string
	Listener      Listener
	// TerminateOnFault exits with ExitStatus after persisting instead of
	// delegating to the previous handler.
	TerminateOnFault bool
	// OnPersisted runs after a fault was written, before delegation.
	OnPersisted func(Record)
	// OnRuntimeDelegate runs after a fault was written, right before it is
	// handed back to the Go runtime. It does not run when the previous
	// handler was installed with SetHandler.
	OnRuntimeDelegate func()
	Logger            *zap.Logger
	Metrics           *Metrics
	Now               func() time.Time
}

// Capture persists unhandled faults as records.
type Capture struct {
	cfg       CaptureConfig
	previous  Handler
	toRuntime bool
	exit      func(int)

	mu       sync.RWMutex
	listener Listener
}

func newCapture(cfg CaptureConfig, previous Handler, toRuntime bool, exit func(int)) *Capture {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Capture{cfg: cfg, previous: previous, toRuntime: toRuntime, exit: exit, listener: cfg.Listener}
}

// SetListener replaces the listener consulted on the next fault.
func (c *Capture) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Listener returns the current listener, possibly nil.
func (c *Capture) Listener() Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listener
}

// Terminates reports whether the capture exits the process itself.
func (c *Capture) Terminates() bool { return c.cfg.TerminateOnFault }

// HandleFault persists f and then either delegates or exits. Persisting
// never stops the fault from reaching one of the two.
func (c *Capture) HandleFault(f *Fault) {
	if c.cfg.Store == nil {
		c.previous.HandleFault(f)
		return
	}
	persisted := c.persist(f)
	if c.cfg.TerminateOnFault {
		c.exit(ExitStatus)
		return
	}
	if persisted && c.toRuntime && c.cfg.OnRuntimeDelegate != nil {
		c.cfg.OnRuntimeDelegate()
	}
	c.previous.HandleFault(f)
}

func (c *Capture) persist(f *Fault) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			c.cfg.Logger.Error("saving crash report panicked", zap.Any("panic", v))
			ok = false
		}
	}()
	now := f.Time
	if now.IsZero() {
		now = c.cfg.Now()
	}
	rec := buildRecord(f, c.cfg.App, c.cfg.Device, c.Listener(), c.cfg.AppIdentifier, now)
	c.cfg.Logger.Debug("writing unhandled fault", zap.String("record_id", rec.ID), zap.String("dir", c.cfg.Store.Dir()), zap.String("goroutine", f.Goroutine))
	if err := c.cfg.Store.Write(rec); err != nil {
		c.cfg.Logger.Error("saving crash report failed", zap.String("record_id", rec.ID), zap.Error(err))
		return false
	}
	c.cfg.Metrics.RecordsCaptured.Inc()
	if c.cfg.OnPersisted != nil {
		c.cfg.OnPersisted(rec)
	}
	return true
}

// buildRecord turns a fault into a record with a fresh id. Metadata comes
// from the listener; blank values are dropped by the store.
func buildRecord(f *Fault, app AppInfo, device DeviceInfo, l Listener, appID string, now time.Time) Record {
	rec := Record{
		ID:            uuid.NewString(),
		Trace:         FormatTrace(app, device, l, now, f.Text()),
		AppIdentifier: appID,
	}
	if l != nil {
		rec.UserID = l.UserID()
		rec.Contact = l.Contact()
		rec.Description = l.Description()
	}
	return rec
}
