package spooler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options carries the host capabilities a Manager consumes. Every field is
// optional.
type Options struct {
	// Prefs defaults to SQLPreferences on Config.SettingsDB when that is set.
	Prefs Preferences
	// Journal defaults to SQLJournal on the same database.
	Journal Journal
	// Dialog asks the user for consent. Nil leaves records that need consent
	// queued.
	Dialog Dialog
	// Poster defaults to an HTTPPoster built from Config.HTTP.
	Poster FormPoster
	// Registry defaults to DefaultRegistry.
	Registry *Registry
	// Listener defaults to the listener described by the configuration.
	Listener   Listener
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Manager owns the process-wide crash reporting state: the record store, the
// capture installed in a Registry, the uploader and the startup coordinator.
type Manager struct {
	cfg      *Config
	store    *RecordStore
	prefs    Preferences
	journal  Journal
	registry *Registry
	uploader *Uploader
	coord    *Coordinator
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	db       *gorm.DB
	crashOut *CrashOutput

	mu          sync.Mutex
	listener    Listener
	initialized bool

	handled sync.WaitGroup
}

// NewManager validates cfg and wires the components. Nothing is installed
// until Initialize.
func NewManager(cfg *Config, opts Options) (*Manager, error) {
	if cfg == nil {
		return nil, newInvalidConfig("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		prefs:    opts.Prefs,
		journal:  opts.Journal,
		registry: opts.Registry,
		logger:   opts.Logger,
		now:      opts.Now,
		listener: opts.Listener,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.registry == nil {
		m.registry = DefaultRegistry
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.listener == nil {
		m.listener = cfg.Listener()
	}
	m.metrics = NewMetrics(opts.Registerer)

	if cfg.StorageDir != "" {
		m.store = NewRecordStore(cfg.StorageDir, m.logger)
	}
	if cfg.SettingsDB != "" && (m.prefs == nil || m.journal == nil) {
		db, err := OpenDB(cfg.SettingsDB)
		if err != nil {
			// Preferences are optional; without them every record counts as new.
			m.logger.Warn("settings database unavailable", zap.String("path", cfg.SettingsDB), zap.Error(err))
		} else {
			m.db = db
			if m.prefs == nil {
				m.prefs = NewSQLPreferences(db)
			}
			if m.journal == nil {
				m.journal = NewSQLJournal(db)
			}
		}
	}

	poster := opts.Poster
	if poster == nil {
		poster = NewHTTPPoster(cfg.HTTP)
	}
	m.uploader = NewUploader(UploaderConfig{
		Store:         m.store,
		Poster:        poster,
		BaseURL:       cfg.BaseURL,
		AppIdentifier: cfg.AppIdentifier,
		SDKName:       cfg.SDKName,
		SDKVersion:    cfg.SDKVersion,
		Journal:       m.journal,
		Logger:        m.logger,
		Metrics:       m.metrics,
	})
	if m.store != nil {
		m.coord = NewCoordinator(CoordinatorConfig{
			Store:    m.store,
			Prefs:    m.prefs,
			Dialog:   opts.Dialog,
			Prompt:   cfg.Dialog,
			Uploader: m.uploader,
			Install:  m.install,
			Logger:   m.logger,
		})
	}
	return m, nil
}

func (m *Manager) Config() *Config          { return m.cfg }
func (m *Manager) Store() *RecordStore      { return m.store }
func (m *Manager) Uploader() *Uploader      { return m.uploader }
func (m *Manager) Preferences() Preferences { return m.prefs }
func (m *Manager) Journal() Journal         { return m.journal }
func (m *Manager) Registry() *Registry      { return m.registry }

// SetListener replaces the listener used by the capture and later campaigns.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	installed := m.initialized
	m.mu.Unlock()
	if installed {
		m.install(l)
	}
}

func (m *Manager) currentListener() Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener
}

// Initialize installs the capture and ingests what the runtime wrote to the
// crash output file during the previous run. It does not look at pending
// records; hosts with several entry points call it early and Execute once.
func (m *Manager) Initialize() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = true
	l := m.listener
	m.mu.Unlock()

	m.openCrashOutput()
	m.install(l)
}

// Execute evaluates the pending records and applies the startup policy.
func (m *Manager) Execute(ctx context.Context) Status {
	m.Initialize()
	l := m.currentListener()
	if m.coord == nil {
		m.logger.Debug("no storage directory, crash records are not kept")
		m.install(l)
		return StatusNone
	}
	return m.coord.Execute(ctx, l)
}

// Register is Initialize followed by Execute.
func (m *Manager) Register(ctx context.Context) Status {
	m.Initialize()
	return m.Execute(ctx)
}

// Evaluate classifies the pending records without acting on them.
func (m *Manager) Evaluate() Status {
	if m.coord == nil {
		return StatusNone
	}
	return m.coord.Evaluate()
}

// DeleteAll removes every pending record.
func (m *Manager) DeleteAll() int {
	if m.coord == nil {
		return 0
	}
	return m.coord.DeleteAll()
}

// SubmitPending starts a campaign over the pending records without asking.
func (m *Manager) SubmitPending(ctx context.Context) bool {
	if m.store == nil {
		return false
	}
	m.uploader.SetListener(m.currentListener())
	return m.uploader.RunCampaign(ctx)
}

// Drain runs one campaign on the calling goroutine.
func (m *Manager) Drain(ctx context.Context) (CampaignResult, bool) {
	if m.store == nil {
		return CampaignResult{}, false
	}
	m.uploader.SetListener(m.currentListener())
	return m.uploader.Drain(ctx)
}

// DrainConsented runs one campaign over the records that may be sent without
// asking. Records the user was not asked about stay queued.
func (m *Manager) DrainConsented(ctx context.Context) (CampaignResult, bool) {
	if m.coord == nil {
		return CampaignResult{}, false
	}
	return m.coord.DrainConsented(ctx, m.currentListener())
}

func (m *Manager) install(l Listener) {
	terminate := listenerOrBase(l).IgnoreDefaultHandler()
	m.registry.Install(CaptureConfig{
		Store:            m.store,
		App:              m.cfg.App,
		Device:           m.cfg.Device,
		AppIdentifier:    m.cfg.AppIdentifier,
		Listener:         l,
		TerminateOnFault: terminate,
		OnRuntimeDelegate: func() {
			if m.crashOut != nil {
				m.crashOut.Disable()
			}
		},
		Logger:  m.logger,
		Metrics: m.metrics,
		Now:     m.now,
	})
}

func (m *Manager) openCrashOutput() {
	if m.cfg.CrashOutput == "" || m.store == nil {
		return
	}
	out, err := OpenCrashOutput(m.cfg.CrashOutput)
	if err != nil {
		m.logger.Warn("crash output unavailable", zap.String("path", m.cfg.CrashOutput), zap.Error(err))
		return
	}
	text, when, err := out.Collect()
	if err != nil {
		m.logger.Warn("reading crash output failed", zap.Error(err))
	}
	if text != "" {
		rec := Record{
			ID:            uuid.NewString(),
			Trace:         FormatTrace(m.cfg.App, m.cfg.Device, m.currentListener(), when, text),
			AppIdentifier: m.cfg.AppIdentifier,
		}
		if err := m.store.Write(rec); err != nil {
			m.logger.Error("saving runtime crash output failed", zap.Error(err))
		} else {
			m.metrics.RecordsCaptured.Inc()
			m.logger.Debug("ingested runtime crash output", zap.String("record_id", rec.ID))
		}
	}
	if err := out.Enable(); err != nil {
		m.logger.Warn("enabling crash output failed", zap.Error(err))
		out.Close()
		return
	}
	m.crashOut = out
}

type uiContextKey struct{}

// WithUIContext marks ctx as belonging to a caller that must not block on
// network I/O.
func WithUIContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, uiContextKey{}, true)
}

// IsUIContext reports whether ctx was marked by WithUIContext.
func IsUIContext(ctx context.Context) bool {
	v, _ := ctx.Value(uiContextKey{}).(bool)
	return v
}

// ReportHandledFault sends a fault the application recovered from itself.
// When the upload fails the record is persisted for the next campaign and the
// call succeeds; the error is non-nil only when the report was lost. From a
// UI context the work moves to a goroutine and failures are only logged.
func (m *Manager) ReportHandledFault(ctx context.Context, f *Fault, meta Metadata) error {
	if f == nil {
		return errors.New("nil fault")
	}
	if f.Time.IsZero() {
		f.Time = m.now()
	}
	rec := buildRecord(f, m.cfg.App, m.cfg.Device, metadataListener{meta: meta}, m.cfg.CaughtAppIdentifier, f.Time)

	if IsUIContext(ctx) {
		m.handled.Add(1)
		go func() {
			defer m.handled.Done()
			if err := m.reportHandled(context.WithoutCancel(ctx), rec); err != nil {
				m.logger.Warn("reporting handled fault failed", zap.String("record_id", rec.ID), zap.Error(err))
			}
		}()
		return nil
	}
	return m.reportHandled(ctx, rec)
}

// ReportError is ReportHandledFault for an error value.
func (m *Manager) ReportError(ctx context.Context, err error, meta Metadata) error {
	return m.ReportHandledFault(ctx, NewFault(err), meta)
}

func (m *Manager) reportHandled(ctx context.Context, rec Record) error {
	sendErr := m.uploader.Transmit(ctx, rec)
	if sendErr == nil {
		m.metrics.RecordsSent.Inc()
		return nil
	}
	m.logger.Debug("handled fault not sent, persisting", zap.String("record_id", rec.ID), zap.Error(sendErr))
	if m.store == nil {
		return sendErr
	}
	if err := m.store.Write(rec); err != nil {
		return fmt.Errorf("persisting handled fault: %w", errors.Join(sendErr, err))
	}
	m.metrics.RecordsCaptured.Inc()
	return nil
}

// Wait blocks until running campaigns and asynchronous handled reports are
// done.
func (m *Manager) Wait() {
	m.handled.Wait()
	m.uploader.Wait()
}

// Close waits for outstanding work, removes the capture and releases files.
func (m *Manager) Close() error {
	m.Wait()
	m.registry.Uninstall()
	var errs []error
	if m.crashOut != nil {
		errs = append(errs, m.crashOut.Close())
	}
	if m.db != nil {
		errs = append(errs, CloseDB(m.db))
	}
	return errors.Join(errs...)
}
