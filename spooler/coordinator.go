package spooler

import (
	"context"

	"go.uber.org/zap"
)

// Status classifies the pending records at startup.
type Status int

const (
	// StatusNone: nothing pending.
	StatusNone Status = iota
	// StatusHasNew: at least one pending record the user was not asked about.
	StatusHasNew
	// StatusAllConfirmed: every pending record was already approved.
	StatusAllConfirmed
)

func (s Status) String() string {
	switch s {
	case StatusHasNew:
		return "HAS_NEW"
	case StatusAllConfirmed:
		return "ALL_CONFIRMED"
	default:
		return "NONE"
	}
}

// Coordinator decides once per startup what happens to pending records.
type Coordinator struct {
	store    *RecordStore
	prefs    Preferences
	dialog   Dialog
	prompt   Prompt
	uploader *Uploader
	install  func(Listener)
	logger   *zap.Logger
}

// CoordinatorConfig wires a Coordinator. Prefs and Dialog may be nil: without
// preferences every pending record counts as new and nothing is remembered,
// without a dialog records that need consent stay queued.
type CoordinatorConfig struct {
	Store    *RecordStore
	Prefs    Preferences
	Dialog   Dialog
	Prompt   Prompt
	Uploader *Uploader
	// Install installs or updates the fault capture with the listener.
	Install func(Listener)
	Logger  *zap.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Install == nil {
		cfg.Install = func(Listener) {}
	}
	return &Coordinator{
		store:    cfg.Store,
		prefs:    cfg.Prefs,
		dialog:   cfg.Dialog,
		prompt:   cfg.Prompt.withDefaults(),
		uploader: cfg.Uploader,
		install:  cfg.Install,
		logger:   cfg.Logger,
	}
}

// Evaluate compares the pending records with the confirmation set. When the
// set cannot be read the result is StatusHasNew, so the user is asked again
// rather than records being sent silently.
func (c *Coordinator) Evaluate() Status {
	pending := c.pending()
	if len(pending) == 0 {
		return StatusNone
	}
	confirmed, err := readConfirmed(c.prefs)
	if err != nil {
		c.logger.Debug("treating pending records as new", zap.Error(err))
		return StatusHasNew
	}
	for _, id := range pending {
		if _, ok := confirmed[id]; !ok {
			return StatusHasNew
		}
	}
	return StatusAllConfirmed
}

func (c *Coordinator) pending() []string {
	ids, err := c.store.ListPending()
	if err != nil {
		c.logger.Warn("listing crash records failed", zap.Error(err))
		return nil
	}
	return ids
}

// Execute applies the startup policy for Evaluate's result. The capture is
// installed on every path; with a dialog the decline and accept paths finish
// inside its callbacks.
func (c *Coordinator) Execute(ctx context.Context, l Listener) Status {
	listener := listenerOrBase(l)
	status := c.Evaluate()
	c.logger.Debug("evaluated crash records", zap.Stringer("status", status))

	switch status {
	case StatusHasNew:
		autoSend := c.alwaysSend()
		autoSend = listener.ShouldAutoUploadCrashes() || autoSend
		autoSend = listener.OnCrashesFound() || autoSend
		listener.OnNewCrashesFound()

		if autoSend {
			c.send(ctx, l)
		} else {
			c.ask(ctx, l)
		}
	case StatusAllConfirmed:
		listener.OnConfirmedCrashesFound()
		c.send(ctx, l)
	default:
		c.install(l)
	}
	return status
}

func (c *Coordinator) alwaysSend() bool {
	if c.prefs == nil {
		return false
	}
	v, err := c.prefs.Bool(KeyAlwaysSend)
	if err != nil {
		c.logger.Debug("reading always-send flag failed", zap.Error(err))
		return false
	}
	return v
}

func (c *Coordinator) ask(ctx context.Context, l Listener) {
	if c.dialog == nil {
		c.logger.Debug("no dialog available, crash records stay queued")
		c.install(l)
		return
	}
	c.dialog.Show(c.prompt, DialogCallbacks{
		OnDecline: func() {
			listenerOrBase(l).OnUserDeniedCrashes()
			c.DeleteAll()
			c.install(l)
		},
		OnAlwaysSend: func() {
			if c.prefs != nil {
				if err := c.prefs.SetBool(KeyAlwaysSend, true); err != nil {
					c.logger.Warn("saving always-send flag failed", zap.Error(err))
				}
			}
			c.send(ctx, l)
		},
		OnSend: func() {
			c.send(ctx, l)
		},
		OnDismiss: func() {
			c.logger.Debug("consent prompt got no answer, crash records stay queued")
			c.install(l)
		},
	})
}

// send records the pending ids as confirmed before the campaign starts, so a
// crash during upload does not ask the user again.
func (c *Coordinator) send(ctx context.Context, l Listener) {
	c.saveConfirmed()
	c.install(l)
	c.uploader.SetListener(l)
	c.uploader.RunCampaign(ctx)
}

func (c *Coordinator) saveConfirmed() {
	if c.prefs == nil {
		return
	}
	ids := c.pending()
	if err := writeConfirmed(c.prefs, ids); err != nil {
		c.logger.Warn("saving confirmed crash records failed", zap.Error(err))
	}
}

// DrainConsented runs one campaign over the records that may leave without
// asking: every pending record when always-send or auto-upload is on, the
// confirmed ones otherwise. New records are never sent here.
func (c *Coordinator) DrainConsented(ctx context.Context, l Listener) (CampaignResult, bool) {
	c.uploader.SetListener(l)
	if c.alwaysSend() || listenerOrBase(l).ShouldAutoUploadCrashes() {
		c.saveConfirmed()
		return c.uploader.Drain(ctx)
	}
	confirmed, err := readConfirmed(c.prefs)
	if err != nil {
		c.logger.Debug("no confirmed crash records to send", zap.Error(err))
		return CampaignResult{}, true
	}
	return c.uploader.DrainMatching(ctx, func(id string) bool {
		_, ok := confirmed[id]
		return ok
	})
}

// DeleteAll removes every pending record.
func (c *Coordinator) DeleteAll() int {
	n, err := c.store.DeleteAll()
	if err != nil {
		c.logger.Warn("deleting crash records failed", zap.Error(err))
	}
	c.logger.Debug("deleted crash records", zap.Int("count", n))
	return n
}
