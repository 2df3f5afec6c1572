package spooler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// UploaderConfig wires an Uploader. Journal and Metrics are optional.
type UploaderConfig struct {
	Store  *RecordStore
	Poster FormPoster
	// BaseURL of the collector, e.g. https://rink.hockeyapp.net/.
	BaseURL string
	// AppIdentifier is used for records that did not store their own.
	AppIdentifier string
	SDKName       string
	SDKVersion    string
	Journal       Journal
	Logger        *zap.Logger
	Metrics       *Metrics
}

// CampaignResult counts the outcomes of one campaign.
type CampaignResult struct {
	Sent    int
	NotSent int
	Skipped int
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeNotSent
	outcomeSkipped
)

// Uploader transmits pending records one at a time and deletes each only
// after its transmission succeeded. At most one campaign runs at a time.
type Uploader struct {
	cfg  UploaderConfig
	gate *semaphore.Weighted
	wg   sync.WaitGroup

	mu       sync.RWMutex
	listener Listener
}

func NewUploader(cfg UploaderConfig) *Uploader {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Uploader{cfg: cfg, gate: semaphore.NewWeighted(1)}
}

// SetListener sets the listener notified after each record.
func (u *Uploader) SetListener(l Listener) {
	u.mu.Lock()
	u.listener = l
	u.mu.Unlock()
}

func (u *Uploader) currentListener() Listener {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return listenerOrBase(u.listener)
}

// RunCampaign starts a campaign on its own goroutine and returns true, or
// returns false without doing anything when a campaign is already running.
// The campaign is not cancelled with ctx; it drains the records pending when
// it starts.
func (u *Uploader) RunCampaign(ctx context.Context) bool {
	if !u.gate.TryAcquire(1) {
		u.cfg.Metrics.CampaignsRefused.Inc()
		u.cfg.Logger.Debug("campaign already running")
		return false
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer u.gate.Release(1)
		u.campaign(context.WithoutCancel(ctx), nil)
	}()
	return true
}

// Drain runs one campaign on the calling goroutine. ok is false when another
// campaign was already running.
func (u *Uploader) Drain(ctx context.Context) (res CampaignResult, ok bool) {
	return u.DrainMatching(ctx, nil)
}

// DrainMatching is Drain restricted to the pending ids keep accepts. A nil
// keep accepts every id.
func (u *Uploader) DrainMatching(ctx context.Context, keep func(id string) bool) (res CampaignResult, ok bool) {
	if !u.gate.TryAcquire(1) {
		u.cfg.Metrics.CampaignsRefused.Inc()
		return CampaignResult{}, false
	}
	defer u.gate.Release(1)
	return u.campaign(ctx, keep), true
}

// Wait blocks until campaigns started by RunCampaign have finished.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

func (u *Uploader) campaign(ctx context.Context, keep func(string) bool) CampaignResult {
	var res CampaignResult
	u.cfg.Metrics.Campaigns.Inc()
	start := time.Now()

	ids, err := u.cfg.Store.ListPending()
	if err != nil {
		u.cfg.Logger.Warn("listing crash records failed", zap.Error(err))
		return res
	}
	u.cfg.Metrics.PendingRecords.Set(float64(len(ids)))
	if keep != nil {
		kept := ids[:0]
		for _, id := range ids {
			if keep(id) {
				kept = append(kept, id)
			}
		}
		ids = kept
	}
	if len(ids) > 0 {
		u.cfg.Logger.Debug("found crash records", zap.Int("count", len(ids)))
	}

	l := u.currentListener()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		switch u.submitRecord(ctx, id) {
		case outcomeSent:
			res.Sent++
			u.cfg.Metrics.RecordsSent.Inc()
			l.OnCrashesSent()
		case outcomeNotSent:
			res.NotSent++
			u.cfg.Metrics.RecordsNotSent.Inc()
			l.OnCrashesNotSent()
		case outcomeSkipped:
			res.Skipped++
			u.cfg.Metrics.RecordsSkipped.Inc()
		}
	}
	u.cfg.Logger.Debug("campaign done",
		zap.Int("sent", res.Sent), zap.Int("not_sent", res.NotSent), zap.Int("skipped", res.Skipped),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

func (u *Uploader) submitRecord(ctx context.Context, id string) (out outcome) {
	defer func() {
		if v := recover(); v != nil {
			u.cfg.Logger.Error("submitting crash record panicked", zap.String("record_id", id), zap.Any("panic", v))
			out = outcomeNotSent
		}
	}()

	rec, err := u.cfg.Store.Read(id)
	if IsCode(err, CodeRecordCorrupt) {
		u.cfg.Logger.Debug("skipping crash record without trace", zap.String("record_id", id))
		return outcomeSkipped
	}
	if err != nil {
		u.cfg.Logger.Warn("reading crash record failed", zap.String("record_id", id), zap.Error(err))
		return outcomeNotSent
	}

	if err := u.Transmit(ctx, rec); err != nil {
		u.cfg.Logger.Debug("transmission failed, will retry on next campaign", zap.String("record_id", id), zap.Error(err))
		return outcomeNotSent
	}
	u.cfg.Logger.Debug("transmission succeeded", zap.String("record_id", id))
	if err := u.cfg.Store.Delete(id); err != nil {
		u.cfg.Logger.Warn("deleting sent crash record failed", zap.String("record_id", id), zap.Error(err))
	}
	return outcomeSent
}

// Transmit posts one record without touching the store. The returned error
// is a TRANSPORT_FAILURE.
func (u *Uploader) Transmit(ctx context.Context, rec Record) error {
	appID := strings.TrimSpace(rec.AppIdentifier)
	if appID == "" {
		appID = u.cfg.AppIdentifier
	}
	if appID == "" {
		return newTransportFailure(u.cfg.BaseURL, fmt.Errorf("no app identifier for record %s", rec.ID))
	}
	target := CrashesURL(u.cfg.BaseURL, appID)
	fields := url.Values{
		"raw":         {rec.Trace},
		"userID":      {rec.UserID},
		"contact":     {rec.Contact},
		"description": {rec.Description},
		"sdk":         {u.cfg.SDKName},
		"sdk_version": {u.cfg.SDKVersion},
	}

	err := u.cfg.Poster.PostForm(ctx, target, fields)
	u.journal(rec, appID, err)
	if err != nil {
		return newTransportFailure(target, err)
	}
	return nil
}

func (u *Uploader) journal(rec Record, appID string, sendErr error) {
	if u.cfg.Journal == nil {
		return
	}
	a := SubmissionAttempt{
		RecordID:      rec.ID,
		AppIdentifier: appID,
		Fingerprint:   TraceFingerprint(rec.Trace),
		Sent:          sendErr == nil,
		AttemptedAt:   time.Now().UTC(),
	}
	if sendErr != nil {
		a.SendError = sendErr.Error()
	}
	if err := u.cfg.Journal.RecordAttempt(a); err != nil {
		u.cfg.Logger.Warn("journaling submission failed", zap.String("record_id", rec.ID), zap.Error(err))
	}
}
