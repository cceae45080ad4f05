// Package mission owns the device's main loop: scan cycles, upload timing,
// the storage trap, and failure escalation. It is the only package that
// decides when anything runs; everything else just does its one job when
// asked.
package mission

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"ziggy-agent/internal/config"
	"ziggy-agent/internal/notify"
	"ziggy-agent/internal/upload"
)

// SettingsSource yields the current tunables. config.Store satisfies it.
type SettingsSource interface {
	Current() config.Settings
}

// Uploader runs one network session and reports how it went.
type Uploader interface {
	Run(ctx context.Context, critical bool) upload.Outcome
}

// ScanCycler runs BLE scan windows.
type ScanCycler interface {
	Cycle(ctx context.Context, dur time.Duration) (int, error)
	RatePerMinute() float64
}

// Storage is the ledger surface the controller consults for its policy
// decisions.
type Storage interface {
	UsageFraction() float64
	PendingCount() int
}

// Controller sequences the mission. All state lives here, not in package
// globals, so tests can build as many controllers as they like.
type Controller struct {
	settings SettingsSource
	uploader Uploader
	scanner  ScanCycler
	storage  Storage
	notifier notify.Notifier

	// restart hands control back to the supervisor. It must not return.
	restart func()
	// trigger delivers manual upload requests (button, signal). May be nil.
	trigger <-chan struct{}

	freeRAM func() (uint64, error)
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)

	fails      int
	lastUpload time.Time
	inTrap     bool
}

// Options carries the controller's collaborators. Restart is mandatory;
// Trigger and Notifier are optional.
type Options struct {
	Settings SettingsSource
	Uploader Uploader
	Scanner  ScanCycler
	Storage  Storage
	Notifier notify.Notifier
	Restart  func()
	Trigger  <-chan struct{}
}

func New(opts Options) *Controller {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Controller{
		settings: opts.Settings,
		uploader: opts.Uploader,
		scanner:  opts.Scanner,
		storage:  opts.Storage,
		notifier: notifier,
		restart:  opts.Restart,
		trigger:  opts.Trigger,
		freeRAM: func() (uint64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run drives the mission until ctx is canceled. A panic anywhere in the
// loop is a defect, but a dead device in the field is worse: log it and
// restart rather than exit.
func (c *Controller) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mission: panic, restarting", "panic", r)
			c.notifier.Event(notify.CodeError, "mission panic")
			c.restart()
		}
	}()

	// The upload timer starts at boot, not at the first upload.
	c.lastUpload = c.now()

	// Boot & Blast: a backlog at startup means the last run ended with
	// chunks stranded on disk. Push them before the first scan widens the
	// hole.
	if n := c.storage.PendingCount(); n > 0 {
		slog.Info("mission: clearing boot backlog", "pending", n)
		c.runSession(ctx, false)
	}

	for ctx.Err() == nil {
		c.iterate(ctx)
		c.idle(ctx)
	}
	slog.Info("mission: stopped")
	c.notifier.Event(notify.CodeOff, "shutdown")
}

// iterate is one pass of the mission loop, split out so tests can step the
// controller without real time.
func (c *Controller) iterate(ctx context.Context) {
	st := c.settings.Current()

	if c.fails >= st.MaxConsecutiveFail {
		slog.Error("mission: consecutive upload failures at ceiling, restarting", "fails", c.fails)
		c.notifier.Event(notify.CodeError, "upload failure ceiling")
		c.restart()
		return
	}

	if usage := c.storage.UsageFraction(); usage >= st.StorageCriticalPct {
		c.drainStorage(ctx, st, usage)
		return
	}

	if c.uploadDue(st) {
		c.notifier.Event(notify.CodeUpload, "scheduled upload")
		c.runSession(ctx, false)
		if ctx.Err() != nil {
			return
		}
	}

	dur := time.Duration(st.ScanDurationMS) * time.Millisecond
	if _, err := c.scanner.Cycle(ctx, dur); err != nil {
		slog.Warn("mission: scan cycle failed", "error", err)
		c.notifier.Event(notify.CodeError, "scan cycle failed")
	}

	c.notifier.Status(notify.Status{
		Mode:             c.mode(),
		StorageFraction:  c.storage.UsageFraction(),
		RecordsPerMinute: c.scanner.RatePerMinute(),
		FailCount:        c.fails,
	})
}

// uploadDue applies the buffer-and-burst policy: the interval must have
// elapsed AND enough chunks must be waiting to make a radio wake-up worth
// its power cost. Low memory overrides the batch floor; holding records in
// a tight heap is worse than a small upload.
func (c *Controller) uploadDue(st config.Settings) bool {
	if c.now().Sub(c.lastUpload) < time.Duration(st.UploadIntervalS)*time.Second {
		return false
	}
	if c.storage.PendingCount() >= st.MinUploadBatch {
		return true
	}
	if free, err := c.freeRAM(); err == nil && free < st.MinSafeRAM {
		slog.Warn("mission: low memory, uploading below batch floor", "free", free)
		return true
	}
	return false
}

// drainStorage is the storage trap: above the critical watermark the device
// stops scanning entirely and runs back-to-back critical sessions until
// usage falls below the resume watermark. Failed sessions back off
// exponentially so a dead uplink does not turn into a radio-thrashing loop.
func (c *Controller) drainStorage(ctx context.Context, st config.Settings, usage float64) {
	if !c.inTrap {
		slog.Warn("mission: storage critical, scanning suspended",
			"usage", usage, "resume_below", st.StorageResumePct)
		c.notifier.Event(notify.CodeError, "storage critical")
		c.inTrap = true
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(st.LoopIntervalS) * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil && c.storage.UsageFraction() >= st.StorageResumePct {
		out := c.runSession(ctx, true)
		if c.fails >= st.MaxConsecutiveFail {
			// Let the next iterate hit the ceiling and restart.
			return
		}
		if out.Failed {
			c.sleep(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()
	}

	if ctx.Err() == nil {
		slog.Info("mission: storage recovered, scanning resumed", "usage", c.storage.UsageFraction())
		c.inTrap = false
	}
}

// runSession executes one upload session and applies the escalation policy:
// any progress clears the failure streak, then a failed session counts
// against the new streak. A session that uploads some chunks and then dies
// therefore lands at one failure, not streak+1.
func (c *Controller) runSession(ctx context.Context, critical bool) upload.Outcome {
	out := c.uploader.Run(ctx, critical)
	if out.Uploaded > 0 {
		c.fails = 0
	}
	if out.Failed {
		c.fails++
		slog.Warn("mission: session failed", "uploaded", out.Uploaded, "fails", c.fails)
	}
	c.lastUpload = c.now()
	return out
}

// idle waits out the loop interval, cutting it short for shutdown or a
// manual upload trigger.
func (c *Controller) idle(ctx context.Context) {
	st := c.settings.Current()
	t := time.NewTimer(time.Duration(st.LoopIntervalS) * time.Second)
	defer t.Stop()

	if c.trigger == nil {
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		return
	}
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-c.trigger:
		slog.Info("mission: manual upload triggered")
		c.notifier.Event(notify.CodeUpload, "manual trigger")
		c.runSession(ctx, true)
	}
}

func (c *Controller) mode() string {
	if c.inTrap {
		return "critical"
	}
	return "scan"
}
