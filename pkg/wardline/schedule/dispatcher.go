package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardlinehq/wardline/pkg/wardline/store"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
)

// DispatcherConfig configures the dispatch tick.
type DispatcherConfig struct {
	// TickInterval is how often due jobs are collected (default 30s).
	TickInterval time.Duration `yaml:"tick_interval"`

	// BatchSize caps the jobs handled per tick (default 50).
	BatchSize int `yaml:"batch_size"`

	// StaleAfter is how long a job may sit in processing before the tick
	// reclaims it as failed (default 10m). Covers calls whose stream never
	// connected and whose status callback was lost.
	StaleAfter time.Duration `yaml:"stale_after"`

	// PublicURL is the externally reachable base URL of this server; the
	// telephony provider fetches the voice webhook and posts status
	// callbacks against it.
	PublicURL string `yaml:"public_url"`
}

// DefaultDispatcherConfig returns dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		TickInterval: 30 * time.Second,
		BatchSize:    50,
		StaleAfter:   10 * time.Minute,
	}
}

// Dispatcher claims due jobs and places the calls. Multiple instances can
// run against the same database: the claim is a storage-atomic conditional
// update, so each job is dispatched exactly once.
type Dispatcher struct {
	store     *store.Store
	scheduler *Scheduler
	provider  telephony.Provider
	cfg       DispatcherConfig
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(st *store.Store, sched *Scheduler, provider telephony.Provider, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultDispatcherConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Dispatcher{
		store:     st,
		scheduler: sched,
		provider:  provider,
		cfg:       cfg,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Start arms the tick loop. The first tick runs immediately so a restart
// does not wait a full interval before catching up on due jobs.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.cron = cron.New()
	spec := "@every " + d.cfg.TickInterval.String()
	if _, err := d.cron.AddFunc(spec, func() { d.safeTick(ctx) }); err != nil {
		return fmt.Errorf("dispatcher: arm tick %q: %w", spec, err)
	}
	d.cron.Start()
	go d.safeTick(ctx)

	d.logger.Info("dispatcher started", "tick_interval", d.cfg.TickInterval.String())
	return nil
}

// Stop halts the tick loop, waiting briefly for a running tick.
func (d *Dispatcher) Stop() {
	if d.cron == nil {
		return
	}
	stopped := d.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		d.logger.Warn("dispatcher stop timed out")
	}
	d.logger.Info("dispatcher stopped")
}

// safeTick isolates a panicking tick from the cron runner.
func (d *Dispatcher) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch tick panicked", "panic", r)
		}
	}()
	d.Tick(ctx, time.Now())
}

// Tick reclaims stalled jobs, seeds upcoming ones, then claims and
// dispatches every due job.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) {
	if n, err := d.store.FailStaleJobs(now.Add(-d.cfg.StaleAfter), "processing timed out"); err != nil {
		d.logger.Warn("reclaiming stale jobs failed", "error", err)
	} else if n > 0 {
		d.logger.Warn("reclaimed stale processing jobs", "count", n)
	}

	if _, err := d.scheduler.SeedUpcomingJobs(now); err != nil {
		d.logger.Warn("seeding upcoming jobs failed", "error", err)
	}

	jobs, err := d.store.DueJobs(now, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("collecting due jobs failed", "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		claimed, err := d.store.ClaimJob(job.ID)
		if err != nil {
			d.logger.Error("claim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			// Another instance got there first.
			continue
		}
		d.dispatch(ctx, job)
	}
}

// dispatch places the call for one claimed job. The job stays processing
// until the call session finalizes; initiation failures mark it failed and
// re-arm the schedule immediately.
func (d *Dispatcher) dispatch(ctx context.Context, job *store.Job) {
	logger := d.logger.With("job_id", job.ID, "schedule_id", job.ScheduleID)

	sched, err := d.store.GetSchedule(job.ScheduleID)
	if err != nil {
		d.failAndRearm(job, nil, "schedule lookup: "+err.Error())
		return
	}
	if !sched.Active {
		logger.Info("schedule deactivated, dropping job")
		if err := d.store.MarkJobFailed(job.ID, "schedule inactive"); err != nil {
			logger.Error("marking job failed", "error", err)
		}
		return
	}

	from, err := d.store.ActiveCallerNumber(sched.CompanyID)
	if err != nil {
		d.failAndRearm(job, sched, "no caller number: "+err.Error())
		return
	}

	contact, err := d.store.ResolveContact(sched.CompanyID, sched.PhoneNumber, sched.DisplayName)
	if err != nil {
		d.failAndRearm(job, sched, "contact resolution: "+err.Error())
		return
	}

	callSID, err := d.provider.CreateCall(ctx, telephony.CallRequest{
		From:              from,
		To:                sched.PhoneNumber,
		VoiceURL:          d.voiceURL(sched.ID, job.ID, contact.ID),
		StatusCallbackURL: d.statusURL(sched.ID, job.ID),
	})
	if err != nil {
		d.failAndRearm(job, sched, "call initiation: "+err.Error())
		return
	}

	if _, err := d.store.CreateCallLog(contact.ID, callSID, from, sched.PhoneNumber); err != nil {
		// The call is already in flight; a missing log line is not fatal.
		logger.Warn("recording call log failed", "error", err)
	}

	logger.Info("call placed",
		"call_sid", callSID,
		"to", sched.PhoneNumber,
		"attempt", job.Attempt,
	)
}

// failAndRearm marks the job failed and, when the schedule is known,
// immediately ensures its next occurrence.
func (d *Dispatcher) failAndRearm(job *store.Job, sched *store.Schedule, reason string) {
	d.logger.Warn("dispatch failed", "job_id", job.ID, "reason", reason)
	if err := d.store.MarkJobFailed(job.ID, reason); err != nil {
		d.logger.Error("marking job failed", "job_id", job.ID, "error", err)
		return
	}
	if sched == nil {
		return
	}
	if err := d.scheduler.EnsureNextJob(sched, time.Now()); err != nil {
		d.logger.Error("re-arming schedule failed", "schedule_id", sched.ID, "error", err)
	}
}

// voiceURL builds the webhook URL the provider fetches on connect. The
// query parameters identify the schedule, job and contact to the call
// engine, which echoes them into the media-stream custom parameters.
func (d *Dispatcher) voiceURL(scheduleID, jobID, contactID string) string {
	q := url.Values{}
	q.Set("scheduleId", scheduleID)
	q.Set("jobId", jobID)
	q.Set("contactId", contactID)
	return d.cfg.PublicURL + "/telephony/voice?" + q.Encode()
}

// statusURL builds the status callback URL. The job identifiers let the
// handler fail and re-arm jobs for calls that never connect.
func (d *Dispatcher) statusURL(scheduleID, jobID string) string {
	q := url.Values{}
	q.Set("scheduleId", scheduleID)
	q.Set("jobId", jobID)
	return d.cfg.PublicURL + "/telephony/status?" + q.Encode()
}
