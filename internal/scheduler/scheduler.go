package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"sonarboard/internal/client"
	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/logger"
	"sonarboard/internal/refresh"
	"sonarboard/internal/report"
	"sonarboard/internal/storage"
)

// System job IDs
const (
	JobIDDailyReport  = "daily_report"
	JobIDWeeklyReport = "weekly_report"
	JobIDAlertSweep   = "alert_sweep"
)

// tickInterval is the dispatch loop resolution
const tickInterval = time.Second

// Options configure the scheduler's fixed jobs and retry policy
type Options struct {
	DailyReportHour    int
	WeeklyReportDay    time.Weekday
	WeeklyReportHour   int
	AlertSweepInterval time.Duration
	ReportRetryDelay   time.Duration
	ReportRetryMax     int
	DefaultInterval    time.Duration
}

// jobEntry pairs a descriptor with its trigger and body. Entries are owned
// by the registry and only touched under the scheduler mutex. gen identifies
// the registration a run belongs to, so a completion from a replaced
// registration releases the running slot without touching the replacement's
// counters.
type jobEntry struct {
	desc    domain.JobDescriptor
	trigger Trigger
	run     func(ctx context.Context) error
	running bool
	gen     uint64
}

// Scheduler owns the job registry and the dispatch loop. Jobs fire on their
// own goroutines; at most one instance of a job runs at a time, and an
// overdue fire while a previous run is still going is recorded as missed.
type Scheduler struct {
	store  storage.Storage
	client client.Client
	runner *refresh.Runner
	engine *report.Engine
	mailer *report.Mailer
	opts   Options
	log    *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*jobEntry
	nextGen uint64
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time // swapped in tests
}

// New creates a scheduler
func New(store storage.Storage, c client.Client, runner *refresh.Runner, engine *report.Engine, mailer *report.Mailer, opts Options) *Scheduler {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = time.Hour
	}
	if opts.AlertSweepInterval <= 0 {
		opts.AlertSweepInterval = 4 * time.Hour
	}
	return &Scheduler{
		store:  store,
		client: c,
		runner: runner,
		engine: engine,
		mailer: mailer,
		opts:   opts,
		jobs:   make(map[string]*jobEntry),
		log:    logger.Default().WithField("component", "scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleRefresh registers (or re-registers) the periodic refresh job for
// an entity. Scheduling is idempotent: an existing job with the same ID is
// removed first, so repeated calls converge on one job with the latest
// interval.
func (s *Scheduler) ScheduleRefresh(entityType domain.EntityType, entityID string, interval time.Duration) string {
	if interval <= 0 {
		interval = s.opts.DefaultInterval
	}
	id := domain.RefreshJobID(entityType, entityID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &jobEntry{
		desc: domain.JobDescriptor{
			ID:         id,
			Kind:       domain.JobKindRefresh,
			EntityType: entityType,
			EntityID:   entityID,
			Interval:   interval,
			State:      domain.JobStateScheduled,
			CreatedAt:  now,
			NextRun:    now.Add(interval),
		},
		trigger: IntervalTrigger{Every: interval},
		run: func(ctx context.Context) error {
			summary := s.runner.Run(ctx, entityType, entityID)
			if !summary.Success {
				return apperrors.NewSchedulingError(summary.Message, nil)
			}
			return nil
		},
	}
	s.replaceEntry(id, entry)

	s.log.WithFields(map[string]interface{}{
		"job":      id,
		"interval": interval.String(),
	}).Info("refresh job scheduled")
	return id
}

// replaceEntry installs an entry under a fresh generation, inheriting the
// running slot from any prior registration with the same ID so the
// replacement cannot fire while the old run is still in flight. Callers hold
// the scheduler mutex.
func (s *Scheduler) replaceEntry(id string, entry *jobEntry) {
	s.nextGen++
	entry.gen = s.nextGen
	if prev, ok := s.jobs[id]; ok && prev.running {
		entry.running = true
		entry.desc.State = domain.JobStateRunning
	}
	s.jobs[id] = entry
}

// RemoveJob drops a job from the registry; removing an absent job is a no-op
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// TriggerNow moves a job's next fire time to the present
func (s *Scheduler) TriggerNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return apperrors.NewNotFoundError("job " + id)
	}
	entry.desc.NextRun = s.now()
	return nil
}

// registerSystemJob installs one of the fixed report/alert jobs
func (s *Scheduler) registerSystemJob(id string, kind domain.JobKind, trigger Trigger, run func(ctx context.Context) error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaceEntry(id, &jobEntry{
		desc: domain.JobDescriptor{
			ID:        id,
			Kind:      kind,
			State:     domain.JobStateScheduled,
			CreatedAt: now,
			NextRun:   trigger.Next(now),
		},
		trigger: trigger,
		run:     run,
	})
}

// Start loads refresh jobs for every known entity and group, registers the
// fixed system jobs, and launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return apperrors.NewSchedulingError("scheduler already started", nil)
	}
	s.started = true
	s.mu.Unlock()

	registered, err := s.loadPersistedJobs(ctx)
	if err != nil {
		// Leave the scheduler startable so the caller can retry
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	s.registerSystemJob(JobIDDailyReport, domain.JobKindDailyReport,
		DailyTrigger{Hour: s.opts.DailyReportHour},
		func(ctx context.Context) error {
			return s.sendReport(ctx, domain.ReportPeriodDaily)
		})
	s.registerSystemJob(JobIDWeeklyReport, domain.JobKindWeeklyReport,
		WeeklyTrigger{Day: s.opts.WeeklyReportDay, Hour: s.opts.WeeklyReportHour},
		func(ctx context.Context) error {
			return s.sendReport(ctx, domain.ReportPeriodWeekly)
		})
	s.registerSystemJob(JobIDAlertSweep, domain.JobKindAlertSweep,
		IntervalTrigger{Every: s.opts.AlertSweepInterval},
		s.runAlertSweep)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	s.log.WithField("jobs", registered+3).Info("scheduler started")
	return nil
}

// loadPersistedJobs re-derives the refresh job set from stored entities and
// groups and their interval preferences, returning how many were registered
func (s *Scheduler) loadPersistedJobs(ctx context.Context) (int, error) {
	entities, err := s.store.ListEntities(ctx, false)
	if err != nil {
		return 0, err
	}
	for _, entity := range entities {
		interval, err := s.store.GetUpdateInterval(ctx, domain.EntityTypeRepository, entity.Key)
		if err != nil {
			s.log.WithField("project", entity.Key).WithError(err).Warn("falling back to default interval")
			interval = int(s.opts.DefaultInterval / time.Second)
		}
		s.ScheduleRefresh(domain.EntityTypeRepository, entity.Key, time.Duration(interval)*time.Second)
	}

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return 0, err
	}
	for _, group := range groups {
		id := strconv.FormatInt(group.ID, 10)
		s.ScheduleRefresh(domain.EntityTypeGroup, id, time.Duration(group.UpdateInterval)*time.Second)
	}
	return len(entities) + len(groups), nil
}

// Stop halts the dispatch loop and waits for in-flight jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// loop is the dispatch loop: every tick it fires due jobs on their own
// goroutines
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue launches every job whose next run time has passed. A job still
// running from its previous fire is recorded as missed and pushed to its
// next slot instead of overlapping.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.jobs {
		if entry.desc.NextRun.After(now) {
			continue
		}
		if entry.running {
			entry.desc.MissedRuns++
			entry.desc.LastStatus = domain.JobStatusMissed
			entry.desc.NextRun = entry.trigger.Next(now)
			s.log.WithField("job", id).Warn("job still running, fire recorded as missed")
			continue
		}

		entry.running = true
		entry.desc.State = domain.JobStateRunning
		// Advance immediately so a long tick can't double-fire
		entry.desc.NextRun = entry.trigger.Next(now)

		s.wg.Add(1)
		go s.runJob(ctx, id, entry.gen, entry.run)
	}
}

// runJob executes a job body with panic containment and reports the outcome
// through dispatch
func (s *Scheduler) runJob(ctx context.Context, id string, gen uint64, run func(ctx context.Context) error) {
	defer s.wg.Done()

	runID := uuid.NewString()
	start := s.now()
	var err error
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		err = run(ctx)
	}()

	status := domain.JobStatusSuccess
	switch {
	case panicked:
		status = domain.JobStatusError
	case err != nil:
		status = domain.JobStatusFailed
	}

	s.dispatch(gen, domain.JobCompleted{
		JobID:    id,
		RunID:    runID,
		Status:   status,
		Err:      err,
		Duration: s.now().Sub(start),
	})
}

// dispatch is the single funnel for job completion events: it updates the
// descriptor's run history and applies the one-time retry policy for failing
// report jobs.
func (s *Scheduler) dispatch(gen uint64, ev domain.JobCompleted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[ev.JobID]
	if !ok {
		// Job was removed while running; nothing to record
		return
	}
	if entry.gen != gen {
		// The registration was replaced while this run was in flight.
		// Release the inherited running slot, but record nothing against
		// the replacement's descriptor.
		entry.running = false
		entry.desc.State = domain.JobStateScheduled
		return
	}

	entry.running = false
	entry.desc.State = domain.JobStateScheduled
	entry.desc.LastRun = s.now()
	entry.desc.LastStatus = ev.Status

	log := s.log.WithFields(map[string]interface{}{
		"job":      ev.JobID,
		"run":      ev.RunID,
		"status":   string(ev.Status),
		"duration": ev.Duration.String(),
	})

	switch ev.Status {
	case domain.JobStatusSuccess:
		entry.desc.SuccessfulRuns++
		entry.desc.LastError = ""
		entry.desc.RetryAttempts = 0
		log.Debug("job completed")
	default:
		entry.desc.ErrorCount++
		if ev.Err != nil {
			entry.desc.LastError = ev.Err.Error()
		}
		log.WithError(ev.Err).Error("job failed")

		if s.isReportJob(entry.desc.Kind) && entry.desc.RetryAttempts < s.opts.ReportRetryMax {
			entry.desc.RetryAttempts++
			entry.desc.NextRun = s.now().Add(s.opts.ReportRetryDelay)
			log.WithField("attempt", entry.desc.RetryAttempts).Warn("report job retry scheduled")
		}
	}
}

func (s *Scheduler) isReportJob(kind domain.JobKind) bool {
	return kind == domain.JobKindDailyReport || kind == domain.JobKindWeeklyReport
}

// sendReport generates the period report and mails it to the configured
// recipients
func (s *Scheduler) sendReport(ctx context.Context, period domain.ReportPeriod) error {
	html, err := s.engine.Generate(ctx, period, "")
	if err != nil {
		return err
	}

	recipients, err := s.store.ReportRecipients(ctx, string(period))
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Code Quality Report (%s) - %s", period, s.now().Format("2006-01-02"))
	return s.mailer.Send(recipients, subject, html)
}

// runAlertSweep checks every active entity for threshold breaches and mails
// a notification when any are found
func (s *Scheduler) runAlertSweep(ctx context.Context) error {
	alerts, err := s.engine.SweepAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	s.log.WithField("alerts", len(alerts)).Warn("threshold breaches detected")

	html, err := report.RenderAlerts(alerts)
	if err != nil {
		return err
	}
	recipients, err := s.store.ReportRecipients(ctx, string(domain.ReportPeriodDaily))
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("Quality Alerts - %d threshold breach(es)", len(alerts))
	return s.mailer.Send(recipients, subject, html)
}

// SyncProjects discovers analyzed projects upstream, registers a refresh job
// for each, and fires the first refresh immediately
func (s *Scheduler) SyncProjects(ctx context.Context) ([]client.Project, error) {
	projects, err := s.client.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range projects {
		interval, err := s.store.GetUpdateInterval(ctx, domain.EntityTypeRepository, p.Key)
		if err != nil {
			interval = int(s.opts.DefaultInterval / time.Second)
		}
		id := s.ScheduleRefresh(domain.EntityTypeRepository, p.Key, time.Duration(interval)*time.Second)
		if err := s.TriggerNow(id); err != nil {
			s.log.WithField("job", id).WithError(err).Warn("could not trigger initial refresh")
		}
	}
	return projects, nil
}

// JobStatus returns a copy of one job's descriptor
func (s *Scheduler) JobStatus(id string) (domain.JobDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return domain.JobDescriptor{}, false
	}
	return entry.desc, true
}

// Jobs lists descriptor copies for every registered job, ordered by ID
func (s *Scheduler) Jobs() []domain.JobDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.JobDescriptor, 0, len(s.jobs))
	for _, entry := range s.jobs {
		out = append(out, entry.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
