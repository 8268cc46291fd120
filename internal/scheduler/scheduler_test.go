package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarboard/internal/domain"
	"sonarboard/internal/storage"
)

// stubStore serves the scheduler's startup loads. Unused Storage methods
// panic through the embedded nil interface.
type stubStore struct {
	storage.Storage

	listErr error
}

func (s *stubStore) ListEntities(ctx context.Context, includeInactive bool) ([]*domain.Entity, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return nil, nil
}

func (s *stubStore) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	return nil, nil
}

func newTestScheduler() *Scheduler {
	return New(nil, nil, nil, nil, nil, Options{
		DailyReportHour:    6,
		WeeklyReportDay:    time.Monday,
		WeeklyReportHour:   7,
		AlertSweepInterval: 4 * time.Hour,
		ReportRetryDelay:   30 * time.Minute,
		ReportRetryMax:     3,
		DefaultInterval:    time.Hour,
	})
}

// waitFor polls until the condition holds or the deadline passes
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestScheduleRefreshIsIdempotent(t *testing.T) {
	s := newTestScheduler()

	id1 := s.ScheduleRefresh(domain.EntityTypeRepository, "proj", time.Hour)
	id2 := s.ScheduleRefresh(domain.EntityTypeRepository, "proj", 30*time.Minute)

	assert.Equal(t, "update_repository_proj", id1)
	assert.Equal(t, id1, id2, "re-registering must reuse the composite job ID")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 30*time.Minute, jobs[0].Interval, "latest registration wins")
	assert.Equal(t, domain.JobStateScheduled, jobs[0].State)
}

func TestScheduleRefreshGroupJobID(t *testing.T) {
	s := newTestScheduler()
	id := s.ScheduleRefresh(domain.EntityTypeGroup, "7", time.Hour)
	assert.Equal(t, "update_group_7", id)
}

func TestScheduleRefreshZeroIntervalUsesDefault(t *testing.T) {
	s := newTestScheduler()
	s.ScheduleRefresh(domain.EntityTypeRepository, "proj", 0)

	desc, ok := s.JobStatus("update_repository_proj")
	require.True(t, ok)
	assert.Equal(t, time.Hour, desc.Interval)
}

func TestTriggerNowUnknownJob(t *testing.T) {
	s := newTestScheduler()
	err := s.TriggerNow("update_repository_absent")
	assert.Error(t, err)
}

func TestRemoveJobIsIdempotent(t *testing.T) {
	s := newTestScheduler()
	s.ScheduleRefresh(domain.EntityTypeRepository, "proj", time.Hour)

	s.RemoveJob("update_repository_proj")
	s.RemoveJob("update_repository_proj")

	_, ok := s.JobStatus("update_repository_proj")
	assert.False(t, ok)
}

func TestFireDueRunsJobAndRecordsSuccess(t *testing.T) {
	s := newTestScheduler()

	ran := make(chan struct{})
	s.registerSystemJob("test_job", domain.JobKindAlertSweep,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			close(ran)
			return nil
		})
	require.NoError(t, s.TriggerNow("test_job"))

	s.fireDue(context.Background())

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("due job did not fire")
	}

	waitFor(t, func() bool {
		desc, _ := s.JobStatus("test_job")
		return desc.SuccessfulRuns == 1 && desc.State == domain.JobStateScheduled
	})
	desc, _ := s.JobStatus("test_job")
	assert.Equal(t, domain.JobStatusSuccess, desc.LastStatus)
	assert.Empty(t, desc.LastError)
	assert.True(t, desc.NextRun.After(s.now()), "next run advanced past now")
}

func TestOverdueFireWhileRunningIsMissed(t *testing.T) {
	s := newTestScheduler()

	block := make(chan struct{})
	started := make(chan struct{})
	s.registerSystemJob("slow_job", domain.JobKindAlertSweep,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
	require.NoError(t, s.TriggerNow("slow_job"))

	s.fireDue(context.Background())
	<-started

	// Second overdue fire while the first run is still going
	require.NoError(t, s.TriggerNow("slow_job"))
	s.fireDue(context.Background())

	desc, _ := s.JobStatus("slow_job")
	assert.Equal(t, 1, desc.MissedRuns)
	assert.Equal(t, domain.JobStatusMissed, desc.LastStatus)

	close(block)
	waitFor(t, func() bool {
		desc, _ := s.JobStatus("slow_job")
		return desc.SuccessfulRuns == 1
	})
}

func TestPanicInJobBodyIsRecordedAsError(t *testing.T) {
	s := newTestScheduler()

	s.registerSystemJob("panicky", domain.JobKindAlertSweep,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			panic("boom")
		})
	require.NoError(t, s.TriggerNow("panicky"))

	s.fireDue(context.Background())

	waitFor(t, func() bool {
		desc, _ := s.JobStatus("panicky")
		return desc.ErrorCount == 1
	})
	desc, _ := s.JobStatus("panicky")
	assert.Equal(t, domain.JobStatusError, desc.LastStatus)
	assert.Contains(t, desc.LastError, "boom")
	assert.Equal(t, domain.JobStateScheduled, desc.State, "a panicked job goes back to scheduled")
}

func TestFailingReportJobGetsRetrySlot(t *testing.T) {
	s := newTestScheduler()

	s.registerSystemJob(JobIDDailyReport, domain.JobKindDailyReport,
		DailyTrigger{Hour: 6},
		func(ctx context.Context) error {
			return errors.New("smtp down")
		})
	require.NoError(t, s.TriggerNow(JobIDDailyReport))

	s.fireDue(context.Background())

	waitFor(t, func() bool {
		desc, _ := s.JobStatus(JobIDDailyReport)
		return desc.ErrorCount == 1
	})
	desc, _ := s.JobStatus(JobIDDailyReport)
	assert.Equal(t, 1, desc.RetryAttempts)
	retryBy := s.now().Add(31 * time.Minute)
	assert.True(t, desc.NextRun.Before(retryBy),
		"retry must be scheduled at the retry delay, not the daily trigger")
}

func TestReportRetryCapExhausted(t *testing.T) {
	s := newTestScheduler()

	s.registerSystemJob(JobIDDailyReport, domain.JobKindDailyReport,
		IntervalTrigger{Every: 24 * time.Hour},
		func(ctx context.Context) error {
			return errors.New("smtp down")
		})

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.TriggerNow(JobIDDailyReport))
		s.fireDue(context.Background())
		want := i
		waitFor(t, func() bool {
			desc, _ := s.JobStatus(JobIDDailyReport)
			return desc.ErrorCount == want
		})
	}

	desc, _ := s.JobStatus(JobIDDailyReport)
	assert.Equal(t, 3, desc.RetryAttempts, "retries stop at the cap")
	assert.True(t, desc.NextRun.After(s.now().Add(time.Hour)),
		"past the cap the job waits for its regular trigger")
}

func TestFailingRefreshJobDoesNotRetryEarly(t *testing.T) {
	s := newTestScheduler()

	s.registerSystemJob("update_repository_x", domain.JobKindRefresh,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			return errors.New("fetch failed")
		})
	require.NoError(t, s.TriggerNow("update_repository_x"))

	s.fireDue(context.Background())

	waitFor(t, func() bool {
		desc, _ := s.JobStatus("update_repository_x")
		return desc.ErrorCount == 1
	})
	desc, _ := s.JobStatus("update_repository_x")
	assert.Equal(t, 0, desc.RetryAttempts)
	assert.True(t, desc.NextRun.After(s.now().Add(50*time.Minute)),
		"refresh jobs wait for their next interval slot")
}

func TestSuccessResetsRetryAttempts(t *testing.T) {
	s := newTestScheduler()

	fail := true
	s.registerSystemJob(JobIDDailyReport, domain.JobKindDailyReport,
		DailyTrigger{Hour: 6},
		func(ctx context.Context) error {
			if fail {
				return errors.New("smtp down")
			}
			return nil
		})

	require.NoError(t, s.TriggerNow(JobIDDailyReport))
	s.fireDue(context.Background())
	waitFor(t, func() bool {
		desc, _ := s.JobStatus(JobIDDailyReport)
		return desc.ErrorCount == 1
	})

	fail = false
	require.NoError(t, s.TriggerNow(JobIDDailyReport))
	s.fireDue(context.Background())
	waitFor(t, func() bool {
		desc, _ := s.JobStatus(JobIDDailyReport)
		return desc.SuccessfulRuns == 1
	})

	desc, _ := s.JobStatus(JobIDDailyReport)
	assert.Equal(t, 0, desc.RetryAttempts)
	assert.Empty(t, desc.LastError)
}

func TestReplaceWhileRunningDoesNotOverlap(t *testing.T) {
	s := newTestScheduler()

	block := make(chan struct{})
	started := make(chan struct{})
	s.registerSystemJob("busy_job", domain.JobKindAlertSweep,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
	require.NoError(t, s.TriggerNow("busy_job"))
	s.fireDue(context.Background())
	<-started

	// Re-register the same ID while the first run is still in flight
	ran := make(chan struct{}, 1)
	s.registerSystemJob("busy_job", domain.JobKindAlertSweep,
		IntervalTrigger{Every: time.Hour},
		func(ctx context.Context) error {
			ran <- struct{}{}
			return nil
		})

	require.NoError(t, s.TriggerNow("busy_job"))
	s.fireDue(context.Background())

	desc, _ := s.JobStatus("busy_job")
	assert.Equal(t, 1, desc.MissedRuns, "replacement inherits the running slot")
	select {
	case <-ran:
		t.Fatal("replacement body ran while the old run was in flight")
	default:
	}

	close(block)
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.jobs["busy_job"].running
	})

	desc, _ = s.JobStatus("busy_job")
	assert.Equal(t, 0, desc.SuccessfulRuns,
		"old run's completion must not count against the replacement")
	assert.Equal(t, 0, desc.ErrorCount)

	require.NoError(t, s.TriggerNow("busy_job"))
	s.fireDue(context.Background())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("replacement did not fire after the old run finished")
	}
	waitFor(t, func() bool {
		desc, _ := s.JobStatus("busy_job")
		return desc.SuccessfulRuns == 1
	})
}

func TestStartRetriesAfterLoadFailure(t *testing.T) {
	store := &stubStore{listErr: errors.New("db down")}
	s := New(store, nil, nil, nil, nil, Options{DefaultInterval: time.Hour})

	require.Error(t, s.Start(context.Background()))

	store.listErr = nil
	require.NoError(t, s.Start(context.Background()), "a failed start must stay retryable")
	s.Stop()
}

func TestJobsListedInOrder(t *testing.T) {
	s := newTestScheduler()
	s.ScheduleRefresh(domain.EntityTypeRepository, "zeta", time.Hour)
	s.ScheduleRefresh(domain.EntityTypeRepository, "alpha", time.Hour)
	s.ScheduleRefresh(domain.EntityTypeGroup, "1", time.Hour)

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "update_group_1", jobs[0].ID)
	assert.Equal(t, "update_repository_alpha", jobs[1].ID)
	assert.Equal(t, "update_repository_zeta", jobs[2].ID)
}
