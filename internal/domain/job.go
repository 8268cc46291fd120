package domain

import (
	"fmt"
	"time"
)

// JobKind classifies scheduler jobs
type JobKind string

const (
	JobKindRefresh      JobKind = "metrics_update"
	JobKindDailyReport  JobKind = "daily_report"
	JobKindWeeklyReport JobKind = "weekly_report"
	JobKindAlertSweep   JobKind = "alert_sweep"
)

// JobStatus is the outcome of the most recent run
type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusMissed  JobStatus = "missed"
	JobStatusError   JobStatus = "error"
)

// JobState tracks where a job is in its lifecycle
type JobState string

const (
	JobStateScheduled JobState = "scheduled"
	JobStateRunning   JobState = "running"
)

// RefreshJobID builds the composite registry key for a per-entity refresh job
func RefreshJobID(entityType EntityType, entityID string) string {
	return fmt.Sprintf("update_%s_%s", entityType, entityID)
}

// JobDescriptor is the scheduler's record of a recurring job, its trigger
// parameters and its run history. The registry owns descriptors exclusively.
type JobDescriptor struct {
	ID         string
	Kind       JobKind
	EntityType EntityType
	EntityID   string
	Interval   time.Duration // zero for cron-style system jobs
	State      JobState

	CreatedAt      time.Time
	NextRun        time.Time
	LastRun        time.Time
	LastStatus     JobStatus // empty until the first completed run
	LastError      string
	SuccessfulRuns int
	ErrorCount     int
	MissedRuns     int
	RetryAttempts  int // one-time retries consumed by a failing system job
}

// JobCompleted is the typed event delivered to the scheduler's dispatch
// function when a job body finishes. RunID identifies the individual
// execution in logs.
type JobCompleted struct {
	JobID    string
	RunID    string
	Status   JobStatus
	Err      error
	Duration time.Duration
}
