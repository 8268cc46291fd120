package domain

import "time"

// ReportPeriod selects the comparison window for a report
type ReportPeriod string

const (
	ReportPeriodDaily  ReportPeriod = "daily"
	ReportPeriodWeekly ReportPeriod = "weekly"
)

// Duration returns the lookback distance for the period
func (p ReportPeriod) Duration() time.Duration {
	if p == ReportPeriodWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// MetricChange is one metric's period-over-period comparison.
// Unbounded marks a change from zero to a positive value, which has no
// meaningful percentage.
type MetricChange struct {
	Metric        string
	Previous      float64
	Current       float64
	Delta         float64
	ChangePercent float64
	Unbounded     bool
}

// Alert is one threshold breach detected by the alert sweep
type Alert struct {
	EntityKey     string
	Metric        string
	Previous      float64
	Current       float64
	ChangePercent float64
	Threshold     float64
	DetectedAt    time.Time
}

// TrendDirection summarizes whether a metric is moving the right way
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendWorsening TrendDirection = "worsening"
	TrendStable    TrendDirection = "stable"
)

// Trend is a metric's mean day-over-day movement across the analysis window
type Trend struct {
	Metric     string
	Direction  TrendDirection
	ChangeRate float64 // absolute mean delta per day
}

// ReportSchedule is the persisted recipient-list configuration for a
// recurring report. The rendered report itself is ephemeral.
type ReportSchedule struct {
	ID         int64
	ReportType string
	Frequency  string // daily or weekly
	Recipients []string
	Format     string
	IsActive   bool
	NextRun    time.Time
	LastRun    *time.Time
	CreatedAt  time.Time
}
