package report

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"sonarboard/internal/config"
	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/logger"
	"sonarboard/internal/storage"
)

// trendWindowDays is the lookback for weekly trend analysis
const trendWindowDays = 30

// summaryThresholdPercent is the minimum |change| worth calling out in the
// executive summary
const summaryThresholdPercent = 5.0

// Engine computes period-over-period reports and threshold alerts from
// stored snapshot history
type Engine struct {
	store       storage.Storage
	thresholds  map[string]float64
	weights     config.ScoreWeights
	alertWindow time.Duration
	log         *logger.Logger

	now func() time.Time // swapped in tests
}

// NewEngine creates a report engine. thresholds are sign-aware percent
// changes per metric; alertWindow is the comparison distance for breach
// detection.
func NewEngine(store storage.Storage, thresholds map[string]float64, weights config.ScoreWeights, alertWindow time.Duration) *Engine {
	return &Engine{
		store:       store,
		thresholds:  thresholds,
		weights:     weights,
		alertWindow: alertWindow,
		log:         logger.Default().WithField("component", "report"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// lowerIsBetter is the shared polarity table: it decides trend direction,
// breach sign and score contribution for each metric.
func lowerIsBetter(metric string) bool {
	switch metric {
	case domain.MetricBugs, domain.MetricVulnerabilities,
		domain.MetricCodeSmells, domain.MetricDuplication:
		return true
	}
	return false
}

// PercentChange computes the relative change from prev to cur. A change from
// zero to a positive value has no meaningful percentage and is flagged
// unbounded instead.
func PercentChange(prev, cur float64) (pct float64, unbounded bool) {
	if prev == 0 {
		if cur == 0 {
			return 0, false
		}
		return 0, true
	}
	return (cur - prev) / prev * 100, false
}

// QualityScore folds the snapshot into a single 0-100 composite
func (e *Engine) QualityScore(v domain.MetricValues) float64 {
	score := 100.0
	score += e.weights.Coverage * v.Coverage
	score += e.weights.Bugs * v.Bugs
	score += e.weights.Vulnerabilities * v.Vulnerabilities
	score += e.weights.CodeSmells * v.CodeSmells / 100
	score += e.weights.Duplication * v.Duplication / 10

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// averageValues returns the per-metric mean across snapshots
func averageValues(snaps []*domain.Snapshot) domain.MetricValues {
	var sum domain.MetricValues
	if len(snaps) == 0 {
		return sum
	}
	for _, s := range snaps {
		sum.Bugs += s.Bugs
		sum.Vulnerabilities += s.Vulnerabilities
		sum.CodeSmells += s.CodeSmells
		sum.Coverage += s.Coverage
		sum.Duplication += s.Duplication
		sum.LinesOfCode += s.LinesOfCode
		sum.TechnicalDebt += s.TechnicalDebt
	}
	n := float64(len(snaps))
	sum.Bugs /= n
	sum.Vulnerabilities /= n
	sum.CodeSmells /= n
	sum.Coverage /= n
	sum.Duplication /= n
	sum.LinesOfCode /= n
	sum.TechnicalDebt /= n
	return sum
}

// Changes compares the latest snapshot against the averaged snapshots of the
// previous period window. A nil slice with nil error means there is no
// current snapshot to compare.
func (e *Engine) Changes(ctx context.Context, key string, period domain.ReportPeriod) ([]domain.MetricChange, *domain.Snapshot, error) {
	latest, err := e.store.LatestSnapshot(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if latest == nil {
		return nil, nil, nil
	}

	now := e.now()
	// Previous window: one hour of snapshots ending one period ago, averaged
	// to smooth over refresh jitter.
	windowEnd := now.Add(-period.Duration())
	windowStart := windowEnd.Add(-time.Hour)
	previous, err := e.store.SnapshotsInWindow(ctx, key, windowStart, windowEnd)
	if err != nil {
		return nil, nil, err
	}

	cur := latest.Values()
	prev := averageValues(previous)
	hasPrevious := len(previous) > 0

	changes := make([]domain.MetricChange, 0, len(domain.ComparableMetrics))
	for _, metric := range domain.ComparableMetrics {
		curV, _ := cur.Value(metric)
		var prevV float64
		if hasPrevious {
			prevV, _ = prev.Value(metric)
		}
		pct, unbounded := PercentChange(prevV, curV)
		changes = append(changes, domain.MetricChange{
			Metric:        metric,
			Previous:      prevV,
			Current:       curV,
			Delta:         curV - prevV,
			ChangePercent: pct,
			Unbounded:     unbounded,
		})
	}
	return changes, latest, nil
}

// Trends computes each metric's mean day-over-day movement across the trend
// window and classifies it against the polarity table
func (e *Engine) Trends(ctx context.Context, key string) ([]domain.Trend, error) {
	since := e.now().AddDate(0, 0, -trendWindowDays)
	history, err := e.store.History(ctx, key, &since)
	if err != nil {
		return nil, err
	}
	if len(history) < 2 {
		return nil, nil
	}

	// Collapse to one snapshot per day (the last of the day) so polling
	// frequency doesn't weight the mean.
	daily := make([]*domain.Snapshot, 0, len(history))
	for _, s := range history {
		day := s.Timestamp.Truncate(24 * time.Hour)
		if len(daily) > 0 && daily[len(daily)-1].Timestamp.Truncate(24*time.Hour).Equal(day) {
			daily[len(daily)-1] = s
			continue
		}
		daily = append(daily, s)
	}
	if len(daily) < 2 {
		return nil, nil
	}

	trends := make([]domain.Trend, 0, len(domain.ComparableMetrics))
	for _, metric := range domain.ComparableMetrics {
		var total float64
		for i := 1; i < len(daily); i++ {
			curV, _ := daily[i].Values().Value(metric)
			prevV, _ := daily[i-1].Values().Value(metric)
			total += curV - prevV
		}
		rate := total / float64(len(daily)-1)

		direction := domain.TrendStable
		if math.Abs(rate) > 1e-9 {
			goingDown := rate < 0
			if goingDown == lowerIsBetter(metric) {
				direction = domain.TrendImproving
			} else {
				direction = domain.TrendWorsening
			}
		}
		trends = append(trends, domain.Trend{
			Metric:     metric,
			Direction:  direction,
			ChangeRate: math.Abs(rate),
		})
	}
	return trends, nil
}

// ExecutiveSummary lines up the changes large enough to matter
func ExecutiveSummary(changes []domain.MetricChange) string {
	var parts []string
	for _, c := range changes {
		if c.Unbounded {
			parts = append(parts, fmt.Sprintf("%s appeared at %.1f", c.Metric, c.Current))
			continue
		}
		if math.Abs(c.ChangePercent) < summaryThresholdPercent {
			continue
		}
		verb := "rose"
		if c.ChangePercent < 0 {
			verb = "fell"
		}
		parts = append(parts, fmt.Sprintf("%s %s %.1f%%", c.Metric, verb, math.Abs(c.ChangePercent)))
	}
	if len(parts) == 0 {
		return "No significant metric movement this period."
	}
	return strings.Join(parts, "; ") + "."
}

// CheckThresholdBreaches compares the latest snapshot against the snapshot
// from one alert window ago and returns one alert per metric whose sign-aware
// percent change crosses its configured threshold
func (e *Engine) CheckThresholdBreaches(ctx context.Context, key string) ([]domain.Alert, error) {
	latest, err := e.store.LatestSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}

	now := e.now()
	windowEnd := now.Add(-e.alertWindow)
	windowStart := windowEnd.Add(-24 * time.Hour)
	baseline, err := e.store.SnapshotsInWindow(ctx, key, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if len(baseline) == 0 {
		return nil, nil
	}
	// Most recent snapshot at or before the window edge
	prev := baseline[len(baseline)-1].Values()
	cur := latest.Values()

	var alerts []domain.Alert
	for metric, threshold := range e.thresholds {
		prevV, ok := prev.Value(metric)
		if !ok {
			continue
		}
		curV, _ := cur.Value(metric)
		pct, unbounded := PercentChange(prevV, curV)

		breached := false
		switch {
		case unbounded:
			// Zero to nonzero only matters for metrics where growth is bad
			breached = threshold > 0
		case threshold > 0:
			breached = pct >= threshold
		case threshold < 0:
			breached = pct <= threshold
		}
		if !breached {
			continue
		}
		alerts = append(alerts, domain.Alert{
			EntityKey:     key,
			Metric:        metric,
			Previous:      prevV,
			Current:       curV,
			ChangePercent: pct,
			Threshold:     threshold,
			DetectedAt:    now,
		})
	}
	return alerts, nil
}

// SweepAlerts runs breach detection across every active entity
func (e *Engine) SweepAlerts(ctx context.Context) ([]domain.Alert, error) {
	entities, err := e.store.ListEntities(ctx, false)
	if err != nil {
		return nil, err
	}

	var all []domain.Alert
	for _, entity := range entities {
		alerts, err := e.CheckThresholdBreaches(ctx, entity.Key)
		if err != nil {
			e.log.WithField("project", entity.Key).WithError(err).Error("breach check failed")
			continue
		}
		all = append(all, alerts...)
	}
	return all, nil
}

// Generate renders the HTML report for the period. An empty entityKey covers
// every active entity.
func (e *Engine) Generate(ctx context.Context, period domain.ReportPeriod, entityKey string) (string, error) {
	if period != domain.ReportPeriodDaily && period != domain.ReportPeriodWeekly {
		return "", apperrors.NewBadRequestError(fmt.Sprintf("unknown report period %q", period))
	}

	var entities []*domain.Entity
	if entityKey != "" {
		entity, err := e.store.GetEntity(ctx, entityKey)
		if err != nil {
			return "", err
		}
		entities = []*domain.Entity{entity}
	} else {
		var err error
		entities, err = e.store.ListEntities(ctx, false)
		if err != nil {
			return "", err
		}
	}

	data := reportData{
		Period:      period,
		GeneratedAt: e.now(),
	}
	for _, entity := range entities {
		changes, latest, err := e.Changes(ctx, entity.Key, period)
		if err != nil {
			return "", err
		}
		if latest == nil {
			continue
		}

		section := entitySection{
			Key:     entity.Key,
			Name:    entity.Name,
			Current: latest.Values(),
			Changes: changes,
			Score:   e.QualityScore(latest.Values()),
			Summary: ExecutiveSummary(changes),
		}

		alerts, err := e.CheckThresholdBreaches(ctx, entity.Key)
		if err != nil {
			return "", err
		}
		section.Alerts = alerts

		if period == domain.ReportPeriodWeekly {
			trends, err := e.Trends(ctx, entity.Key)
			if err != nil {
				return "", err
			}
			section.Trends = trends
		}

		data.Entities = append(data.Entities, section)
	}

	return render(data)
}
