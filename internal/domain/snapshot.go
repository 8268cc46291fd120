package domain

import "time"

// Metric key names as reported by the quality API
const (
	MetricBugs            = "bugs"
	MetricVulnerabilities = "vulnerabilities"
	MetricCodeSmells      = "code_smells"
	MetricCoverage        = "coverage"
	MetricDuplication     = "duplicated_lines_density"
	MetricLinesOfCode     = "ncloc"
	MetricTechnicalDebt   = "sqale_index"
)

// ComparableMetrics lists the metrics used for period comparisons and alerting
var ComparableMetrics = []string{
	MetricBugs,
	MetricVulnerabilities,
	MetricCodeSmells,
	MetricCoverage,
	MetricDuplication,
	MetricLinesOfCode,
}

// Snapshot is one timestamped set of metric values for an entity.
// Snapshots are append-only; history is the ordered sequence per entity.
type Snapshot struct {
	ID              int64
	EntityID        int64
	Bugs            float64
	Vulnerabilities float64
	CodeSmells      float64
	Coverage        float64
	Duplication     float64
	LinesOfCode     float64
	TechnicalDebt   float64
	Timestamp       time.Time // UTC write time
}

// MetricValues is the fixed record used when writing a snapshot
type MetricValues struct {
	Bugs            float64
	Vulnerabilities float64
	CodeSmells      float64
	Coverage        float64
	Duplication     float64
	LinesOfCode     float64
	TechnicalDebt   float64
}

// Value looks a metric up by its API name. The name-based accessor exists
// only for the boundary with the external API and the report tables.
func (m MetricValues) Value(name string) (float64, bool) {
	switch name {
	case MetricBugs:
		return m.Bugs, true
	case MetricVulnerabilities:
		return m.Vulnerabilities, true
	case MetricCodeSmells:
		return m.CodeSmells, true
	case MetricCoverage:
		return m.Coverage, true
	case MetricDuplication:
		return m.Duplication, true
	case MetricLinesOfCode:
		return m.LinesOfCode, true
	case MetricTechnicalDebt:
		return m.TechnicalDebt, true
	}
	return 0, false
}

// Set assigns a metric by its API name; unknown names are ignored
func (m *MetricValues) Set(name string, value float64) {
	switch name {
	case MetricBugs:
		m.Bugs = value
	case MetricVulnerabilities:
		m.Vulnerabilities = value
	case MetricCodeSmells:
		m.CodeSmells = value
	case MetricCoverage:
		m.Coverage = value
	case MetricDuplication:
		m.Duplication = value
	case MetricLinesOfCode:
		m.LinesOfCode = value
	case MetricTechnicalDebt:
		m.TechnicalDebt = value
	}
}

// Values returns the snapshot's metric fields as a MetricValues record
func (s *Snapshot) Values() MetricValues {
	return MetricValues{
		Bugs:            s.Bugs,
		Vulnerabilities: s.Vulnerabilities,
		CodeSmells:      s.CodeSmells,
		Coverage:        s.Coverage,
		Duplication:     s.Duplication,
		LinesOfCode:     s.LinesOfCode,
		TechnicalDebt:   s.TechnicalDebt,
	}
}
