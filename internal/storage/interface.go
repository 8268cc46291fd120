package storage

import (
	"context"
	"time"

	"sonarboard/internal/domain"
)

// Storage is the abstract interface for the persistence layer.
// All multi-step entity+snapshot writes run in a transaction with the
// entity row locked, so concurrent refresh jobs for the same entity
// serialize instead of losing updates.
type Storage interface {
	// Entity + snapshot writes
	UpsertSnapshot(ctx context.Context, key, name string, metrics domain.MetricValues, resetFailures bool) error
	MarkInactive(ctx context.Context, key string) error
	IncrementFailures(ctx context.Context, key string) (int, error)
	SweepStaleEntities(ctx context.Context, keys []string, updated map[string]bool) ([]string, error)

	// Entity reads
	GetEntity(ctx context.Context, key string) (*domain.Entity, error)
	ListEntities(ctx context.Context, includeInactive bool) ([]*domain.Entity, error)

	// Snapshot reads
	LatestSnapshot(ctx context.Context, key string) (*domain.Snapshot, error)
	History(ctx context.Context, key string, since *time.Time) ([]*domain.Snapshot, error)
	SnapshotsInWindow(ctx context.Context, key string, from, to time.Time) ([]*domain.Snapshot, error)

	// Deletion lifecycle
	MarkForDeletion(ctx context.Context, key string) error
	UnmarkForDeletion(ctx context.Context, key string) error
	DeleteProjectData(ctx context.Context, key string) error

	// Groups
	CreateGroup(ctx context.Context, name, description string) (int64, error)
	ListGroups(ctx context.Context) ([]*domain.Group, error)
	DeleteGroup(ctx context.Context, groupID int64) error
	AssignToGroup(ctx context.Context, key string, groupID int64) error
	RemoveFromGroup(ctx context.Context, key string) error
	ProjectsInGroup(ctx context.Context, groupID int64) ([]*domain.Entity, error)

	// Interval preferences
	GetUpdateInterval(ctx context.Context, entityType domain.EntityType, entityID string) (int, error)
	SetUpdateInterval(ctx context.Context, entityType domain.EntityType, entityID string, seconds int) error

	// Report schedule configuration
	SaveReportSchedule(ctx context.Context, schedule *domain.ReportSchedule) (int64, error)
	ListReportSchedules(ctx context.Context) ([]*domain.ReportSchedule, error)
	ToggleReportSchedule(ctx context.Context, id int64, active bool) error
	DeleteReportSchedule(ctx context.Context, id int64) error
	ReportRecipients(ctx context.Context, reportType string) ([]string, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
