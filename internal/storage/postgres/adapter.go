package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/storage"
)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS project_groups (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		update_interval INTEGER NOT NULL DEFAULT 3600,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id SERIAL PRIMARY KEY,
		repo_key TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		is_marked_for_deletion BOOLEAN NOT NULL DEFAULT false,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		group_id INTEGER REFERENCES project_groups(id),
		update_interval INTEGER NOT NULL DEFAULT 3600,
		last_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_group_id ON repositories(group_id);
	CREATE INDEX IF NOT EXISTS idx_repositories_is_active ON repositories(is_active);

	CREATE TABLE IF NOT EXISTS metrics (
		id SERIAL PRIMARY KEY,
		repository_id INTEGER NOT NULL REFERENCES repositories(id),
		bugs DOUBLE PRECISION NOT NULL DEFAULT 0,
		vulnerabilities DOUBLE PRECISION NOT NULL DEFAULT 0,
		code_smells DOUBLE PRECISION NOT NULL DEFAULT 0,
		coverage DOUBLE PRECISION NOT NULL DEFAULT 0,
		duplicated_lines_density DOUBLE PRECISION NOT NULL DEFAULT 0,
		ncloc DOUBLE PRECISION NOT NULL DEFAULT 0,
		sqale_index DOUBLE PRECISION NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_repository_timestamp ON metrics(repository_id, timestamp);

	CREATE TABLE IF NOT EXISTS report_schedules (
		id SERIAL PRIMARY KEY,
		report_type TEXT NOT NULL,
		frequency TEXT NOT NULL,
		recipients TEXT NOT NULL,
		report_format TEXT NOT NULL DEFAULT 'HTML',
		is_active BOOLEAN NOT NULL DEFAULT true,
		next_run_time TIMESTAMP,
		last_run TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// UpsertSnapshot creates or refreshes the entity row and appends a snapshot.
// The entity row is locked for the duration of the transaction so a manual
// trigger racing the scheduled refresh cannot lose updates.
func (s *postgresStorage) UpsertSnapshot(ctx context.Context, key, name string, metrics domain.MetricValues, resetFailures bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreWriteError("begin upsert transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var repoID int64
	var existingName string
	err = tx.QueryRowContext(ctx,
		`SELECT id, name FROM repositories WHERE repo_key = $1 FOR UPDATE`, key,
	).Scan(&repoID, &existingName)

	switch {
	case err == sql.ErrNoRows:
		insertName := name
		if insertName == "" {
			insertName = key
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO repositories (repo_key, name, is_active, consecutive_failures, last_seen, created_at)
			VALUES ($1, $2, true, 0, $3, $3)
			RETURNING id`, key, insertName, now,
		).Scan(&repoID)
		if err != nil {
			return apperrors.NewStoreWriteError("insert repository", err)
		}
	case err != nil:
		return apperrors.NewStoreWriteError("lock repository row", err)
	default:
		// Preserve the stored display name when the caller has none, so
		// partial updates don't blank it out.
		newName := name
		if newName == "" {
			newName = existingName
		}
		query := `UPDATE repositories SET name = $2, last_seen = $3, is_active = true`
		if resetFailures {
			query += `, consecutive_failures = 0`
		}
		query += ` WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, repoID, newName, now); err != nil {
			return apperrors.NewStoreWriteError("update repository", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metrics (repository_id, bugs, vulnerabilities, code_smells,
			coverage, duplicated_lines_density, ncloc, sqale_index, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		repoID, metrics.Bugs, metrics.Vulnerabilities, metrics.CodeSmells,
		metrics.Coverage, metrics.Duplication, metrics.LinesOfCode, metrics.TechnicalDebt, now)
	if err != nil {
		return apperrors.NewStoreWriteError("insert snapshot", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreWriteError("commit upsert", err)
	}
	return nil
}

// MarkInactive sets is_active=false; idempotent
func (s *postgresStorage) MarkInactive(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET is_active = false WHERE repo_key = $1`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("mark inactive", err)
	}
	return nil
}

// IncrementFailures atomically bumps the consecutive failure counter
func (s *postgresStorage) IncrementFailures(ctx context.Context, key string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE repositories
		SET consecutive_failures = consecutive_failures + 1
		WHERE repo_key = $1
		RETURNING consecutive_failures`, key,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, apperrors.NewNotFoundError("repository " + key)
	}
	if err != nil {
		return 0, apperrors.NewStoreWriteError("increment failures", err)
	}
	return count, nil
}

// SweepStaleEntities marks previously-active entities that were not updated
// this pass inactive and returns their keys
func (s *postgresStorage) SweepStaleEntities(ctx context.Context, keys []string, updated map[string]bool) ([]string, error) {
	var swept []string
	for _, key := range keys {
		if updated[key] {
			continue
		}
		var wasActive bool
		err := s.db.QueryRowContext(ctx,
			`SELECT is_active FROM repositories WHERE repo_key = $1`, key,
		).Scan(&wasActive)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return swept, apperrors.NewStoreWriteError("sweep stale entities", err)
		}
		if !wasActive {
			continue
		}
		if err := s.MarkInactive(ctx, key); err != nil {
			return swept, err
		}
		swept = append(swept, key)
	}
	return swept, nil
}

const entityColumns = `id, repo_key, name, is_active, is_marked_for_deletion,
	consecutive_failures, group_id, update_interval, last_seen, created_at`

func scanEntity(row interface{ Scan(...interface{}) error }) (*domain.Entity, error) {
	var e domain.Entity
	var groupID sql.NullInt64
	err := row.Scan(&e.ID, &e.Key, &e.Name, &e.IsActive, &e.IsMarkedForDeletion,
		&e.ConsecutiveFailures, &groupID, &e.UpdateInterval, &e.LastSeen, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		e.GroupID = &groupID.Int64
	}
	return &e, nil
}

// GetEntity returns one entity by key
func (s *postgresStorage) GetEntity(ctx context.Context, key string) (*domain.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM repositories WHERE repo_key = $1`, key)
	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("repository " + key)
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ListEntities returns entities ordered active-first, most recently seen first
func (s *postgresStorage) ListEntities(ctx context.Context, includeInactive bool) ([]*domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM repositories`
	if !includeInactive {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY is_active DESC, last_seen DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

const snapshotColumns = `m.id, m.repository_id, m.bugs, m.vulnerabilities, m.code_smells,
	m.coverage, m.duplicated_lines_density, m.ncloc, m.sqale_index, m.timestamp`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := row.Scan(&snap.ID, &snap.EntityID, &snap.Bugs, &snap.Vulnerabilities,
		&snap.CodeSmells, &snap.Coverage, &snap.Duplication, &snap.LinesOfCode,
		&snap.TechnicalDebt, &snap.Timestamp)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// LatestSnapshot returns the most recent snapshot for an entity, nil if none
func (s *postgresStorage) LatestSnapshot(ctx context.Context, key string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM metrics m
		JOIN repositories r ON r.id = m.repository_id
		WHERE r.repo_key = $1
		ORDER BY m.timestamp DESC
		LIMIT 1`, key)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// History returns snapshots in ascending timestamp order
func (s *postgresStorage) History(ctx context.Context, key string, since *time.Time) ([]*domain.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM metrics m
		JOIN repositories r ON r.id = m.repository_id
		WHERE r.repo_key = $1`
	args := []interface{}{key}
	if since != nil {
		query += ` AND m.timestamp >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY m.timestamp ASC`

	return s.querySnapshots(ctx, query, args...)
}

// SnapshotsInWindow returns snapshots with from <= timestamp < to
func (s *postgresStorage) SnapshotsInWindow(ctx context.Context, key string, from, to time.Time) ([]*domain.Snapshot, error) {
	return s.querySnapshots(ctx, `
		SELECT `+snapshotColumns+`
		FROM metrics m
		JOIN repositories r ON r.id = m.repository_id
		WHERE r.repo_key = $1 AND m.timestamp >= $2 AND m.timestamp < $3
		ORDER BY m.timestamp ASC`, key, from, to)
}

func (s *postgresStorage) querySnapshots(ctx context.Context, query string, args ...interface{}) ([]*domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// MarkForDeletion flags a project for explicit deletion
func (s *postgresStorage) MarkForDeletion(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET is_marked_for_deletion = true WHERE repo_key = $1`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("mark for deletion", err)
	}
	return nil
}

// UnmarkForDeletion clears the deletion flag
func (s *postgresStorage) UnmarkForDeletion(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET is_marked_for_deletion = false WHERE repo_key = $1`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("unmark for deletion", err)
	}
	return nil
}

// DeleteProjectData removes a project and its snapshot history. The project
// must have been marked for deletion first; inactivation alone is not enough.
func (s *postgresStorage) DeleteProjectData(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreWriteError("begin delete transaction", err)
	}
	defer tx.Rollback()

	var marked bool
	err = tx.QueryRowContext(ctx,
		`SELECT is_marked_for_deletion FROM repositories WHERE repo_key = $1 FOR UPDATE`, key,
	).Scan(&marked)
	if err == sql.ErrNoRows {
		return apperrors.NewNotFoundError("repository " + key)
	}
	if err != nil {
		return apperrors.NewStoreWriteError("check deletion mark", err)
	}
	if !marked {
		return apperrors.NewBadRequestError("project must be marked for deletion first")
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM metrics
		WHERE repository_id = (SELECT id FROM repositories WHERE repo_key = $1)`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("delete snapshots", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM repositories WHERE repo_key = $1`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("delete repository", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreWriteError("commit delete", err)
	}
	return nil
}

// CreateGroup creates a project group
func (s *postgresStorage) CreateGroup(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_groups (name, description)
		VALUES ($1, $2)
		RETURNING id`, name, description,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.NewStoreWriteError("create group", err)
	}
	return id, nil
}

// ListGroups returns all project groups ordered by name
func (s *postgresStorage) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, update_interval, created_at
		FROM project_groups
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.UpdateInterval, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group after detaching its members
func (s *postgresStorage) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreWriteError("begin group delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE repositories SET group_id = NULL WHERE group_id = $1`, groupID); err != nil {
		return apperrors.NewStoreWriteError("detach group members", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM project_groups WHERE id = $1`, groupID); err != nil {
		return apperrors.NewStoreWriteError("delete group", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStoreWriteError("commit group delete", err)
	}
	return nil
}

// AssignToGroup puts a repository into a group
func (s *postgresStorage) AssignToGroup(ctx context.Context, key string, groupID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET group_id = $1 WHERE repo_key = $2`, groupID, key)
	if err != nil {
		return apperrors.NewStoreWriteError("assign to group", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("repository " + key)
	}
	return nil
}

// RemoveFromGroup detaches a repository from its group
func (s *postgresStorage) RemoveFromGroup(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE repositories SET group_id = NULL WHERE repo_key = $1`, key)
	if err != nil {
		return apperrors.NewStoreWriteError("remove from group", err)
	}
	return nil
}

// ProjectsInGroup lists the repositories belonging to a group
func (s *postgresStorage) ProjectsInGroup(ctx context.Context, groupID int64) ([]*domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM repositories WHERE group_id = $1 ORDER BY name`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// GetUpdateInterval returns the refresh interval preference, defaulting to
// an hour when the entity has no stored preference
func (s *postgresStorage) GetUpdateInterval(ctx context.Context, entityType domain.EntityType, entityID string) (int, error) {
	var query string
	if entityType == domain.EntityTypeGroup {
		query = `SELECT update_interval FROM project_groups WHERE id = $1`
	} else {
		query = `SELECT update_interval FROM repositories WHERE repo_key = $1`
	}

	var interval int
	err := s.db.QueryRowContext(ctx, query, entityID).Scan(&interval)
	if err == sql.ErrNoRows {
		return 3600, nil
	}
	if err != nil {
		return 0, err
	}
	return interval, nil
}

// SetUpdateInterval stores the refresh interval preference
func (s *postgresStorage) SetUpdateInterval(ctx context.Context, entityType domain.EntityType, entityID string, seconds int) error {
	var query string
	if entityType == domain.EntityTypeGroup {
		query = `UPDATE project_groups SET update_interval = $1 WHERE id = $2`
	} else {
		query = `UPDATE repositories SET update_interval = $1 WHERE repo_key = $2`
	}

	res, err := s.db.ExecContext(ctx, query, seconds, entityID)
	if err != nil {
		return apperrors.NewStoreWriteError("set update interval", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s %s", entityType, entityID))
	}
	return nil
}

// SaveReportSchedule persists a report schedule with its recipient list
func (s *postgresStorage) SaveReportSchedule(ctx context.Context, schedule *domain.ReportSchedule) (int64, error) {
	recipientsJSON, err := json.Marshal(schedule.Recipients)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO report_schedules (report_type, frequency, recipients, report_format, is_active, next_run_time)
		VALUES ($1, $2, $3, $4, true, $5)
		RETURNING id`,
		schedule.ReportType, schedule.Frequency, string(recipientsJSON),
		schedule.Format, schedule.NextRun,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.NewStoreWriteError("save report schedule", err)
	}
	return id, nil
}

// ListReportSchedules returns all report schedules ordered by next run
func (s *postgresStorage) ListReportSchedules(ctx context.Context) ([]*domain.ReportSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, report_type, frequency, recipients, report_format, is_active,
			COALESCE(next_run_time, created_at), last_run, created_at
		FROM report_schedules
		ORDER BY next_run_time`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*domain.ReportSchedule
	for rows.Next() {
		var sched domain.ReportSchedule
		var recipientsJSON string
		var lastRun sql.NullTime
		err := rows.Scan(&sched.ID, &sched.ReportType, &sched.Frequency, &recipientsJSON,
			&sched.Format, &sched.IsActive, &sched.NextRun, &lastRun, &sched.CreatedAt)
		if err != nil {
			return nil, err
		}
		if lastRun.Valid {
			sched.LastRun = &lastRun.Time
		}
		if err := json.Unmarshal([]byte(recipientsJSON), &sched.Recipients); err != nil {
			return nil, err
		}
		schedules = append(schedules, &sched)
	}
	return schedules, rows.Err()
}

// ToggleReportSchedule activates or deactivates a schedule
func (s *postgresStorage) ToggleReportSchedule(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE report_schedules SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return apperrors.NewStoreWriteError("toggle report schedule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("report schedule %d", id))
	}
	return nil
}

// DeleteReportSchedule removes a schedule
func (s *postgresStorage) DeleteReportSchedule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM report_schedules WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewStoreWriteError("delete report schedule", err)
	}
	return nil
}

// ReportRecipients returns the de-duplicated recipient list for a report
// frequency across all active schedules
func (s *postgresStorage) ReportRecipients(ctx context.Context, reportType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipients FROM report_schedules
		WHERE frequency = $1 AND is_active = true`, reportType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var recipients []string
	for rows.Next() {
		var recipientsJSON string
		if err := rows.Scan(&recipientsJSON); err != nil {
			return nil, err
		}
		var list []string
		if err := json.Unmarshal([]byte(recipientsJSON), &list); err != nil {
			continue
		}
		for _, r := range list {
			if !seen[r] {
				seen[r] = true
				recipients = append(recipients, r)
			}
		}
	}
	return recipients, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
