package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/storage"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeSnapshot(t *testing.T, store storage.Storage, key string, bugs float64) {
	t.Helper()
	err := store.UpsertSnapshot(context.Background(), key, "", domain.MetricValues{Bugs: bugs}, true)
	require.NoError(t, err)
	// Snapshots are stamped with write time; keep them strictly ordered
	time.Sleep(5 * time.Millisecond)
}

func TestUpsertSnapshotCreatesAndRefreshesEntity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertSnapshot(ctx, "proj-a", "Project A", domain.MetricValues{Bugs: 4}, true)
	require.NoError(t, err)

	entity, err := store.GetEntity(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, "Project A", entity.Name)
	assert.True(t, entity.IsActive)
	assert.Equal(t, 0, entity.ConsecutiveFailures)

	t.Run("empty name preserves the stored one", func(t *testing.T) {
		require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "", domain.MetricValues{Bugs: 5}, true))
		entity, err := store.GetEntity(ctx, "proj-a")
		require.NoError(t, err)
		assert.Equal(t, "Project A", entity.Name)
	})

	t.Run("missing entity falls back to the key as name", func(t *testing.T) {
		require.NoError(t, store.UpsertSnapshot(ctx, "proj-b", "", domain.MetricValues{}, true))
		entity, err := store.GetEntity(ctx, "proj-b")
		require.NoError(t, err)
		assert.Equal(t, "proj-b", entity.Name)
	})
}

func TestHistoryOrderedAndLatestIsNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, bugs := range []float64{1, 2, 3} {
		writeSnapshot(t, store, "proj-a", bugs)
	}

	history, err := store.History(ctx, "proj-a", nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].Timestamp.Before(history[i-1].Timestamp),
			"history must come back in ascending timestamp order")
	}
	assert.Equal(t, []float64{1, 2, 3},
		[]float64{history[0].Bugs, history[1].Bugs, history[2].Bugs})

	latest, err := store.LatestSnapshot(ctx, "proj-a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.Bugs)
	assert.Equal(t, history[2].Timestamp, latest.Timestamp)

	t.Run("since filters older snapshots", func(t *testing.T) {
		since := history[1].Timestamp
		filtered, err := store.History(ctx, "proj-a", &since)
		require.NoError(t, err)
		require.Len(t, filtered, 2)
		assert.Equal(t, 2.0, filtered[0].Bugs)
	})

	t.Run("no snapshots yields nil latest", func(t *testing.T) {
		latest, err := store.LatestSnapshot(ctx, "never-seen")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})
}

func TestSnapshotsInWindowBounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	writeSnapshot(t, store, "proj-a", 1)
	writeSnapshot(t, store, "proj-a", 2)

	history, err := store.History(ctx, "proj-a", nil)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Upper bound is exclusive: a window ending at the second snapshot's
	// timestamp must only contain the first
	window, err := store.SnapshotsInWindow(ctx, "proj-a",
		history[0].Timestamp, history[1].Timestamp)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, 1.0, window[0].Bugs)
}

func TestFailureCounterLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "A", domain.MetricValues{}, true))

	count, err := store.IncrementFailures(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = store.IncrementFailures(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.MarkInactive(ctx, "proj-a"))
	entity, err := store.GetEntity(ctx, "proj-a")
	require.NoError(t, err)
	assert.False(t, entity.IsActive)

	// A successful fetch reactivates and resets the counter
	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "", domain.MetricValues{}, true))
	entity, err = store.GetEntity(ctx, "proj-a")
	require.NoError(t, err)
	assert.True(t, entity.IsActive)
	assert.Equal(t, 0, entity.ConsecutiveFailures)

	t.Run("unknown key is not found", func(t *testing.T) {
		_, err := store.IncrementFailures(ctx, "never-seen")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestUpsertWithoutResetKeepsFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "A", domain.MetricValues{}, true))
	_, err := store.IncrementFailures(ctx, "proj-a")
	require.NoError(t, err)

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "", domain.MetricValues{}, false))

	entity, err := store.GetEntity(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 1, entity.ConsecutiveFailures,
		"a non-resetting upsert must not mask failure history")
}

func TestDeleteProjectDataRequiresMark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "A", domain.MetricValues{Bugs: 1}, true))

	err := store.DeleteProjectData(ctx, "proj-a")
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeBadRequest, appErr.Code)

	require.NoError(t, store.MarkForDeletion(ctx, "proj-a"))
	require.NoError(t, store.DeleteProjectData(ctx, "proj-a"))

	_, err = store.GetEntity(ctx, "proj-a")
	assert.True(t, apperrors.IsNotFound(err))

	history, err := store.History(ctx, "proj-a", nil)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGroupMembershipAndSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	groupID, err := store.CreateGroup(ctx, "backend", "backend services")
	require.NoError(t, err)

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "A", domain.MetricValues{}, true))
	require.NoError(t, store.UpsertSnapshot(ctx, "proj-b", "B", domain.MetricValues{}, true))
	require.NoError(t, store.AssignToGroup(ctx, "proj-a", groupID))
	require.NoError(t, store.AssignToGroup(ctx, "proj-b", groupID))

	members, err := store.ProjectsInGroup(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	swept, err := store.SweepStaleEntities(ctx, []string{"proj-a", "proj-b"},
		map[string]bool{"proj-a": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"proj-b"}, swept)

	entity, err := store.GetEntity(ctx, "proj-b")
	require.NoError(t, err)
	assert.False(t, entity.IsActive)

	t.Run("already inactive members are not swept again", func(t *testing.T) {
		swept, err := store.SweepStaleEntities(ctx, []string{"proj-a", "proj-b"},
			map[string]bool{"proj-a": true})
		require.NoError(t, err)
		assert.Empty(t, swept)
	})
}

func TestUpdateIntervalRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSnapshot(ctx, "proj-a", "A", domain.MetricValues{}, true))

	interval, err := store.GetUpdateInterval(ctx, domain.EntityTypeRepository, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 3600, interval)

	require.NoError(t, store.SetUpdateInterval(ctx, domain.EntityTypeRepository, "proj-a", 900))
	interval, err = store.GetUpdateInterval(ctx, domain.EntityTypeRepository, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 900, interval)

	t.Run("unknown entity gets the default", func(t *testing.T) {
		interval, err := store.GetUpdateInterval(ctx, domain.EntityTypeRepository, "never-seen")
		require.NoError(t, err)
		assert.Equal(t, 3600, interval)
	})

	t.Run("setting on an unknown entity is not found", func(t *testing.T) {
		err := store.SetUpdateInterval(ctx, domain.EntityTypeRepository, "never-seen", 900)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestReportScheduleRecipients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.SaveReportSchedule(ctx, &domain.ReportSchedule{
		ReportType: "summary",
		Frequency:  "daily",
		Recipients: []string{"a@example.com", "b@example.com"},
		Format:     "HTML",
		NextRun:    time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = store.SaveReportSchedule(ctx, &domain.ReportSchedule{
		ReportType: "summary",
		Frequency:  "daily",
		Recipients: []string{"b@example.com", "c@example.com"},
		Format:     "HTML",
		NextRun:    time.Now().UTC(),
	})
	require.NoError(t, err)

	recipients, err := store.ReportRecipients(ctx, "daily")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com", "c@example.com"}, recipients)

	t.Run("deactivated schedules drop out", func(t *testing.T) {
		require.NoError(t, store.ToggleReportSchedule(ctx, id, false))
		recipients, err := store.ReportRecipients(ctx, "daily")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"b@example.com", "c@example.com"}, recipients)
	})
}
