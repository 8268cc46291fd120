package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/scheduler"
	"sonarboard/internal/storage"
)

// stubStore serves canned entities. Unused Storage methods panic through the
// embedded nil interface.
type stubStore struct {
	storage.Storage

	entities  []*domain.Entity
	latest    *domain.Snapshot
	deleteErr error
	intervals map[string]int
}

func (s *stubStore) ListEntities(ctx context.Context, includeInactive bool) ([]*domain.Entity, error) {
	if includeInactive {
		return s.entities, nil
	}
	var active []*domain.Entity
	for _, e := range s.entities {
		if e.IsActive {
			active = append(active, e)
		}
	}
	return active, nil
}

func (s *stubStore) GetEntity(ctx context.Context, key string) (*domain.Entity, error) {
	for _, e := range s.entities {
		if e.Key == key {
			return e, nil
		}
	}
	return nil, apperrors.NewNotFoundError("repository " + key)
}

func (s *stubStore) LatestSnapshot(ctx context.Context, key string) (*domain.Snapshot, error) {
	return s.latest, nil
}

func (s *stubStore) GetUpdateInterval(ctx context.Context, entityType domain.EntityType, id string) (int, error) {
	if v, ok := s.intervals[id]; ok {
		return v, nil
	}
	return 3600, nil
}

func (s *stubStore) SetUpdateInterval(ctx context.Context, entityType domain.EntityType, id string, seconds int) error {
	if s.intervals == nil {
		s.intervals = make(map[string]int)
	}
	s.intervals[id] = seconds
	return nil
}

func (s *stubStore) DeleteProjectData(ctx context.Context, key string) error {
	return s.deleteErr
}

func newTestRouter(store *stubStore) http.Handler {
	sched := scheduler.New(store, nil, nil, nil, nil, scheduler.Options{DefaultInterval: time.Hour})
	h := NewHandler(store, sched, nil)
	return NewRouter(h)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListProjectsFiltersInactive(t *testing.T) {
	store := &stubStore{entities: []*domain.Entity{
		{Key: "active-proj", Name: "Active", IsActive: true},
		{Key: "dead-proj", Name: "Dead", IsActive: false},
	}}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodGet, "/api/v1/projects", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count    int `json:"count"`
		Projects []struct {
			Key string `json:"key"`
		} `json:"projects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "active-proj", resp.Projects[0].Key)

	w = doRequest(t, router, http.MethodGet, "/api/v1/projects?include_inactive=true", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestGetProjectNotFoundMapsTo404(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodGet, "/api/v1/projects/absent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestMetricsNotFoundWhenNoSnapshots(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodGet, "/api/v1/projects/p/metrics/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerRefreshReturnsJobID(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodPost, "/api/v1/projects/my-proj/refresh", "")

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "update_repository_my-proj")
}

func TestSetIntervalValidatesBody(t *testing.T) {
	store := &stubStore{}
	router := newTestRouter(store)

	t.Run("rejects missing body", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/projects/p/interval", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects sub-minute interval", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/projects/p/interval", `{"seconds":5}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("accepts valid interval", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPut, "/api/v1/projects/p/interval", `{"seconds":600}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 600, store.intervals["p"])
	})
}

func TestDeleteProjectRefusedWithoutMark(t *testing.T) {
	store := &stubStore{deleteErr: apperrors.NewBadRequestError("project must be marked for deletion first")}
	router := newTestRouter(store)

	w := doRequest(t, router, http.MethodDelete, "/api/v1/projects/p", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHistoryRejectsBadSince(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodGet, "/api/v1/projects/p/metrics/history?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobsEmptyRegistry(t *testing.T) {
	router := newTestRouter(&stubStore{})
	w := doRequest(t, router, http.MethodGet, "/api/v1/jobs", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
