package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sonarboard/internal/domain"
	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/report"
	"sonarboard/internal/scheduler"
	"sonarboard/internal/storage"
)

// Handler exposes the dashboard API over HTTP
type Handler struct {
	store     storage.Storage
	scheduler *scheduler.Scheduler
	engine    *report.Engine
}

// NewHandler creates the API handler
func NewHandler(store storage.Storage, sched *scheduler.Scheduler, engine *report.Engine) *Handler {
	return &Handler{store: store, scheduler: sched, engine: engine}
}

// respondError maps the error taxonomy onto HTTP statuses
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeUnauthorized:
			status = http.StatusUnauthorized
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeTransient:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Health responds to liveness probes
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

type entityResponse struct {
	Key                 string     `json:"key"`
	Name                string     `json:"name"`
	IsActive            bool       `json:"is_active"`
	IsMarkedForDeletion bool       `json:"is_marked_for_deletion"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	GroupID             *int64     `json:"group_id,omitempty"`
	UpdateInterval      int        `json:"update_interval"`
	LastSeen            time.Time  `json:"last_seen"`
	CreatedAt           time.Time  `json:"created_at"`
}

func toEntityResponse(e *domain.Entity) entityResponse {
	return entityResponse{
		Key:                 e.Key,
		Name:                e.Name,
		IsActive:            e.IsActive,
		IsMarkedForDeletion: e.IsMarkedForDeletion,
		ConsecutiveFailures: e.ConsecutiveFailures,
		GroupID:             e.GroupID,
		UpdateInterval:      e.UpdateInterval,
		LastSeen:            e.LastSeen,
		CreatedAt:           e.CreatedAt,
	}
}

// ListProjects returns tracked projects; inactive ones only on request
func (h *Handler) ListProjects(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"
	entities, err := h.store.ListEntities(c.Request.Context(), includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		out = append(out, toEntityResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out, "count": len(out)})
}

// GetProject returns one tracked project
func (h *Handler) GetProject(c *gin.Context) {
	entity, err := h.store.GetEntity(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toEntityResponse(entity))
}

type snapshotResponse struct {
	Bugs            float64   `json:"bugs"`
	Vulnerabilities float64   `json:"vulnerabilities"`
	CodeSmells      float64   `json:"code_smells"`
	Coverage        float64   `json:"coverage"`
	Duplication     float64   `json:"duplicated_lines_density"`
	LinesOfCode     float64   `json:"ncloc"`
	TechnicalDebt   float64   `json:"sqale_index"`
	Timestamp       time.Time `json:"timestamp"`
}

func toSnapshotResponse(s *domain.Snapshot) snapshotResponse {
	return snapshotResponse{
		Bugs:            s.Bugs,
		Vulnerabilities: s.Vulnerabilities,
		CodeSmells:      s.CodeSmells,
		Coverage:        s.Coverage,
		Duplication:     s.Duplication,
		LinesOfCode:     s.LinesOfCode,
		TechnicalDebt:   s.TechnicalDebt,
		Timestamp:       s.Timestamp,
	}
}

// LatestMetrics returns the newest snapshot for a project
func (h *Handler) LatestMetrics(c *gin.Context) {
	key := c.Param("key")
	snap, err := h.store.LatestSnapshot(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	if snap == nil {
		respondError(c, apperrors.NewNotFoundError("metrics for "+key))
		return
	}

	resp := gin.H{
		"project": key,
		"metrics": toSnapshotResponse(snap),
	}
	if h.engine != nil {
		resp["quality_score"] = h.engine.QualityScore(snap.Values())
	}
	c.JSON(http.StatusOK, resp)
}

// MetricsHistory returns ordered snapshot history, optionally since a
// RFC3339 timestamp
func (h *Handler) MetricsHistory(c *gin.Context) {
	key := c.Param("key")

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, apperrors.NewBadRequestError("since must be RFC3339"))
			return
		}
		since = &t
	}

	snaps, err := h.store.History(c.Request.Context(), key, since)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]snapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toSnapshotResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"project": key, "history": out, "count": len(out)})
}

// TriggerRefresh schedules an immediate refresh for a project
func (h *Handler) TriggerRefresh(c *gin.Context) {
	key := c.Param("key")
	ctx := c.Request.Context()

	interval, err := h.store.GetUpdateInterval(ctx, domain.EntityTypeRepository, key)
	if err != nil {
		respondError(c, err)
		return
	}

	id := h.scheduler.ScheduleRefresh(domain.EntityTypeRepository, key, time.Duration(interval)*time.Second)
	if err := h.scheduler.TriggerNow(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "triggered"})
}

type intervalRequest struct {
	Seconds int `json:"seconds" binding:"required,min=60"`
}

// SetProjectInterval updates the refresh interval preference and reschedules
// the refresh job with the new cadence
func (h *Handler) SetProjectInterval(c *gin.Context) {
	key := c.Param("key")

	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("seconds is required and must be at least 60"))
		return
	}

	if err := h.store.SetUpdateInterval(c.Request.Context(), domain.EntityTypeRepository, key, req.Seconds); err != nil {
		respondError(c, err)
		return
	}
	h.scheduler.ScheduleRefresh(domain.EntityTypeRepository, key, time.Duration(req.Seconds)*time.Second)
	c.JSON(http.StatusOK, gin.H{"project": key, "update_interval": req.Seconds})
}

// MarkDeletion flags a project for deletion
func (h *Handler) MarkDeletion(c *gin.Context) {
	if err := h.store.MarkForDeletion(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": c.Param("key"), "marked_for_deletion": true})
}

// UnmarkDeletion clears the deletion flag
func (h *Handler) UnmarkDeletion(c *gin.Context) {
	if err := h.store.UnmarkForDeletion(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": c.Param("key"), "marked_for_deletion": false})
}

// DeleteProject removes a marked project and its history, and drops its
// refresh job
func (h *Handler) DeleteProject(c *gin.Context) {
	key := c.Param("key")
	if err := h.store.DeleteProjectData(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}
	h.scheduler.RemoveJob(domain.RefreshJobID(domain.EntityTypeRepository, key))
	c.JSON(http.StatusOK, gin.H{"project": key, "deleted": true})
}

// Sync discovers projects upstream and registers refresh jobs for them
func (h *Handler) Sync(c *gin.Context) {
	projects, err := h.scheduler.SyncProjects(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discovered": len(projects), "projects": projects})
}

type createGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateGroup creates a project group
func (h *Handler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("name is required"))
		return
	}

	id, err := h.store.CreateGroup(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "name": req.Name})
}

// ListGroups lists project groups
func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.store.ListGroups(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
}

func groupIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("group id must be numeric"))
		return 0, false
	}
	return id, true
}

// DeleteGroup removes a group and its refresh job
func (h *Handler) DeleteGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteGroup(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	h.scheduler.RemoveJob(domain.RefreshJobID(domain.EntityTypeGroup, c.Param("id")))
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}

// GroupProjects lists a group's members
func (h *Handler) GroupProjects(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	members, err := h.store.ProjectsInGroup(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]entityResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toEntityResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"group_id": id, "projects": out, "count": len(out)})
}

// AssignToGroup adds a project to a group
func (h *Handler) AssignToGroup(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}
	if err := h.store.AssignToGroup(c.Request.Context(), c.Param("key"), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": id, "project": c.Param("key")})
}

// RemoveFromGroup detaches a project from its group
func (h *Handler) RemoveFromGroup(c *gin.Context) {
	if _, ok := groupIDParam(c); !ok {
		return
	}
	if err := h.store.RemoveFromGroup(c.Request.Context(), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": c.Param("key"), "group_id": nil})
}

// SetGroupInterval updates a group's refresh cadence
func (h *Handler) SetGroupInterval(c *gin.Context) {
	id, ok := groupIDParam(c)
	if !ok {
		return
	}

	var req intervalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("seconds is required and must be at least 60"))
		return
	}

	if err := h.store.SetUpdateInterval(c.Request.Context(), domain.EntityTypeGroup, c.Param("id"), req.Seconds); err != nil {
		respondError(c, err)
		return
	}
	h.scheduler.ScheduleRefresh(domain.EntityTypeGroup, c.Param("id"), time.Duration(req.Seconds)*time.Second)
	c.JSON(http.StatusOK, gin.H{"group_id": id, "update_interval": req.Seconds})
}

// ReportPreview renders the period report as HTML without sending it
func (h *Handler) ReportPreview(c *gin.Context) {
	period := domain.ReportPeriod(c.Param("period"))
	html, err := h.engine.Generate(c.Request.Context(), period, c.Query("project"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

// Alerts runs breach detection across active projects and returns the result
func (h *Handler) Alerts(c *gin.Context) {
	alerts, err := h.engine.SweepAlerts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

// ListJobs returns the scheduler registry
func (h *Handler) ListJobs(c *gin.Context) {
	jobs := h.scheduler.Jobs()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// GetJob returns one job descriptor
func (h *Handler) GetJob(c *gin.Context) {
	desc, ok := h.scheduler.JobStatus(c.Param("id"))
	if !ok {
		respondError(c, apperrors.NewNotFoundError("job "+c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, desc)
}

type createScheduleRequest struct {
	ReportType string   `json:"report_type" binding:"required"`
	Frequency  string   `json:"frequency" binding:"required,oneof=daily weekly"`
	Recipients []string `json:"recipients" binding:"required,min=1"`
	Format     string   `json:"format"`
}

// CreateReportSchedule stores a recipient-list schedule
func (h *Handler) CreateReportSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("report_type, frequency (daily|weekly) and recipients are required"))
		return
	}
	if req.Format == "" {
		req.Format = "HTML"
	}

	id, err := h.store.SaveReportSchedule(c.Request.Context(), &domain.ReportSchedule{
		ReportType: req.ReportType,
		Frequency:  req.Frequency,
		Recipients: req.Recipients,
		Format:     req.Format,
		IsActive:   true,
		NextRun:    time.Now().UTC(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListReportSchedules lists stored schedules
func (h *Handler) ListReportSchedules(c *gin.Context) {
	schedules, err := h.store.ListReportSchedules(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "count": len(schedules)})
}

type toggleScheduleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// ToggleReportSchedule activates or deactivates a schedule
func (h *Handler) ToggleReportSchedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("schedule id must be numeric"))
		return
	}

	var req toggleScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("active is required"))
		return
	}

	if err := h.store.ToggleReportSchedule(c.Request.Context(), id, *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

// DeleteReportSchedule removes a schedule
func (h *Handler) DeleteReportSchedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError("schedule id must be numeric"))
		return
	}
	if err := h.store.DeleteReportSchedule(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
