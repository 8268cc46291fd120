package api

import "github.com/gin-gonic/gin"

// NewRouter builds the gin engine with all routes registered
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestLogger())

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sync", h.Sync)

		projects := v1.Group("/projects")
		{
			projects.GET("", h.ListProjects)
			projects.GET("/:key", h.GetProject)
			projects.GET("/:key/metrics/latest", h.LatestMetrics)
			projects.GET("/:key/metrics/history", h.MetricsHistory)
			projects.POST("/:key/refresh", h.TriggerRefresh)
			projects.PUT("/:key/interval", h.SetProjectInterval)
			projects.POST("/:key/deletion-mark", h.MarkDeletion)
			projects.DELETE("/:key/deletion-mark", h.UnmarkDeletion)
			projects.DELETE("/:key", h.DeleteProject)
		}

		groups := v1.Group("/groups")
		{
			groups.POST("", h.CreateGroup)
			groups.GET("", h.ListGroups)
			groups.DELETE("/:id", h.DeleteGroup)
			groups.GET("/:id/projects", h.GroupProjects)
			groups.POST("/:id/projects/:key", h.AssignToGroup)
			groups.DELETE("/:id/projects/:key", h.RemoveFromGroup)
			groups.PUT("/:id/interval", h.SetGroupInterval)
		}

		v1.GET("/reports/:period/preview", h.ReportPreview)
		v1.GET("/alerts", h.Alerts)

		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/:id", h.GetJob)

		schedules := v1.Group("/schedules")
		{
			schedules.POST("", h.CreateReportSchedule)
			schedules.GET("", h.ListReportSchedules)
			schedules.PATCH("/:id", h.ToggleReportSchedule)
			schedules.DELETE("/:id", h.DeleteReportSchedule)
		}
	}

	return r
}
