package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/metrics"
)

type CreateJobRequest struct {
	OrderID  string `json:"order_id"`
	Article  string `json:"article"`
	FilePath string `json:"file_path" binding:"required"`
	Priority *int   `json:"priority"`
}

type JobListResponse struct {
	Jobs  []core.Job `json:"jobs"`
	Count int        `json:"count"`
}

type JobHandler struct {
	store           core.JobStore
	projector       *core.Projector
	defaultPriority int
}

func NewJobHandler(store core.JobStore, projector *core.Projector, defaultPriority int) *JobHandler {
	return &JobHandler{
		store:           store,
		projector:       projector,
		defaultPriority: defaultPriority,
	}
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.store.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	if state := c.Query("state"); state != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.State) == state {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	c.JSON(http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

func (h *JobHandler) ListCompleted(c *gin.Context) {
	jobs, err := h.store.ListCompleted(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list completed jobs"})
		return
	}

	c.JSON(http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	priority := h.defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	job := core.Job{
		OrderID:  req.OrderID,
		Article:  req.Article,
		FilePath: req.FilePath,
		Priority: priority,
	}
	id, err := h.store.Enqueue(c.Request.Context(), job)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateJobID) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}
	metrics.IncJobsEnqueued()

	if h.projector != nil {
		h.projector.OnTransition(req.OrderID, core.StatusQueued, "")
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "priority": priority})
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	id := c.Param("id")

	ok, err := h.store.Remove(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrJobNotFound.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

func (h *JobHandler) RestartJob(c *gin.Context) {
	id := c.Param("id")

	newID, ok, err := h.store.Restart(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to restart job"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrJobNotFound.Error()})
		return
	}

	if h.projector != nil {
		if job := findJob(c, h.store, newID); job != nil {
			h.projector.Observe(*job)
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": newID, "previous_id": id})
}

func findJob(c *gin.Context, store core.JobStore, id string) *core.Job {
	jobs, err := store.ListActive(c.Request.Context())
	if err != nil {
		return nil
	}
	for i := range jobs {
		if jobs[i].ID == id {
			return &jobs[i]
		}
	}
	return nil
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/completed", h.ListCompleted)
	r.POST("/jobs", h.CreateJob)
	r.DELETE("/jobs/:id", h.DeleteJob)
	r.POST("/jobs/:id/restart", h.RestartJob)
}
