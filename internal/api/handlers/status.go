package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/orders"
)

type QueueSummary struct {
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
}

type StatusResponse struct {
	Queue      QueueSummary       `json:"queue"`
	Dispatcher DispatcherState    `json:"dispatcher"`
	Printers   []core.Printer     `json:"printers"`
	Orders     []core.StatusEntry `json:"orders"`
}

type DispatcherState struct {
	Running  bool              `json:"running"`
	InFlight map[string]string `json:"in_flight"`
}

// StatusHandler serves the operator overview and the dispatcher and ingest
// controls. Long-lived work is started on ctx rather than the request's.
type StatusHandler struct {
	ctx        context.Context
	store      core.JobStore
	registry   *core.Registry
	dispatcher *core.Dispatcher
	projector  *core.Projector
	ingestor   *orders.Ingestor
}

func NewStatusHandler(ctx context.Context, store core.JobStore, registry *core.Registry, dispatcher *core.Dispatcher, projector *core.Projector, ingestor *orders.Ingestor) *StatusHandler {
	return &StatusHandler{
		ctx:        ctx,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		projector:  projector,
		ingestor:   ingestor,
	}
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := h.store.ListActive(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	completed, err := h.store.ListCompleted(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list completed jobs"})
		return
	}

	var summary QueueSummary
	for _, j := range active {
		if j.State == core.JobStateAssigned {
			summary.Assigned++
		} else {
			summary.Pending++
		}
	}
	summary.Completed = len(completed)

	resp := StatusResponse{
		Queue:      summary,
		Dispatcher: h.dispatcherState(),
		Printers:   h.registry.List(),
		Orders:     []core.StatusEntry{},
	}
	if h.projector != nil {
		resp.Orders = h.projector.Snapshot()
	}

	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) dispatcherState() DispatcherState {
	if h.dispatcher == nil {
		return DispatcherState{InFlight: map[string]string{}}
	}
	return DispatcherState{Running: h.dispatcher.Running(), InFlight: h.dispatcher.InFlight()}
}

func (h *StatusHandler) GetDispatcher(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcherState())
}

func (h *StatusHandler) StartDispatcher(c *gin.Context) {
	if err := h.dispatcher.Start(h.ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.dispatcherState())
}

func (h *StatusHandler) StopDispatcher(c *gin.Context) {
	h.dispatcher.Stop()
	c.JSON(http.StatusOK, h.dispatcherState())
}

func (h *StatusHandler) IngestOrders(c *gin.Context) {
	if h.ingestor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order intake is not configured"})
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if core.IsConfigError(err) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *StatusHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.GetStatus)
	r.GET("/dispatcher", h.GetDispatcher)
	r.POST("/dispatcher/start", h.StartDispatcher)
	r.POST("/dispatcher/stop", h.StopDispatcher)
	r.POST("/orders/ingest", h.IngestOrders)
}
