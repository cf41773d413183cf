package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printq/internal/core"
)

type CreatePrinterRequest struct {
	Name     string            `json:"name" binding:"required"`
	Address  string            `json:"address"`
	Location string            `json:"location"`
	Metadata map[string]string `json:"metadata"`
}

type PrinterListResponse struct {
	Printers []core.Printer `json:"printers"`
	Count    int            `json:"count"`
}

type PrinterHandler struct {
	registry *core.Registry
}

func NewPrinterHandler(registry *core.Registry) *PrinterHandler {
	return &PrinterHandler{registry: registry}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers := h.registry.List()
	c.JSON(http.StatusOK, PrinterListResponse{Printers: printers, Count: len(printers)})
}

func (h *PrinterHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	meta := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Address != "" {
		meta[core.MetaAddress] = req.Address
	}
	if req.Location != "" {
		meta[core.MetaLocation] = req.Location
	}

	err := h.registry.Register(c.Request.Context(), req.Name, meta)
	switch {
	case errors.Is(err, core.ErrPrinterAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, core.ErrInvalidPrinterName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register printer"})
		return
	}

	p, _ := h.registry.Get(req.Name)
	c.JSON(http.StatusCreated, p)
}

func (h *PrinterHandler) DeletePrinter(c *gin.Context) {
	err := h.registry.Deregister(c.Request.Context(), c.Param("name"))
	if errors.Is(err, core.ErrPrinterNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deregister printer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "printer deregistered"})
}

func (h *PrinterHandler) RefreshPrinter(c *gin.Context) {
	name := c.Param("name")
	if !h.registry.IsMember(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrPrinterNotFound.Error()})
		return
	}

	h.registry.RefreshStatus(c.Request.Context(), name)

	p, err := h.registry.Get(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", h.CreatePrinter)
	r.DELETE("/printers/:name", h.DeletePrinter)
	r.POST("/printers/:name/refresh", h.RefreshPrinter)
}
