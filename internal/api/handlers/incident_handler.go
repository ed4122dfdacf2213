package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
)

// IncidentHandler exposes incident lifecycle operations and timelines.
type IncidentHandler struct {
	service *services.IncidentService
}

func NewIncidentHandler(service *services.IncidentService) *IncidentHandler {
	return &IncidentHandler{service: service}
}

func (h *IncidentHandler) List(c *gin.Context) {
	incidents, err := h.service.List(models.IncidentStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list incidents"})
		return
	}
	c.JSON(http.StatusOK, incidents)
}

type createIncidentRequest struct {
	Title       string             `json:"title" binding:"required"`
	Description string             `json:"description"`
	Severity    models.ThreatLevel `json:"severity" binding:"required"`
	SourceIPs   models.StringSlice `json:"source_ips"`
	Actor       string             `json:"actor"`
}

func (h *IncidentHandler) Create(c *gin.Context) {
	var req createIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident payload"})
		return
	}
	if !req.Severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	incident := &models.SecurityIncident{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Status:      models.IncidentOpen,
		SourceIPs:   req.SourceIPs,
	}
	if err := h.service.Create(incident, req.Actor, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create incident"})
		return
	}
	c.JSON(http.StatusCreated, incident)
}

func (h *IncidentHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident id"})
		return
	}
	incident, timeline, err := h.service.Get(uint(id))
	if err != nil {
		if errors.Is(err, services.ErrIncidentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load incident"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": incident, "timeline": timeline})
}

type transitionRequest struct {
	Status models.IncidentStatus `json:"status" binding:"required"`
	Actor  string                `json:"actor"`
}

func (h *IncidentHandler) Transition(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident id"})
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transition payload"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	incident, err := h.service.Transition(uint(id), req.Status, req.Actor, false)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
		case errors.Is(err, services.ErrIncidentClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "Incident is closed"})
		case errors.Is(err, services.ErrInvalidTransition):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status transition"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to transition incident"})
		}
		return
	}
	c.JSON(http.StatusOK, incident)
}

type incidentEventRequest struct {
	EventType string `json:"event_type" binding:"required"`
	Details   string `json:"details"`
	Actor     string `json:"actor"`
}

func (h *IncidentHandler) AddEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid incident id"})
		return
	}
	var req incidentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event payload"})
		return
	}
	if req.Actor == "" {
		req.Actor = "operator"
	}

	if err := h.service.AddEvent(uint(id), req.EventType, req.Actor, req.Details, false); err != nil {
		if errors.Is(err, services.ErrIncidentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record event"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}
