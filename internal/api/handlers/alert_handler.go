package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
)

// AlertHandler exposes raised alerts and their status transitions.
type AlertHandler struct {
	service *services.AlertService
}

func NewAlertHandler(service *services.AlertService) *AlertHandler {
	return &AlertHandler{service: service}
}

func (h *AlertHandler) List(c *gin.Context) {
	alerts, err := h.service.List(models.AlertStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, alerts)
}

type alertActionRequest struct {
	Actor string `json:"actor"`
}

func (h *AlertHandler) Acknowledge(c *gin.Context) {
	h.applyAction(c, h.service.Acknowledge)
}

func (h *AlertHandler) Resolve(c *gin.Context) {
	h.applyAction(c, h.service.Resolve)
}

func (h *AlertHandler) Suppress(c *gin.Context) {
	h.applyAction(c, h.service.Suppress)
}

func (h *AlertHandler) applyAction(c *gin.Context, action func(uint, string) (*models.SecurityAlert, error)) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert id"})
		return
	}

	var req alertActionRequest
	_ = c.ShouldBindJSON(&req)
	if req.Actor == "" {
		req.Actor = "operator"
	}

	alert, err := action(uint(id), req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlertNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		case errors.Is(err, services.ErrAlertNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": "Alert status does not allow this action"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
		}
		return
	}
	c.JSON(http.StatusOK, alert)
}
