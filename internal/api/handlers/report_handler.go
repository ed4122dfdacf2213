package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/services"
)

// ReportHandler serves the read-only dashboard queries.
type ReportHandler struct {
	service *services.ReportService
}

func NewReportHandler(service *services.ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

func (h *ReportHandler) ComprehensiveMetrics(c *gin.Context) {
	out, err := h.service.ComprehensiveMetrics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute metrics"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReportHandler) GeographicDistribution(c *gin.Context) {
	out, err := h.service.GeographicDistribution()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute geographic distribution"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReportHandler) TopAttackingIPs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	out, err := h.service.TopAttackingIPs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute top attacking IPs"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ReportHandler) ThreatTimeline(c *gin.Context) {
	hoursBack, _ := strconv.Atoi(c.DefaultQuery("hours_back", "24"))
	out, err := h.service.ThreatTimeline(hoursBack)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute threat timeline"})
		return
	}
	c.JSON(http.StatusOK, out)
}
