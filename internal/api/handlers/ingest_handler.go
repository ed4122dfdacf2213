package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/metrics"
	"github.com/ssm-ops/watchtower/internal/services"
)

// IngestHandler receives request telemetry from the edge proxy and feeds it
// to the classifier. Classification failures never surface as errors here;
// only malformed payloads are rejected, and those are dropped and counted.
type IngestHandler struct {
	classifier *services.ClassifierService
}

func NewIngestHandler(classifier *services.ClassifierService) *IngestHandler {
	return &IngestHandler{classifier: classifier}
}

func (h *IngestHandler) Ingest(c *gin.Context) {
	var telemetry services.Telemetry
	if err := c.ShouldBindJSON(&telemetry); err != nil {
		metrics.IncIngestDropped()
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid telemetry payload"})
		return
	}

	log, err := h.classifier.Classify(telemetry)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTelemetry) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":   log.RequestID,
		"threat_level": log.ThreatLevel,
		"risk_score":   log.RiskScore,
		"blocked":      log.Blocked,
		"challenge":    log.ChallengeIssued,
	})
}
