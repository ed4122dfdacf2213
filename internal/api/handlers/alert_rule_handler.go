package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/models"
)

// AlertRuleHandler is the operator CRUD surface for alert rules.
type AlertRuleHandler struct {
	db *gorm.DB
}

func NewAlertRuleHandler(db *gorm.DB) *AlertRuleHandler {
	return &AlertRuleHandler{db: db}
}

func validateAlertRule(rule *models.AlertRule) string {
	if rule.Name == "" {
		return "Alert rule requires a name"
	}
	if !models.ValidOperator(rule.ThresholdOperator) {
		return "Unknown threshold operator"
	}
	switch rule.Metric {
	case models.MetricRequestCount, models.MetricThreatCount, models.MetricCriticalCount,
		models.MetricBlockedCount, models.MetricUniqueIPs, models.MetricAvgRiskScore,
		models.MetricErrorRate:
	default:
		return "Unknown alert metric"
	}
	if !rule.Severity.Valid() {
		return "Unknown severity"
	}
	if rule.EvaluationWindowMinutes <= 0 {
		return "Evaluation window must be positive"
	}
	return ""
}

func (h *AlertRuleHandler) List(c *gin.Context) {
	var rules []models.AlertRule
	if err := h.db.Order("id").Find(&rules).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alert rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *AlertRuleHandler) Create(c *gin.Context) {
	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rule.ThresholdOperator == "" {
		rule.ThresholdOperator = models.OpGreater
	}
	if rule.EvaluationWindowMinutes == 0 {
		rule.EvaluationWindowMinutes = 5
	}
	if msg := validateAlertRule(&rule); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if err := h.db.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *AlertRuleHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	var existing models.AlertRule
	if err := h.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load alert rule"})
		return
	}

	var rule models.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = existing.ID
	rule.UUID = existing.UUID
	rule.TriggerCount = existing.TriggerCount
	rule.LastTriggered = existing.LastTriggered

	if msg := validateAlertRule(&rule); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if err := h.db.Save(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert rule"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AlertRuleHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}
	if err := h.db.Delete(&models.AlertRule{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Alert rule deleted"})
}
