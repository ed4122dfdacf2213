package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
)

// DetectionRuleHandler is the operator CRUD surface for detection rules.
type DetectionRuleHandler struct {
	db        *gorm.DB
	detection *services.DetectionService
}

func NewDetectionRuleHandler(db *gorm.DB, detection *services.DetectionService) *DetectionRuleHandler {
	return &DetectionRuleHandler{db: db, detection: detection}
}

func (h *DetectionRuleHandler) List(c *gin.Context) {
	var rules []models.DetectionRule
	if err := h.db.Order("id").Find(&rules).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list detection rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *DetectionRuleHandler) Create(c *gin.Context) {
	var rule models.DetectionRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := services.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Create(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create detection rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *DetectionRuleHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}

	var existing models.DetectionRule
	if err := h.db.First(&existing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Detection rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load detection rule"})
		return
	}

	var rule models.DetectionRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.ID = existing.ID
	rule.UUID = existing.UUID
	rule.MatchCount = existing.MatchCount
	rule.LastMatch = existing.LastMatch

	if err := services.ValidateRule(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.Save(&rule).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update detection rule"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *DetectionRuleHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}
	if err := h.db.Delete(&models.DetectionRule{}, id).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete detection rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Detection rule deleted"})
}

// Enable re-enables a rule the engine disabled after a matcher failure.
func (h *DetectionRuleHandler) Enable(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule id"})
		return
	}
	if err := h.detection.EnableRule(uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Detection rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enable detection rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Detection rule enabled"})
}
