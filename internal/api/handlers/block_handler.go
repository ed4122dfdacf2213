package handlers

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
)

// BlockHandler manages IP blocks and whitelist entries.
type BlockHandler struct {
	service *services.ReputationService
}

func NewBlockHandler(service *services.ReputationService) *BlockHandler {
	return &BlockHandler{service: service}
}

func (h *BlockHandler) List(c *gin.Context) {
	blocks, err := h.service.ListBlocks(models.BlockType(c.Query("type")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list blocks"})
		return
	}
	c.JSON(http.StatusOK, blocks)
}

type createBlockRequest struct {
	IPAddress       string             `json:"ip_address" binding:"required"`
	BlockType       models.BlockType   `json:"block_type"`
	Reason          string             `json:"reason"`
	Severity        models.ThreatLevel `json:"severity"`
	DurationMinutes *int               `json:"duration_minutes"`
}

func (h *BlockHandler) Create(c *gin.Context) {
	var req createBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid block payload"})
		return
	}
	if net.ParseIP(req.IPAddress) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IP address"})
		return
	}

	if req.BlockType == models.BlockWhitelist {
		block, err := h.service.Whitelist(req.IPAddress, req.Reason, "manual")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to whitelist IP"})
			return
		}
		c.JSON(http.StatusCreated, block)
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = models.ThreatMedium
	}
	if !severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid severity"})
		return
	}

	var duration *time.Duration
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Duration must be positive"})
			return
		}
		d := time.Duration(*req.DurationMinutes) * time.Minute
		duration = &d
	}

	block, err := h.service.CreateBlock(req.IPAddress, req.Reason, severity, duration, "manual")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create block"})
		return
	}
	c.JSON(http.StatusCreated, block)
}

func (h *BlockHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid block id"})
		return
	}
	if err := h.service.RemoveBlock(uint(id)); err != nil {
		if errors.Is(err, services.ErrBlockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Block not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove block"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// Check reports whether an IP is currently blocked.
func (h *BlockHandler) Check(c *gin.Context) {
	ip := c.Query("ip")
	if net.ParseIP(ip) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IP address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ip_address": ip,
		"blocked":    h.service.IsBlocked(ip),
		"reputation": h.service.Reputation(ip),
	})
}
