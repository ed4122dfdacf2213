package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/services"
)

// NotificationHandler serves the in-app notification list and the
// external provider configuration.
type NotificationHandler struct {
	service *services.NotificationService
}

func NewNotificationHandler(service *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	notifications, err := h.service.List(unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	if err := h.service.MarkAsRead(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	if err := h.service.MarkAllAsRead(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// Provider configuration

func (h *NotificationHandler) ListProviders(c *gin.Context) {
	providers, err := h.service.ListProviders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list providers"})
		return
	}
	c.JSON(http.StatusOK, providers)
}

func (h *NotificationHandler) CreateProvider(c *gin.Context) {
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider payload"})
		return
	}
	if provider.Name == "" || provider.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name and URL are required"})
		return
	}
	if err := h.service.CreateProvider(&provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create provider"})
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (h *NotificationHandler) UpdateProvider(c *gin.Context) {
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider payload"})
		return
	}
	provider.ID = c.Param("id")
	if err := h.service.UpdateProvider(&provider); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update provider"})
		return
	}
	c.JSON(http.StatusOK, provider)
}

func (h *NotificationHandler) DeleteProvider(c *gin.Context) {
	if err := h.service.DeleteProvider(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// TestProvider pushes a test message through a provider config without
// persisting it.
func (h *NotificationHandler) TestProvider(c *gin.Context) {
	var provider models.NotificationProvider
	if err := c.ShouldBindJSON(&provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider payload"})
		return
	}
	if err := h.service.TestProvider(provider); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Test delivery failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}
