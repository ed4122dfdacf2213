package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/models"
)

// NotificationService feeds the in-app operator notification list and fans
// pipeline events out to configured external channels. External delivery is
// fire-and-forget: a failing channel is logged, never propagated back into
// the pipeline.
type NotificationService struct {
	DB *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			id := matches[1]
			token := matches[2]
			return fmt.Sprintf("discord://%s@%s", token, id)
		}
	}
	return rawURL
}

// Internal notifications (DB)

func (s *NotificationService) Create(nType models.NotificationType, title, message string) (*models.Notification, error) {
	notification := &models.Notification{
		Type:    nType,
		Title:   title,
		Message: message,
		Read:    false,
	}
	result := s.DB.Create(notification)
	return notification, result.Error
}

func (s *NotificationService) List(unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.DB.Order("created_at desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	result := query.Find(&notifications)
	return notifications, result.Error
}

func (s *NotificationService) MarkAsRead(id string) error {
	return s.DB.Model(&models.Notification{}).Where("id = ?", id).Update("read", true).Error
}

func (s *NotificationService) MarkAllAsRead() error {
	return s.DB.Model(&models.Notification{}).Where("read = ?", false).Update("read", true).Error
}

// External notifications (shoutrrr and custom webhooks)

// SendExternal publishes an event to every enabled provider that subscribes
// to the event type. Event types: alert, incident, block, rule, test.
func (s *NotificationService) SendExternal(eventType, title, message string, data map[string]interface{}) {
	var providers []models.NotificationProvider
	if err := s.DB.Where("enabled = ?", true).Find(&providers).Error; err != nil {
		logger.Log().WithError(err).Error("failed to fetch notification providers")
		return
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	data["Title"] = title
	data["Message"] = message
	data["Time"] = time.Now().Format(time.RFC3339)
	data["EventType"] = eventType

	for _, provider := range providers {
		shouldSend := false
		switch eventType {
		case "alert":
			shouldSend = provider.NotifyAlerts
		case "incident":
			shouldSend = provider.NotifyIncidents
		case "block":
			shouldSend = provider.NotifyBlocks
		case "rule":
			shouldSend = provider.NotifyRules
		case "test":
			shouldSend = true
		default:
			shouldSend = true
		}

		if !shouldSend {
			continue
		}

		go func(p models.NotificationProvider) {
			if err := s.deliver(p, title, message, data); err != nil {
				logger.WithFields(map[string]interface{}{"provider": p.Name}).WithError(err).Error("notification delivery failed")
			}
		}(provider)
	}
}

func (s *NotificationService) deliver(p models.NotificationProvider, title, message string, data map[string]interface{}) error {
	if p.Type == "webhook" {
		return s.sendWebhook(p, data)
	}

	url := normalizeURL(p.Type, p.URL)
	// Newline reads better in chat apps.
	msg := fmt.Sprintf("%s\n\n%s", title, message)
	return shoutrrr.Send(url, msg)
}

func (s *NotificationService) sendWebhook(p models.NotificationProvider, data map[string]interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(p.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TestProvider sends a test message through a provider configuration.
func (s *NotificationService) TestProvider(p models.NotificationProvider) error {
	data := map[string]interface{}{
		"Title":     "Watchtower test notification",
		"Message":   "If you can read this, the channel works.",
		"Time":      time.Now().Format(time.RFC3339),
		"EventType": "test",
	}
	return s.deliver(p, "Watchtower test notification", "If you can read this, the channel works.", data)
}

// Provider CRUD

func (s *NotificationService) ListProviders() ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	result := s.DB.Order("created_at desc").Find(&providers)
	return providers, result.Error
}

func (s *NotificationService) CreateProvider(p *models.NotificationProvider) error {
	return s.DB.Create(p).Error
}

func (s *NotificationService) UpdateProvider(p *models.NotificationProvider) error {
	return s.DB.Save(p).Error
}

func (s *NotificationService) DeleteProvider(id string) error {
	return s.DB.Delete(&models.NotificationProvider{}, "id = ?", id).Error
}
