package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is an outbound channel (shoutrrr URL or custom
// webhook) the pipeline publishes alert, incident and block events to.
// Delivery is fire-and-forget from the pipeline's perspective.
type NotificationProvider struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"` // discord, slack, gotify, telegram, generic, webhook
	URL     string `json:"url"`  // the shoutrrr URL or webhook URL
	Enabled bool   `json:"enabled"`

	// Event preferences
	NotifyAlerts    bool `json:"notify_alerts" gorm:"default:true"`
	NotifyIncidents bool `json:"notify_incidents" gorm:"default:true"`
	NotifyBlocks    bool `json:"notify_blocks" gorm:"default:true"`
	NotifyRules     bool `json:"notify_rules" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}
