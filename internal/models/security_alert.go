package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// SecurityAlert is raised by the alert evaluator when a rule threshold
// breaches. Status moves forward (active -> acknowledged -> resolved)
// except suppression, which an operator may apply at any point.
type SecurityAlert struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	UUID string `json:"uuid" gorm:"uniqueIndex"`

	RuleID   uint        `json:"rule_id" gorm:"index"`
	Severity ThreatLevel `json:"severity" gorm:"size:20"`
	Status   AlertStatus `json:"status" gorm:"size:20;default:active;index"`

	Title       string `json:"title"`
	Description string `json:"description" gorm:"type:text"`
	// TriggerData is the JSON snapshot of the metric value, threshold and
	// implicated IPs at the moment the alert fired.
	TriggerData string `json:"trigger_data" gorm:"type:text"`

	AcknowledgedBy string     `json:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	ResolvedAt     *time.Time `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *SecurityAlert) BeforeCreate(tx *gorm.DB) (err error) {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return
}
