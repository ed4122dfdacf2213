package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IncidentStatus is the incident lifecycle state. Transitions are forward
// only: open -> investigating -> contained -> resolved -> closed, and closed
// is terminal.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentContained     IncidentStatus = "contained"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

var incidentRanks = map[IncidentStatus]int{
	IncidentOpen:          0,
	IncidentInvestigating: 1,
	IncidentContained:     2,
	IncidentResolved:      3,
	IncidentClosed:        4,
}

// Rank returns the ordinal of the status within the lifecycle.
func (s IncidentStatus) Rank() int {
	return incidentRanks[s]
}

// Valid reports whether s is one of the known statuses.
func (s IncidentStatus) Valid() bool {
	_, ok := incidentRanks[s]
	return ok
}

// SecurityIncident is a tracked security event with a lifecycle and an
// append-only event timeline.
type SecurityIncident struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	UUID string `json:"uuid" gorm:"uniqueIndex"`

	Title       string         `json:"title"`
	Description string         `json:"description" gorm:"type:text"`
	Severity    ThreatLevel    `json:"severity" gorm:"size:20"`
	Status      IncidentStatus `json:"status" gorm:"size:20;default:open;index"`

	SourceIPs  StringSlice `json:"source_ips" gorm:"type:text"`
	Categories StringSlice `json:"categories" gorm:"type:text"`
	// AlertID links the alert this incident was escalated from, if any.
	AlertID    *uint  `json:"alert_id"`
	AssignedTo string `json:"assigned_to"`

	DetectedAt  time.Time  `json:"detected_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	ClosedAt    *time.Time `json:"closed_at"`
	MTTRMinutes *int       `json:"mttr_minutes"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *SecurityIncident) BeforeCreate(tx *gorm.DB) (err error) {
	if i.UUID == "" {
		i.UUID = uuid.New().String()
	}
	if i.DetectedAt.IsZero() {
		i.DetectedAt = time.Now()
	}
	return
}

// IncidentEvent is one entry in an incident's append-only timeline.
type IncidentEvent struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	IncidentID uint   `json:"incident_id" gorm:"index"`
	EventType  string `json:"event_type"`
	// Actor is the operator name for manual actions, or the subsystem name
	// for automated ones.
	Actor     string    `json:"actor"`
	Automated bool      `json:"automated"`
	Details   string    `json:"details" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}
