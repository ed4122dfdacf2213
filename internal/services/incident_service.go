package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/models"
)

var (
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrIncidentClosed    = errors.New("incident is closed")
	ErrInvalidTransition = errors.New("invalid incident transition")
)

// IncidentService owns the incident state machine and its append-only
// timeline. Transitions are forward-only and closed is terminal.
type IncidentService struct {
	db            *gorm.DB
	notifications *NotificationService
}

func NewIncidentService(db *gorm.DB, notifications *NotificationService) *IncidentService {
	return &IncidentService{db: db, notifications: notifications}
}

// Create opens a new incident and records the opening timeline event.
func (s *IncidentService) Create(incident *models.SecurityIncident, actor string, automated bool) error {
	if incident.Status == "" {
		incident.Status = models.IncidentOpen
	}
	if incident.Status != models.IncidentOpen {
		return fmt.Errorf("%w: incidents start open, not %q", ErrInvalidTransition, incident.Status)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(incident).Error; err != nil {
			return err
		}
		return tx.Create(&models.IncidentEvent{
			IncidentID: incident.ID,
			EventType:  "created",
			Actor:      actor,
			Automated:  automated,
			Details:    incident.Title,
		}).Error
	})
}

// CreateFromAlert escalates a raised alert into an incident.
func (s *IncidentService) CreateFromAlert(alert *models.SecurityAlert, sourceIPs []string) (*models.SecurityIncident, error) {
	incident := &models.SecurityIncident{
		Title:       fmt.Sprintf("Escalated: %s", alert.Title),
		Description: alert.Description,
		Severity:    alert.Severity,
		Status:      models.IncidentOpen,
		SourceIPs:   sourceIPs,
		AlertID:     &alert.ID,
		DetectedAt:  alert.CreatedAt,
	}
	if err := s.Create(incident, "alert_evaluator", true); err != nil {
		return nil, fmt.Errorf("escalate alert: %w", err)
	}

	if s.notifications != nil {
		s.notifications.SendExternal("incident", "Security incident opened", incident.Title, map[string]interface{}{
			"severity": string(incident.Severity),
			"incident": incident.UUID,
		})
	}
	return incident, nil
}

// Transition advances an incident to a later lifecycle state. Backward
// moves are rejected; a closed incident rejects everything.
func (s *IncidentService) Transition(id uint, to models.IncidentStatus, actor string, automated bool) (*models.SecurityIncident, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	var incident models.SecurityIncident
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&incident, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIncidentNotFound
			}
			return err
		}

		if incident.Status == models.IncidentClosed {
			return ErrIncidentClosed
		}
		if to.Rank() <= incident.Status.Rank() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, incident.Status, to)
		}

		now := time.Now()
		from := incident.Status
		incident.Status = to

		if to.Rank() >= models.IncidentResolved.Rank() && incident.ResolvedAt == nil {
			incident.ResolvedAt = &now
			mttr := int(now.Sub(incident.DetectedAt).Minutes())
			incident.MTTRMinutes = &mttr
		}
		if to == models.IncidentClosed {
			incident.ClosedAt = &now
		}

		if err := tx.Save(&incident).Error; err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
		return tx.Create(&models.IncidentEvent{
			IncidentID: incident.ID,
			EventType:  "status_changed",
			Actor:      actor,
			Automated:  automated,
			Details:    string(details),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// AddEvent appends a free-form timeline entry (notes, containment steps).
func (s *IncidentService) AddEvent(incidentID uint, eventType, actor, details string, automated bool) error {
	var count int64
	s.db.Model(&models.SecurityIncident{}).Where("id = ?", incidentID).Count(&count)
	if count == 0 {
		return ErrIncidentNotFound
	}
	return s.db.Create(&models.IncidentEvent{
		IncidentID: incidentID,
		EventType:  eventType,
		Actor:      actor,
		Automated:  automated,
		Details:    details,
	}).Error
}

// Get returns one incident with its timeline.
func (s *IncidentService) Get(id uint) (*models.SecurityIncident, []models.IncidentEvent, error) {
	var incident models.SecurityIncident
	if err := s.db.First(&incident, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrIncidentNotFound
		}
		return nil, nil, err
	}

	var events []models.IncidentEvent
	if err := s.db.Where("incident_id = ?", id).Order("created_at asc, id asc").Find(&events).Error; err != nil {
		return nil, nil, err
	}
	return &incident, events, nil
}

// List returns incidents newest first, optionally filtered by status.
func (s *IncidentService) List(status models.IncidentStatus) ([]models.SecurityIncident, error) {
	var incidents []models.SecurityIncident
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}
