package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertMetric names the aggregate an alert rule computes over the trailing
// evaluation window of request logs.
type AlertMetric string

const (
	MetricRequestCount  AlertMetric = "request_count"
	MetricThreatCount   AlertMetric = "threat_count"
	MetricCriticalCount AlertMetric = "critical_count"
	MetricBlockedCount  AlertMetric = "blocked_count"
	MetricUniqueIPs     AlertMetric = "unique_ips"
	MetricAvgRiskScore  AlertMetric = "avg_risk_score"
	MetricErrorRate     AlertMetric = "error_rate"
)

// Comparison operators for alert thresholds.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "="
	OpNotEqual     = "!="
)

// AlertRule is a periodic threshold check over recent request logs.
type AlertRule struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	UUID        string `json:"uuid" gorm:"uniqueIndex"`
	Name        string `json:"name"`
	Description string `json:"description" gorm:"type:text"`

	Metric            AlertMetric `json:"metric" gorm:"size:30"`
	ThresholdOperator string      `json:"threshold_operator" gorm:"size:2;default:>"`
	ThresholdValue    float64     `json:"threshold_value"`
	// EvaluationWindowMinutes is both the trailing window the metric is
	// computed over and the dedup window for raised alerts.
	EvaluationWindowMinutes int `json:"evaluation_window_minutes" gorm:"default:5"`

	Severity ThreatLevel `json:"severity" gorm:"size:20;default:medium"`
	// AutoBlock blocks the IPs implicated in the breach for
	// AutoBlockDurationMinutes.
	AutoBlock                bool `json:"auto_block"`
	AutoBlockDurationMinutes int  `json:"auto_block_duration_minutes" gorm:"default:60"`
	CreateIncident           bool `json:"create_incident"`

	NotificationChannels StringSlice `json:"notification_channels" gorm:"type:text"`

	Enabled       bool       `json:"enabled" gorm:"default:true;index"`
	TriggerCount  int64      `json:"trigger_count"`
	LastTriggered *time.Time `json:"last_triggered"`
	// LastError holds the reason a rule was disabled by the evaluator.
	LastError string `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *AlertRule) BeforeCreate(tx *gorm.DB) (err error) {
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	return
}

// ValidOperator reports whether op is a supported comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}
