package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestLog is the persisted classification of a single observed request.
// Rows are written once on the hot path and never mutated afterwards, except
// ProcessedAt which background jobs fill in late.
type RequestLog struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	RequestID string `json:"request_id" gorm:"uniqueIndex"`

	IPAddress string    `json:"ip_address" gorm:"index:idx_request_logs_ip_time,priority:1"`
	UserAgent string    `json:"user_agent" gorm:"type:text"`
	Referer   string    `json:"referer" gorm:"type:text"`
	Origin    string    `json:"origin" gorm:"type:text"`
	Method    string    `json:"method"`
	Path      string    `json:"path" gorm:"index:idx_request_logs_path_time,priority:1"`
	Query     StringMap `json:"query_params" gorm:"type:text"`
	Headers   StringMap `json:"headers" gorm:"type:text"`
	BodySize  int       `json:"body_size"`

	Country string `json:"country" gorm:"size:2;index:idx_request_logs_country_time,priority:1"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ASN     uint   `json:"asn"`
	ISP     string `json:"isp"`

	ThreatLevel      ThreatLevel `json:"threat_level" gorm:"size:20;default:safe;index:idx_request_logs_level_time,priority:1"`
	ThreatCategories StringSlice `json:"threat_categories" gorm:"type:text"`
	RiskScore        int         `json:"risk_score" gorm:"index:idx_request_logs_risk_time,priority:1"`
	ConfidenceScore  float64     `json:"confidence_score"`
	SignatureMatches StringSlice `json:"signature_matches" gorm:"type:text"`
	BehavioralFlags  StringSlice `json:"behavioral_flags" gorm:"type:text"`
	AnomalyScore     float64     `json:"anomaly_score"`

	ResponseStatus  int  `json:"response_status"`
	ResponseTimeMs  int  `json:"response_time_ms"`
	Blocked         bool `json:"blocked"`
	ChallengeIssued bool `json:"challenge_issued"`

	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_request_logs_ip_time,priority:2;index:idx_request_logs_country_time,priority:2;index:idx_request_logs_path_time,priority:2;index:idx_request_logs_risk_time,priority:2;index:idx_request_logs_level_time,priority:2"`
	ProcessedAt *time.Time `json:"processed_at"`
}

func (r *RequestLog) BeforeCreate(tx *gorm.DB) (err error) {
	if r.RequestID == "" {
		r.RequestID = uuid.New().String()
	}
	return
}

// IsThreat reports whether the log carries any threat level above safe.
func (r *RequestLog) IsThreat() bool {
	return r.ThreatLevel.Rank() > ThreatSafe.Rank()
}
