package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RuleType selects which matcher evaluates a detection rule. Each type is a
// closed variant with its own matcher; rules are never free-form expressions.
type RuleType string

const (
	RuleTypeSignature  RuleType = "signature"
	RuleTypeBehavioral RuleType = "behavioral"
	RuleTypeAnomaly    RuleType = "anomaly"
	RuleTypeReputation RuleType = "reputation"
)

// DetectionRule tags and acts on requests. Operators create and edit rules;
// the engine mutates only MatchCount/LastMatch on each hit and LastError/
// Enabled when a malformed rule gets isolated.
type DetectionRule struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	UUID string `json:"uuid" gorm:"uniqueIndex"`
	Name string `json:"name"`

	Type    RuleType `json:"type" gorm:"size:20;index"`
	Pattern string   `json:"pattern" gorm:"type:text"`
	// Field narrows what the signature matcher inspects: path, user_agent,
	// headers, query or body. Empty means path.
	Field string `json:"field"`
	// Threshold parameterizes behavioral (requests per window), anomaly
	// (deviation multiplier) and reputation (max acceptable score) matchers.
	Threshold float64 `json:"threshold"`
	// WindowSeconds is the trailing activity window for behavioral rules.
	WindowSeconds int `json:"window_seconds"`

	ThreatLevel ThreatLevel `json:"threat_level" gorm:"size:20"`
	Categories  StringSlice `json:"categories" gorm:"type:text"`
	Action      RuleAction  `json:"action" gorm:"size:20;default:log"`
	// AutoBlockDurationMinutes, with a block action, asks the block manager
	// for a temporary block of that length. Zero means no auto block.
	AutoBlockDurationMinutes int `json:"auto_block_duration_minutes"`

	Enabled    bool       `json:"enabled" gorm:"default:true;index"`
	MatchCount int64      `json:"match_count"`
	LastMatch  *time.Time `json:"last_match"`
	// LastError holds the reason a rule was disabled by the engine.
	LastError string `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *DetectionRule) BeforeCreate(tx *gorm.DB) (err error) {
	if r.UUID == "" {
		r.UUID = uuid.New().String()
	}
	return
}
