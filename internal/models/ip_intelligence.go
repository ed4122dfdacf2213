package models

import (
	"time"
)

// IPIntelligence is the per-address rolling picture built up from every
// classified request. Counters are only ever touched through atomic SQL
// increments; concurrent classifications of the same address must not lose
// counts.
type IPIntelligence struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	IPAddress string `json:"ip_address" gorm:"uniqueIndex"`

	// ReputationScore in [0,100]; 100 is fully trusted, unknown addresses
	// default to 50.
	ReputationScore   int   `json:"reputation_score" gorm:"default:50"`
	TotalRequests     int64 `json:"total_requests"`
	MaliciousRequests int64 `json:"malicious_requests"`

	Country string `json:"country" gorm:"size:2"`
	ASN     uint   `json:"asn"`
	ISP     string `json:"isp"`

	Flags StringSlice `json:"flags" gorm:"type:text"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IPIntelligence) TableName() string {
	return "ip_intelligence"
}
