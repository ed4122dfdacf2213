package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BlockType string

const (
	BlockTemporary BlockType = "temporary"
	BlockPermanent BlockType = "permanent"
	BlockWhitelist BlockType = "whitelist"
)

// IPBlock governs whether an address's traffic is denied. A whitelist row
// pre-empts any block rows for the same address. ExpiresAt nil means the
// entry never lapses (permanent blocks and whitelist entries). Expiry is
// evaluated lazily at query time; the periodic sweep only archives rows.
type IPBlock struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	UUID string `json:"uuid" gorm:"uniqueIndex"`

	IPAddress string    `json:"ip_address" gorm:"index:idx_ip_blocks_ip_active,priority:1"`
	BlockType BlockType `json:"block_type" gorm:"size:20;default:temporary"`
	Reason    string    `json:"reason" gorm:"type:text"`
	// Source names what created the entry: a detection rule, an alert rule
	// or an operator.
	Source   string      `json:"source"`
	Severity ThreatLevel `json:"severity" gorm:"size:20"`

	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at"`

	RequestsBlocked int64 `json:"requests_blocked"`
	Active          bool  `json:"active" gorm:"default:true;index:idx_ip_blocks_ip_active,priority:2"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *IPBlock) BeforeCreate(tx *gorm.DB) (err error) {
	if b.UUID == "" {
		b.UUID = uuid.New().String()
	}
	if b.BlockedAt.IsZero() {
		b.BlockedAt = time.Now()
	}
	return
}

// Expired reports whether the entry has lapsed at the given instant. The
// exact expiry instant counts as expired.
func (b *IPBlock) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}
