package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ssm-ops/watchtower/internal/geo"
	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/scoring"
)

var (
	ErrBlockNotFound = errors.New("ip block not found")
)

// ReputationService owns per-address intelligence and the block lifecycle.
// Intelligence counters are updated with atomic SQL increments so concurrent
// classifications of the same address never lose counts.
type ReputationService struct {
	db *gorm.DB

	// blockMu serializes block merges so overlapping CreateBlock calls for
	// one address converge to a single active row with the longest expiry.
	blockMu sync.Mutex
}

func NewReputationService(db *gorm.DB) *ReputationService {
	return &ReputationService{db: db}
}

// Reputation returns the trust estimate for an address in [0,100].
// Addresses without an intelligence row score the unknown default of 50.
func (s *ReputationService) Reputation(ip string) int {
	var intel models.IPIntelligence
	if err := s.db.Where("ip_address = ?", ip).First(&intel).Error; err != nil {
		return scoring.DefaultReputation
	}
	if intel.ReputationScore < 0 {
		return 0
	}
	if intel.ReputationScore > 100 {
		return 100
	}
	return intel.ReputationScore
}

// RecordActivity counts one observed request for the address, creating the
// intelligence row on first sight. The increments are a single upsert
// statement, not a read-modify-write.
func (s *ReputationService) RecordActivity(ip string, wasMalicious bool, info geo.Info) error {
	now := time.Now()
	malicious := 0
	if wasMalicious {
		malicious = 1
	}

	intel := models.IPIntelligence{
		IPAddress:         ip,
		ReputationScore:   scoring.DefaultReputation,
		TotalRequests:     1,
		MaliciousRequests: int64(malicious),
		Country:           info.Country,
		ASN:               info.ASN,
		ISP:               info.ISP,
		FirstSeen:         now,
		LastSeen:          now,
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_requests":     gorm.Expr("total_requests + 1"),
			"malicious_requests": gorm.Expr("malicious_requests + ?", malicious),
			"last_seen":          now,
		}),
	}).Create(&intel).Error
	if err != nil {
		return fmt.Errorf("record ip activity: %w", err)
	}

	// Reputation tracks the malicious ratio; recomputed in SQL so the
	// update stays atomic alongside the counters.
	return s.db.Model(&models.IPIntelligence{}).
		Where("ip_address = ?", ip).
		UpdateColumn("reputation_score", gorm.Expr("MAX(0, 100 - (malicious_requests * 100) / total_requests)")).Error
}

// Intelligence returns the stored intelligence row for an address.
func (s *ReputationService) Intelligence(ip string) (*models.IPIntelligence, error) {
	var intel models.IPIntelligence
	if err := s.db.Where("ip_address = ?", ip).First(&intel).Error; err != nil {
		return nil, err
	}
	return &intel, nil
}

// IsBlocked reports whether traffic from the address is currently denied.
// A whitelist entry short-circuits every block; expiry is evaluated lazily
// against now, and the exact expiry instant counts as expired.
func (s *ReputationService) IsBlocked(ip string) bool {
	now := time.Now()

	var whitelisted int64
	s.db.Model(&models.IPBlock{}).
		Where("ip_address = ? AND block_type = ? AND active = ?", ip, models.BlockWhitelist, true).
		Count(&whitelisted)
	if whitelisted > 0 {
		return false
	}

	var blocked int64
	s.db.Model(&models.IPBlock{}).
		Where("ip_address = ? AND block_type <> ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)",
			ip, models.BlockWhitelist, true, now).
		Count(&blocked)
	return blocked > 0
}

// RecordBlockedHit counts one denied request against the active block.
func (s *ReputationService) RecordBlockedHit(ip string) {
	s.db.Model(&models.IPBlock{}).
		Where("ip_address = ? AND block_type <> ? AND active = ?", ip, models.BlockWhitelist, true).
		UpdateColumn("requests_blocked", gorm.Expr("requests_blocked + 1"))
}

// CreateBlock denies traffic from an address. Duration nil means permanent.
// The call is idempotent: an existing active block is extended to the later
// expiry instead of duplicated, and permanent blocks are never shortened.
func (s *ReputationService) CreateBlock(ip, reason string, severity models.ThreatLevel, duration *time.Duration, source string) (*models.IPBlock, error) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	now := time.Now()
	var expiresAt *time.Time
	blockType := models.BlockPermanent
	if duration != nil {
		t := now.Add(*duration)
		expiresAt = &t
		blockType = models.BlockTemporary
	}

	var block models.IPBlock
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.IPBlock
		err := tx.Where("ip_address = ? AND block_type <> ? AND active = ? AND (expires_at IS NULL OR expires_at > ?)",
			ip, models.BlockWhitelist, true, now).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			block = models.IPBlock{
				IPAddress: ip,
				BlockType: blockType,
				Reason:    reason,
				Source:    source,
				Severity:  severity,
				BlockedAt: now,
				ExpiresAt: expiresAt,
				Active:    true,
			}
			return tx.Create(&block).Error
		}
		if err != nil {
			return err
		}

		// Merge: longest expiry wins, permanence is sticky.
		if existing.ExpiresAt != nil {
			if expiresAt == nil {
				existing.ExpiresAt = nil
				existing.BlockType = models.BlockPermanent
			} else if expiresAt.After(*existing.ExpiresAt) {
				existing.ExpiresAt = expiresAt
			}
		}
		if severity.Rank() > existing.Severity.Rank() {
			existing.Severity = severity
		}
		block = existing
		return tx.Save(&existing).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create ip block: %w", err)
	}
	return &block, nil
}

// Whitelist exempts an address from all block checks. Idempotent.
func (s *ReputationService) Whitelist(ip, reason, source string) (*models.IPBlock, error) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	var existing models.IPBlock
	err := s.db.Where("ip_address = ? AND block_type = ? AND active = ?", ip, models.BlockWhitelist, true).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	entry := models.IPBlock{
		IPAddress: ip,
		BlockType: models.BlockWhitelist,
		Reason:    reason,
		Source:    source,
		BlockedAt: time.Now(),
		Active:    true,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("create whitelist entry: %w", err)
	}
	return &entry, nil
}

// RemoveBlock deactivates a block or whitelist entry by id.
func (s *ReputationService) RemoveBlock(id uint) error {
	result := s.db.Model(&models.IPBlock{}).Where("id = ? AND active = ?", id, true).Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// ListBlocks returns active entries, optionally filtered by type.
func (s *ReputationService) ListBlocks(blockType models.BlockType) ([]models.IPBlock, error) {
	var blocks []models.IPBlock
	q := s.db.Where("active = ?", true).Order("blocked_at desc")
	if blockType != "" {
		q = q.Where("block_type = ?", blockType)
	}
	if err := q.Find(&blocks).Error; err != nil {
		return nil, err
	}
	return blocks, nil
}

// SweepExpired archives lapsed temporary blocks. Correctness never depends
// on the sweep; IsBlocked evaluates expiry lazily on every check.
func (s *ReputationService) SweepExpired() {
	now := time.Now()
	result := s.db.Model(&models.IPBlock{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("active", false)
	if result.Error != nil {
		logger.Log().WithError(result.Error).Error("failed to sweep expired blocks")
		return
	}
	if result.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{"archived": result.RowsAffected}).Info("archived expired ip blocks")
	}
}
