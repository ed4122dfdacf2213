package services

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/models"
)

// RollupService computes the idempotent hourly and daily metric buckets.
// A bucket row is keyed by its start time and written with insert-or-ignore,
// so replaying a rollup never double-counts; a concurrent aggregator for the
// same bucket is fenced off by a claim row first.
type RollupService struct {
	db *gorm.DB
}

func NewRollupService(db *gorm.DB) *RollupService {
	return &RollupService{db: db}
}

type bucketAggregate struct {
	total           int64
	uniqueIPs       int64
	uniqueCountries int64
	levelCounts     map[models.ThreatLevel]int64
	blocked         int64
	avgResponseMs   float64
	p95ResponseMs   float64
	topCountries    models.CountMap
	topCategories   models.CountMap
	topThreatIPs    models.CountMap
}

// RollupHour aggregates one fully-elapsed hour. Re-running for an already
// aggregated bucket is a success no-op.
func (s *RollupService) RollupHour(bucketStart time.Time) error {
	bucketStart = bucketStart.UTC().Truncate(time.Hour)

	claimed, err := s.claim("rollup_hourly", bucketStart)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	agg, err := s.aggregate(bucketStart, bucketStart.Add(time.Hour))
	if err != nil {
		s.releaseClaim("rollup_hourly", bucketStart)
		return err
	}

	row := models.MetricsHourly{
		BucketStart:       bucketStart,
		TotalRequests:     agg.total,
		UniqueIPs:         agg.uniqueIPs,
		UniqueCountries:   agg.uniqueCountries,
		SafeCount:         agg.levelCounts[models.ThreatSafe],
		LowCount:          agg.levelCounts[models.ThreatLow],
		MediumCount:       agg.levelCounts[models.ThreatMedium],
		HighCount:         agg.levelCounts[models.ThreatHigh],
		CriticalCount:     agg.levelCounts[models.ThreatCritical],
		BlockedCount:      agg.blocked,
		AvgResponseTimeMs: agg.avgResponseMs,
		P95ResponseTimeMs: agg.p95ResponseMs,
		TopCountries:      agg.topCountries,
		TopCategories:     agg.topCategories,
		TopThreatIPs:      agg.topThreatIPs,
	}

	// Insert-or-ignore keyed on bucket_start: an existing row means the
	// bucket was already rolled up, which is success, not a conflict.
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket_start"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write hourly bucket: %w", err)
	}

	s.markProcessed(bucketStart, bucketStart.Add(time.Hour))
	return nil
}

// markProcessed stamps processed_at on the bucket's raw logs once their
// aggregation exists. Late-fills NULLs only, so re-runs keep the original
// stamp.
func (s *RollupService) markProcessed(start, end time.Time) {
	err := s.db.Model(&models.RequestLog{}).
		Where("created_at >= ? AND created_at < ? AND processed_at IS NULL", start, end).
		Update("processed_at", time.Now()).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{"bucket": start}).WithError(err).Error("failed to mark bucket logs processed")
	}
}

// RollupDay aggregates one fully-elapsed day.
func (s *RollupService) RollupDay(bucketStart time.Time) error {
	bucketStart = bucketStart.UTC().Truncate(24 * time.Hour)

	claimed, err := s.claim("rollup_daily", bucketStart)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	agg, err := s.aggregate(bucketStart, bucketStart.Add(24*time.Hour))
	if err != nil {
		s.releaseClaim("rollup_daily", bucketStart)
		return err
	}

	row := models.MetricsDaily{
		BucketStart:       bucketStart,
		TotalRequests:     agg.total,
		UniqueIPs:         agg.uniqueIPs,
		UniqueCountries:   agg.uniqueCountries,
		SafeCount:         agg.levelCounts[models.ThreatSafe],
		LowCount:          agg.levelCounts[models.ThreatLow],
		MediumCount:       agg.levelCounts[models.ThreatMedium],
		HighCount:         agg.levelCounts[models.ThreatHigh],
		CriticalCount:     agg.levelCounts[models.ThreatCritical],
		BlockedCount:      agg.blocked,
		AvgResponseTimeMs: agg.avgResponseMs,
		P95ResponseTimeMs: agg.p95ResponseMs,
		TopCountries:      agg.topCountries,
		TopCategories:     agg.topCategories,
		TopThreatIPs:      agg.topThreatIPs,
	}

	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket_start"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write daily bucket: %w", err)
	}
	return nil
}

// RunPendingHourly rolls up every fully-elapsed hour of the trailing two
// days that has no bucket row yet. Safe to call from a retrying scheduler.
func (s *RollupService) RunPendingHourly(now time.Time) {
	end := now.UTC().Truncate(time.Hour)
	for bucket := end.Add(-48 * time.Hour); bucket.Before(end); bucket = bucket.Add(time.Hour) {
		var exists int64
		s.db.Model(&models.MetricsHourly{}).Where("bucket_start = ?", bucket).Count(&exists)
		if exists > 0 {
			continue
		}
		if err := s.RollupHour(bucket); err != nil {
			logger.WithFields(map[string]interface{}{"bucket": bucket}).WithError(err).Error("hourly rollup failed")
		}
	}
}

// RunPendingDaily rolls up every fully-elapsed day of the trailing week.
func (s *RollupService) RunPendingDaily(now time.Time) {
	end := now.UTC().Truncate(24 * time.Hour)
	for bucket := end.Add(-7 * 24 * time.Hour); bucket.Before(end); bucket = bucket.Add(24 * time.Hour) {
		var exists int64
		s.db.Model(&models.MetricsDaily{}).Where("bucket_start = ?", bucket).Count(&exists)
		if exists > 0 {
			continue
		}
		if err := s.RollupDay(bucket); err != nil {
			logger.WithFields(map[string]interface{}{"bucket": bucket}).WithError(err).Error("daily rollup failed")
		}
	}
}

// claim fences one bucket to a single aggregator via insert-or-ignore.
func (s *RollupService) claim(kind string, bucketStart time.Time) (bool, error) {
	claim := models.RollupClaim{Kind: kind, Key: bucketStart.Format(time.RFC3339)}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if result.Error != nil {
		return false, fmt.Errorf("claim %s bucket: %w", kind, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// releaseClaim frees a bucket after a failed aggregation so the scheduler's
// retry can claim it again.
func (s *RollupService) releaseClaim(kind string, bucketStart time.Time) {
	s.db.Where("kind = ? AND key = ?", kind, bucketStart.Format(time.RFC3339)).Delete(&models.RollupClaim{})
}

func (s *RollupService) aggregate(start, end time.Time) (*bucketAggregate, error) {
	agg := &bucketAggregate{
		levelCounts:   make(map[models.ThreatLevel]int64),
		topCountries:  models.CountMap{},
		topCategories: models.CountMap{},
		topThreatIPs:  models.CountMap{},
	}

	window := func() *gorm.DB {
		return s.db.Model(&models.RequestLog{}).Where("created_at >= ? AND created_at < ?", start, end)
	}

	if err := window().Count(&agg.total).Error; err != nil {
		return nil, fmt.Errorf("count bucket requests: %w", err)
	}
	if agg.total == 0 {
		return agg, nil
	}

	if err := window().Distinct("ip_address").Count(&agg.uniqueIPs).Error; err != nil {
		return nil, err
	}
	if err := window().Where("country <> ''").Distinct("country").Count(&agg.uniqueCountries).Error; err != nil {
		return nil, err
	}
	if err := window().Where("blocked = ?", true).Count(&agg.blocked).Error; err != nil {
		return nil, err
	}

	for _, level := range []models.ThreatLevel{models.ThreatSafe, models.ThreatLow, models.ThreatMedium, models.ThreatHigh, models.ThreatCritical} {
		var n int64
		if err := window().Where("threat_level = ?", level).Count(&n).Error; err != nil {
			return nil, err
		}
		agg.levelCounts[level] = n
	}

	var avg *float64
	if err := window().Select("AVG(response_time_ms)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		agg.avgResponseMs = *avg
	}

	var responseTimes []int
	if err := window().Order("response_time_ms asc").Pluck("response_time_ms", &responseTimes).Error; err != nil {
		return nil, err
	}
	agg.p95ResponseMs = percentile(responseTimes, 0.95)

	if err := s.topN(window().Where("country <> ''"), "country", agg.topCountries); err != nil {
		return nil, err
	}
	if err := s.topN(window().Where("threat_level IN ?", []models.ThreatLevel{models.ThreatHigh, models.ThreatCritical}), "ip_address", agg.topThreatIPs); err != nil {
		return nil, err
	}

	// Categories live inside a JSON column, so they get counted in Go.
	var categoryLists []models.StringSlice
	if err := window().Where("threat_categories IS NOT NULL").Pluck("threat_categories", &categoryLists).Error; err != nil {
		return nil, err
	}
	categoryCounts := map[string]int64{}
	for _, list := range categoryLists {
		for _, category := range list {
			categoryCounts[category]++
		}
	}
	for key, count := range topEntries(categoryCounts, 10) {
		agg.topCategories[key] = count
	}

	return agg, nil
}

type keyCount struct {
	Key   string
	Count int64
}

func (s *RollupService) topN(q *gorm.DB, column string, out models.CountMap) error {
	var rows []keyCount
	err := q.Select(column + " as key, COUNT(*) as count").
		Group(column).
		Order("count desc").
		Limit(10).
		Scan(&rows).Error
	if err != nil {
		return err
	}
	for _, row := range rows {
		out[row.Key] = row.Count
	}
	return nil
}

func topEntries(counts map[string]int64, n int) map[string]int64 {
	type entry struct {
		key   string
		count int64
	}
	entries := make([]entry, 0, len(counts))
	for key, count := range counts {
		entries = append(entries, entry{key, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make(map[string]int64, len(entries))
	for _, e := range entries {
		out[e.key] = e.count
	}
	return out
}

func percentile(sorted []int, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}
