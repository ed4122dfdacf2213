package models

import (
	"time"
)

// MetricsHourly is the rollup of one fully-elapsed hour of request logs.
// BucketStart is the unique key; a bucket is written exactly once and never
// rewritten, so replays and retries are no-ops.
type MetricsHourly struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BucketStart time.Time `json:"bucket_start" gorm:"uniqueIndex"`

	TotalRequests   int64 `json:"total_requests"`
	UniqueIPs       int64 `json:"unique_ips"`
	UniqueCountries int64 `json:"unique_countries"`

	SafeCount     int64 `json:"safe_count"`
	LowCount      int64 `json:"low_count"`
	MediumCount   int64 `json:"medium_count"`
	HighCount     int64 `json:"high_count"`
	CriticalCount int64 `json:"critical_count"`
	BlockedCount  int64 `json:"blocked_count"`

	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`

	TopCountries  CountMap `json:"top_countries" gorm:"type:text"`
	TopCategories CountMap `json:"top_categories" gorm:"type:text"`
	TopThreatIPs  CountMap `json:"top_threat_ips" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

func (MetricsHourly) TableName() string {
	return "metrics_hourly"
}

// MetricsDaily is the day-sized sibling of MetricsHourly.
type MetricsDaily struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	BucketStart time.Time `json:"bucket_start" gorm:"uniqueIndex"`

	TotalRequests   int64 `json:"total_requests"`
	UniqueIPs       int64 `json:"unique_ips"`
	UniqueCountries int64 `json:"unique_countries"`

	SafeCount     int64 `json:"safe_count"`
	LowCount      int64 `json:"low_count"`
	MediumCount   int64 `json:"medium_count"`
	HighCount     int64 `json:"high_count"`
	CriticalCount int64 `json:"critical_count"`
	BlockedCount  int64 `json:"blocked_count"`

	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`

	TopCountries  CountMap `json:"top_countries" gorm:"type:text"`
	TopCategories CountMap `json:"top_categories" gorm:"type:text"`
	TopThreatIPs  CountMap `json:"top_threat_ips" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

func (MetricsDaily) TableName() string {
	return "metrics_daily"
}

// RollupClaim is the single-flight claim for background evaluators. One row
// per (kind, key); whoever inserts it owns the work unit, everyone else
// skips. Claims are insert-or-ignore, never check-then-insert.
type RollupClaim struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Kind      string    `json:"kind" gorm:"size:30;uniqueIndex:idx_rollup_claims_kind_key,priority:1"`
	Key       string    `json:"key" gorm:"uniqueIndex:idx_rollup_claims_kind_key,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}
