package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssm-ops/watchtower/internal/models"
)

func TestReportService_ComprehensiveMetrics(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	reports := NewReportService(db, rs)

	now := time.Now()
	logs := []models.RequestLog{
		{IPAddress: "10.1.0.1", Country: "DE", ThreatLevel: models.ThreatSafe, ResponseTimeMs: 10, CreatedAt: now.Add(-30 * time.Minute)},
		{IPAddress: "10.1.0.2", Country: "FR", ThreatLevel: models.ThreatMedium, ResponseTimeMs: 20, CreatedAt: now.Add(-2 * time.Hour)},
		{IPAddress: "10.1.0.3", Country: "FR", ThreatLevel: models.ThreatCritical, Blocked: true, ResponseTimeMs: 30, CreatedAt: now.Add(-3 * time.Hour)},
		// Outside the 24h window.
		{IPAddress: "10.1.0.4", Country: "US", ThreatLevel: models.ThreatHigh, CreatedAt: now.Add(-30 * time.Hour)},
	}
	for i := range logs {
		logs[i].Method = "GET"
		logs[i].Path = "/"
		require.NoError(t, db.Create(&logs[i]).Error)
	}
	require.NoError(t, db.Create(&models.SecurityAlert{Status: models.AlertActive, Title: "live", Severity: models.ThreatHigh}).Error)

	got, err := reports.ComprehensiveMetrics()
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalRequests)
	assert.Equal(t, int64(1), got.RequestsLastHour)
	assert.Equal(t, int64(1), got.BlockedRequests)
	assert.Equal(t, int64(2), got.SuspiciousIPs)
	assert.Equal(t, int64(1), got.ActiveThreats)
	assert.Equal(t, int64(2), got.UniqueCountries)
	assert.InDelta(t, 20.0, got.AvgResponseTimeMs, 1e-9)
}

func TestReportService_GeographicDistribution(t *testing.T) {
	db := setupTestDB(t)
	reports := NewReportService(db, NewReputationService(db))

	now := time.Now()
	// FR produced threats, DE stayed safe-only, so only FR appears.
	for i, level := range []models.ThreatLevel{models.ThreatHigh, models.ThreatSafe, models.ThreatSafe} {
		log := models.RequestLog{
			IPAddress:   "10.2.0.1",
			Country:     "FR",
			Method:      "GET",
			Path:        "/",
			ThreatLevel: level,
			RiskScore:   30,
			CreatedAt:   now.Add(-time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, db.Create(&log).Error)
	}
	safe := models.RequestLog{IPAddress: "10.2.0.2", Country: "DE", Method: "GET", Path: "/", ThreatLevel: models.ThreatSafe, CreatedAt: now.Add(-time.Minute)}
	require.NoError(t, db.Create(&safe).Error)

	rows, err := reports.GeographicDistribution()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "FR", rows[0].Country)
	assert.Equal(t, int64(3), rows[0].TotalRequests)
	assert.Equal(t, int64(1), rows[0].ThreatRequests)
	assert.Equal(t, int64(1), rows[0].UniqueIPs)
	assert.InDelta(t, 30.0, rows[0].AvgRiskScore, 1e-9)
}

func TestReportService_TopAttackingIPs(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	reports := NewReportService(db, rs)

	now := time.Now()
	seed := func(ip string, threats, benign int, score int) {
		for i := 0; i < threats; i++ {
			log := models.RequestLog{IPAddress: ip, Method: "GET", Path: "/a", Country: "FR", ThreatLevel: models.ThreatHigh, RiskScore: score, CreatedAt: now.Add(-time.Duration(i+1) * time.Minute)}
			require.NoError(t, db.Create(&log).Error)
		}
		for i := 0; i < benign; i++ {
			log := models.RequestLog{IPAddress: ip, Method: "GET", Path: "/b", Country: "FR", ThreatLevel: models.ThreatSafe, CreatedAt: now.Add(-time.Duration(i+1) * time.Minute)}
			require.NoError(t, db.Create(&log).Error)
		}
	}
	seed("10.3.0.1", 5, 0, 90)
	seed("10.3.0.2", 2, 10, 60)
	seed("10.3.0.3", 0, 4, 0) // never appears

	_, err := rs.CreateBlock("10.3.0.1", "seeded", models.ThreatHigh, nil, "test")
	require.NoError(t, err)

	rows, err := reports.TopAttackingIPs(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "10.3.0.1", rows[0].IP)
	assert.Equal(t, int64(5), rows[0].ThreatRequests)
	assert.Equal(t, 90, rows[0].MaxRiskScore)
	assert.True(t, rows[0].IsBlocked)
	assert.Equal(t, 50, rows[0].Reputation)

	assert.Equal(t, "10.3.0.2", rows[1].IP)
	assert.Equal(t, int64(2), rows[1].ThreatRequests)
	assert.Equal(t, int64(12), rows[1].TotalRequests)
	assert.False(t, rows[1].IsBlocked)
}

func TestReportService_ThreatTimeline(t *testing.T) {
	db := setupTestDB(t)
	reports := NewReportService(db, NewReputationService(db))

	now := time.Now().UTC()
	twoHoursAgo := now.Add(-2 * time.Hour)
	logs := []models.RequestLog{
		{IPAddress: "10.4.0.1", Method: "GET", Path: "/", ThreatLevel: models.ThreatHigh, Blocked: true, ResponseTimeMs: 10, CreatedAt: twoHoursAgo},
		{IPAddress: "10.4.0.2", Method: "GET", Path: "/", ThreatLevel: models.ThreatCritical, ResponseTimeMs: 30, CreatedAt: twoHoursAgo},
		{IPAddress: "10.4.0.1", Method: "GET", Path: "/", ThreatLevel: models.ThreatSafe, ResponseTimeMs: 20, CreatedAt: now},
	}
	for i := range logs {
		require.NoError(t, db.Create(&logs[i]).Error)
	}

	points, err := reports.ThreatTimeline(6)
	require.NoError(t, err)
	require.Len(t, points, 6)

	// Ascending, hour aligned, empty hours included.
	for i := 1; i < len(points); i++ {
		assert.Equal(t, time.Hour, points[i].Time.Sub(points[i-1].Time))
	}

	var total int64
	var busy *TimelinePoint
	for i := range points {
		total += points[i].Total
		if points[i].Total == 2 {
			busy = &points[i]
		}
	}
	assert.Equal(t, int64(3), total)
	require.NotNil(t, busy)
	assert.Equal(t, int64(1), busy.High)
	assert.Equal(t, int64(1), busy.Critical)
	assert.Equal(t, int64(1), busy.Blocked)
	assert.Equal(t, int64(2), busy.UniqueIPs)
	assert.InDelta(t, 20.0, busy.AvgResponseTimeMs, 1e-9)
}
