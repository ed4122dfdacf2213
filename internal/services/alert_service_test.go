package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssm-ops/watchtower/internal/models"
)

func TestAlertService_RaisesAlertOnBreach(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ns := NewNotificationService(db)
	as := NewAlertService(db, rs, NewIncidentService(db, ns), ns)

	rule := models.AlertRule{
		Name:                    "threat burst",
		Metric:                  models.MetricThreatCount,
		ThresholdOperator:       models.OpGreater,
		ThresholdValue:          3,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatHigh,
		Enabled:                 true,
	}
	require.NoError(t, db.Create(&rule).Error)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.RequestLog{
			IPAddress:   "203.0.113.80",
			Method:      "GET",
			Path:        "/attack",
			ThreatLevel: models.ThreatHigh,
		}).Error)
	}

	as.EvaluateRules(time.Now())

	var alerts []models.SecurityAlert
	require.NoError(t, db.Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, rule.ID, alerts[0].RuleID)
	assert.Equal(t, models.AlertActive, alerts[0].Status)
	assert.Equal(t, models.ThreatHigh, alerts[0].Severity)
	assert.Contains(t, alerts[0].TriggerData, "203.0.113.80")

	var got models.AlertRule
	require.NoError(t, db.First(&got, rule.ID).Error)
	assert.Equal(t, int64(1), got.TriggerCount)
	assert.NotNil(t, got.LastTriggered)
}

func TestAlertService_SingleAlertPerWindow(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	as := NewAlertService(db, rs, nil, nil)

	require.NoError(t, db.Create(&models.AlertRule{
		Name:                    "volume",
		Metric:                  models.MetricRequestCount,
		ThresholdOperator:       models.OpGreaterEqual,
		ThresholdValue:          1,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatMedium,
		Enabled:                 true,
	}).Error)
	require.NoError(t, db.Create(&models.RequestLog{IPAddress: "203.0.113.81", Method: "GET", Path: "/"}).Error)

	now := time.Now()
	as.EvaluateRules(now)
	// Same window, later instant: the claim makes the second run a no-op.
	as.EvaluateRules(now.Add(30 * time.Second))

	var count int64
	db.Model(&models.SecurityAlert{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestAlertService_AutoBlockAndIncident(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ns := NewNotificationService(db)
	is := NewIncidentService(db, ns)
	as := NewAlertService(db, rs, is, ns)

	require.NoError(t, db.Create(&models.AlertRule{
		Name:                    "critical burst",
		Metric:                  models.MetricCriticalCount,
		ThresholdOperator:       models.OpGreater,
		ThresholdValue:          2,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatCritical,
		AutoBlock:               true,

		AutoBlockDurationMinutes: 120,
		CreateIncident:           true,
		Enabled:                  true,
	}).Error)

	for i := 0; i < 4; i++ {
		require.NoError(t, db.Create(&models.RequestLog{
			IPAddress:   "203.0.113.82",
			Method:      "POST",
			Path:        "/login",
			ThreatLevel: models.ThreatCritical,
		}).Error)
	}

	as.EvaluateRules(time.Now())

	assert.True(t, rs.IsBlocked("203.0.113.82"))

	var incidents []models.SecurityIncident
	require.NoError(t, db.Find(&incidents).Error)
	require.Len(t, incidents, 1)
	assert.Equal(t, models.IncidentOpen, incidents[0].Status)
	assert.NotNil(t, incidents[0].AlertID)
	assert.Contains(t, incidents[0].SourceIPs, "203.0.113.82")
	assert.Equal(t, models.ThreatCritical, incidents[0].Severity)

	// The escalation landed in the timeline too.
	var events []models.IncidentEvent
	require.NoError(t, db.Where("incident_id = ?", incidents[0].ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].EventType)
	assert.True(t, events[0].Automated)
}

func TestAlertService_MalformedRuleReleasesWindow(t *testing.T) {
	db := setupTestDB(t)
	ns := NewNotificationService(db)
	as := NewAlertService(db, NewReputationService(db), nil, ns)

	rule := models.AlertRule{
		Name:                    "broken metric",
		Metric:                  "bogus",
		ThresholdOperator:       models.OpGreater,
		ThresholdValue:          0,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatMedium,
		Enabled:                 true,
	}
	require.NoError(t, db.Create(&rule).Error)
	require.NoError(t, db.Create(&models.RequestLog{
		IPAddress:   "203.0.113.83",
		Method:      "GET",
		Path:        "/attack",
		ThreatLevel: models.ThreatHigh,
	}).Error)

	now := time.Now()
	as.EvaluateRules(now)

	// The failed run must not keep the window, and the malformed rule is
	// isolated the way the detection engine isolates broken patterns.
	var claims int64
	db.Model(&models.RollupClaim{}).Where("kind = ?", "alert_eval").Count(&claims)
	assert.Equal(t, int64(0), claims)

	var got models.AlertRule
	require.NoError(t, db.First(&got, rule.ID).Error)
	assert.False(t, got.Enabled)
	assert.Contains(t, got.LastError, "unknown alert metric")

	var notes []models.Notification
	require.NoError(t, db.Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "broken metric")

	// Operator fixes the rule: the very next run in the same window can
	// claim it and raise on the backlog.
	require.NoError(t, db.Model(&models.AlertRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]interface{}{"metric": models.MetricRequestCount, "enabled": true, "last_error": ""}).Error)

	as.EvaluateRules(now.Add(30 * time.Second))

	var alerts int64
	db.Model(&models.SecurityAlert{}).Count(&alerts)
	assert.Equal(t, int64(1), alerts)
}

func TestAlertService_UnknownOperatorReleasesWindow(t *testing.T) {
	db := setupTestDB(t)
	as := NewAlertService(db, NewReputationService(db), nil, nil)

	rule := models.AlertRule{
		Name:                    "broken operator",
		Metric:                  models.MetricRequestCount,
		ThresholdOperator:       "~",
		ThresholdValue:          0,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatLow,
		Enabled:                 true,
	}
	require.NoError(t, db.Create(&rule).Error)

	as.EvaluateRules(time.Now())

	var claims int64
	db.Model(&models.RollupClaim{}).Where("kind = ?", "alert_eval").Count(&claims)
	assert.Equal(t, int64(0), claims)

	var got models.AlertRule
	require.NoError(t, db.First(&got, rule.ID).Error)
	assert.False(t, got.Enabled)
	assert.Contains(t, got.LastError, "unknown threshold operator")
}

func TestAlertService_NoAlertBelowThreshold(t *testing.T) {
	db := setupTestDB(t)
	as := NewAlertService(db, NewReputationService(db), nil, nil)

	require.NoError(t, db.Create(&models.AlertRule{
		Name:                    "quiet",
		Metric:                  models.MetricThreatCount,
		ThresholdOperator:       models.OpGreater,
		ThresholdValue:          100,
		EvaluationWindowMinutes: 5,
		Severity:                models.ThreatLow,
		Enabled:                 true,
	}).Error)

	as.EvaluateRules(time.Now())

	var count int64
	db.Model(&models.SecurityAlert{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCompareOperators(t *testing.T) {
	cases := []struct {
		value     float64
		op        string
		threshold float64
		want      bool
	}{
		{5, models.OpGreater, 3, true},
		{3, models.OpGreater, 3, false},
		{2, models.OpLess, 3, true},
		{3, models.OpGreaterEqual, 3, true},
		{3, models.OpLessEqual, 3, true},
		{3, models.OpEqual, 3, true},
		{4, models.OpNotEqual, 3, true},
		{3, models.OpNotEqual, 3, false},
	}
	for _, tc := range cases {
		got, err := compare(tc.value, tc.op, tc.threshold)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%v %s %v", tc.value, tc.op, tc.threshold)
	}

	_, err := compare(1, "~", 2)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestAlertService_StatusTransitions(t *testing.T) {
	db := setupTestDB(t)
	as := NewAlertService(db, NewReputationService(db), nil, nil)

	alert := models.SecurityAlert{Status: models.AlertActive, Title: "test", Severity: models.ThreatMedium}
	require.NoError(t, db.Create(&alert).Error)

	acked, err := as.Acknowledge(alert.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)
	assert.Equal(t, "alice", acked.AcknowledgedBy)
	assert.NotNil(t, acked.AcknowledgedAt)

	// Backward move is rejected.
	_, err = as.Acknowledge(alert.ID, "alice")
	assert.ErrorIs(t, err, ErrAlertNotActive)

	resolved, err := as.Resolve(alert.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	// Resolved alerts cannot be suppressed.
	_, err = as.Suppress(alert.ID, "alice")
	assert.ErrorIs(t, err, ErrAlertNotActive)

	_, err = as.Acknowledge(99999, "alice")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestAlertService_SuppressFromActive(t *testing.T) {
	db := setupTestDB(t)
	as := NewAlertService(db, NewReputationService(db), nil, nil)

	alert := models.SecurityAlert{Status: models.AlertActive, Title: "noisy", Severity: models.ThreatLow}
	require.NoError(t, db.Create(&alert).Error)

	suppressed, err := as.Suppress(alert.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.AlertSuppressed, suppressed.Status)

	// Suppressed is a dead end for forward moves.
	_, err = as.Resolve(alert.ID, "bob")
	assert.ErrorIs(t, err, ErrAlertNotActive)
}
