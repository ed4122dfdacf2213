package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssm-ops/watchtower/internal/geo"
	"github.com/ssm-ops/watchtower/internal/models"
)

func TestDetectionService_AggregatesSeverityAndAction(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ds := NewDetectionService(db, rs, nil)

	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "scanner ua",
		Type:        models.RuleTypeSignature,
		Pattern:     "sqlmap",
		Field:       "user_agent",
		ThreatLevel: models.ThreatMedium,
		Categories:  models.StringSlice{"scanner"},
		Action:      models.ActionAlert,
		Enabled:     true,
	}).Error)
	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "sqli path",
		Type:        models.RuleTypeSignature,
		Pattern:     `union\s+select`,
		Field:       "path",
		ThreatLevel: models.ThreatHigh,
		Categories:  models.StringSlice{"sqli", "scanner"},
		Action:      models.ActionBlock,
		Enabled:     true,
	}).Error)

	result := ds.Evaluate(Telemetry{
		IPAddress: "203.0.113.50",
		Method:    "GET",
		Path:      "/products?id=1 UNION SELECT password FROM users",
		UserAgent: "sqlmap/1.7",
	})

	// Max severity wins, strongest action wins, categories dedup.
	assert.Equal(t, models.ThreatHigh, result.ThreatLevel)
	assert.Equal(t, models.ActionBlock, result.Action)
	assert.ElementsMatch(t, []string{"scanner", "sqli"}, result.Categories)
	assert.Len(t, result.SignatureMatches, 2)
	assert.Len(t, result.MatchedRuleIDs, 2)

	// Match bookkeeping lands on both rules.
	var rules []models.DetectionRule
	db.Order("id").Find(&rules)
	for _, rule := range rules {
		assert.Equal(t, int64(1), rule.MatchCount)
		assert.NotNil(t, rule.LastMatch)
	}
}

func TestDetectionService_MalformedRuleIsolated(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ds := NewDetectionService(db, rs, NewNotificationService(db))

	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "broken regex",
		Type:        models.RuleTypeSignature,
		Pattern:     "([unclosed",
		Field:       "path",
		ThreatLevel: models.ThreatHigh,
		Action:      models.ActionBlock,
		Enabled:     true,
	}).Error)
	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "valid rule",
		Type:        models.RuleTypeSignature,
		Pattern:     "wp-admin",
		Field:       "path",
		ThreatLevel: models.ThreatMedium,
		Categories:  models.StringSlice{"probe"},
		Action:      models.ActionAlert,
		Enabled:     true,
	}).Error)

	result := ds.Evaluate(Telemetry{IPAddress: "203.0.113.51", Method: "GET", Path: "/wp-admin/setup.php"})

	// The malformed rule never poisons the verdict of its siblings.
	assert.Equal(t, models.ThreatMedium, result.ThreatLevel)
	assert.Equal(t, models.ActionAlert, result.Action)

	var broken models.DetectionRule
	require.NoError(t, db.Where("name = ?", "broken regex").First(&broken).Error)
	assert.False(t, broken.Enabled)
	assert.Contains(t, broken.LastError, "invalid signature pattern")

	// The failure is surfaced to operators.
	var notifications []models.Notification
	db.Find(&notifications)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "broken regex")

	// A later evaluation skips the disabled rule entirely.
	before := broken.UpdatedAt
	_ = ds.Evaluate(Telemetry{IPAddress: "203.0.113.51", Method: "GET", Path: "/wp-admin/setup.php"})
	db.Where("name = ?", "broken regex").First(&broken)
	assert.Equal(t, before.Unix(), broken.UpdatedAt.Unix())
}

func TestDetectionService_EnableRuleClearsError(t *testing.T) {
	db := setupTestDB(t)
	ds := NewDetectionService(db, NewReputationService(db), nil)

	rule := models.DetectionRule{
		Name:        "was broken",
		Type:        models.RuleTypeSignature,
		Pattern:     "fixed",
		ThreatLevel: models.ThreatLow,
		Action:      models.ActionLog,
		Enabled:     false,
		LastError:   "invalid signature pattern",
	}
	require.NoError(t, db.Create(&rule).Error)

	require.NoError(t, ds.EnableRule(rule.ID))

	var got models.DetectionRule
	require.NoError(t, db.First(&got, rule.ID).Error)
	assert.True(t, got.Enabled)
	assert.Empty(t, got.LastError)
}

func TestDetectionService_AutoBlockOnBlockAction(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ds := NewDetectionService(db, rs, nil)

	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "traversal",
		Type:        models.RuleTypeSignature,
		Pattern:     `\.\./`,
		Field:       "path",
		ThreatLevel: models.ThreatHigh,
		Action:      models.ActionBlock,

		AutoBlockDurationMinutes: 60,
		Enabled:                  true,
	}).Error)

	before := time.Now()
	result := ds.Evaluate(Telemetry{IPAddress: "203.0.113.60", Method: "GET", Path: "/../../etc/passwd"})
	require.Equal(t, models.ActionBlock, result.Action)

	assert.True(t, rs.IsBlocked("203.0.113.60"))

	var block models.IPBlock
	require.NoError(t, db.Where("ip_address = ?", "203.0.113.60").First(&block).Error)
	require.NotNil(t, block.ExpiresAt)
	expected := before.Add(60 * time.Minute)
	assert.WithinDuration(t, expected, *block.ExpiresAt, 10*time.Second)
	assert.Equal(t, "detection_engine", block.Source)
}

func TestDetectionService_BehavioralThreshold(t *testing.T) {
	db := setupTestDB(t)
	ds := NewDetectionService(db, NewReputationService(db), nil)

	require.NoError(t, db.Create(&models.DetectionRule{
		Name:          "flood",
		Type:          models.RuleTypeBehavioral,
		Threshold:     5,
		WindowSeconds: 60,
		ThreatLevel:   models.ThreatMedium,
		Action:        models.ActionChallenge,
		Enabled:       true,
	}).Error)

	telemetry := Telemetry{IPAddress: "203.0.113.61", Method: "GET", Path: "/"}

	// Three prior requests in the window: 3+1 < 5, no fire.
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.RequestLog{IPAddress: "203.0.113.61", Method: "GET", Path: "/"}).Error)
	}
	result := ds.Evaluate(telemetry)
	assert.Equal(t, models.ThreatSafe, result.ThreatLevel)

	// One more makes 4+1 >= 5.
	require.NoError(t, db.Create(&models.RequestLog{IPAddress: "203.0.113.61", Method: "GET", Path: "/"}).Error)
	result = ds.Evaluate(telemetry)
	assert.Equal(t, models.ThreatMedium, result.ThreatLevel)
	assert.Equal(t, models.ActionChallenge, result.Action)
	assert.Contains(t, result.BehavioralFlags, "flood")
}

func TestDetectionService_ReputationRule(t *testing.T) {
	db := setupTestDB(t)
	rs := NewReputationService(db)
	ds := NewDetectionService(db, rs, nil)

	require.NoError(t, db.Create(&models.DetectionRule{
		Name:        "poor reputation",
		Type:        models.RuleTypeReputation,
		Threshold:   20,
		ThreatLevel: models.ThreatMedium,
		Action:      models.ActionAlert,
		Enabled:     true,
	}).Error)

	// Unknown address scores 50, above the threshold.
	result := ds.Evaluate(Telemetry{IPAddress: "203.0.113.62", Method: "GET", Path: "/"})
	assert.Equal(t, models.ThreatSafe, result.ThreatLevel)

	// Drive the reputation down to 0.
	require.NoError(t, rs.RecordActivity("203.0.113.62", true, geo.Info{}))
	result = ds.Evaluate(Telemetry{IPAddress: "203.0.113.62", Method: "GET", Path: "/"})
	assert.Equal(t, models.ThreatMedium, result.ThreatLevel)
}

func TestValidateRule(t *testing.T) {
	valid := models.DetectionRule{
		Name:        "ok",
		Type:        models.RuleTypeSignature,
		Pattern:     "probe",
		ThreatLevel: models.ThreatLow,
		Action:      models.ActionLog,
	}
	assert.NoError(t, ValidateRule(&valid))

	cases := []struct {
		name   string
		mutate func(*models.DetectionRule)
	}{
		{"empty pattern", func(r *models.DetectionRule) { r.Pattern = "" }},
		{"invalid pattern", func(r *models.DetectionRule) { r.Pattern = "([bad" }},
		{"unknown type", func(r *models.DetectionRule) { r.Type = "fancy" }},
		{"unknown level", func(r *models.DetectionRule) { r.ThreatLevel = "extreme" }},
		{"unknown action", func(r *models.DetectionRule) { r.Action = "nuke" }},
		{"empty name", func(r *models.DetectionRule) { r.Name = "  " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := valid
			tc.mutate(&rule)
			assert.Error(t, ValidateRule(&rule))
		})
	}

	behavioral := models.DetectionRule{
		Name:        "flood",
		Type:        models.RuleTypeBehavioral,
		ThreatLevel: models.ThreatLow,
		Action:      models.ActionLog,
	}
	assert.Error(t, ValidateRule(&behavioral), "behavioral rule needs a positive threshold")
	behavioral.Threshold = 10
	assert.NoError(t, ValidateRule(&behavioral))
}
