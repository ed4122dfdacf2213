package main

import (
	"fmt"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/models"
)

func main() {
	db, err := gorm.Open(sqlite.Open("./data/watchtower.db"), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.RequestLog{},
		&models.DetectionRule{},
		&models.AlertRule{},
		&models.SecurityAlert{},
		&models.SecurityIncident{},
		&models.IncidentEvent{},
		&models.IPBlock{},
		&models.IPIntelligence{},
		&models.MetricsHourly{},
		&models.MetricsDaily{},
		&models.RollupClaim{},
		&models.Notification{},
		&models.NotificationProvider{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	fmt.Println("✓ Database migrated successfully")

	detectionRules := []models.DetectionRule{
		{
			Name:        "SQL injection probe",
			Type:        models.RuleTypeSignature,
			Pattern:     `(union\s+select|or\s+1=1|'\s*--|information_schema|sleep\s*\()`,
			Field:       "any",
			ThreatLevel: models.ThreatHigh,
			Categories:  models.StringSlice{"sqli", "injection"},
			Action:      models.ActionBlock,

			AutoBlockDurationMinutes: 60,
			Enabled:                  true,
		},
		{
			Name:        "Cross-site scripting probe",
			Type:        models.RuleTypeSignature,
			Pattern:     `(<script|javascript:|onerror\s*=|onload\s*=)`,
			Field:       "any",
			ThreatLevel: models.ThreatHigh,
			Categories:  models.StringSlice{"xss", "injection"},
			Action:      models.ActionChallenge,
			Enabled:     true,
		},
		{
			Name:        "Path traversal",
			Type:        models.RuleTypeSignature,
			Pattern:     `(\.\./|\.\.%2f|%2e%2e%2f|etc/passwd)`,
			Field:       "path",
			ThreatLevel: models.ThreatHigh,
			Categories:  models.StringSlice{"traversal"},
			Action:      models.ActionBlock,

			AutoBlockDurationMinutes: 60,
			Enabled:                  true,
		},
		{
			Name:        "Known scanner user agent",
			Type:        models.RuleTypeSignature,
			Pattern:     `(sqlmap|nikto|nmap|masscan|gobuster|dirbuster|wpscan)`,
			Field:       "user_agent",
			ThreatLevel: models.ThreatMedium,
			Categories:  models.StringSlice{"scanner"},
			Action:      models.ActionAlert,
			Enabled:     true,
		},
		{
			Name:          "Request flood",
			Type:          models.RuleTypeBehavioral,
			Threshold:     300,
			WindowSeconds: 60,
			ThreatLevel:   models.ThreatMedium,
			Categories:    models.StringSlice{"flood", "dos"},
			Action:        models.ActionChallenge,
			Enabled:       true,
		},
		{
			Name:          "Traffic anomaly",
			Type:          models.RuleTypeAnomaly,
			Threshold:     3,
			WindowSeconds: 3600,
			ThreatLevel:   models.ThreatLow,
			Categories:    models.StringSlice{"anomaly"},
			Action:        models.ActionLog,
			Enabled:       true,
		},
		{
			Name:        "Poor reputation source",
			Type:        models.RuleTypeReputation,
			Threshold:   20,
			ThreatLevel: models.ThreatMedium,
			Categories:  models.StringSlice{"reputation"},
			Action:      models.ActionAlert,
			Enabled:     true,
		},
	}

	for _, rule := range detectionRules {
		var existing models.DetectionRule
		if err := db.Where("name = ?", rule.Name).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := db.Create(&rule).Error; err != nil {
				log.Fatal("Failed to seed detection rule:", err)
			}
			fmt.Printf("✓ Seeded detection rule: %s\n", rule.Name)
		}
	}

	alertRules := []models.AlertRule{
		{
			Name:                    "Critical threat burst",
			Description:             "More than five critical classifications in five minutes",
			Metric:                  models.MetricCriticalCount,
			ThresholdOperator:       models.OpGreater,
			ThresholdValue:          5,
			EvaluationWindowMinutes: 5,
			Severity:                models.ThreatCritical,
			AutoBlock:               true,

			AutoBlockDurationMinutes: 240,
			CreateIncident:           true,
			Enabled:                  true,
		},
		{
			Name:                    "Elevated threat volume",
			Description:             "Sustained threat traffic over fifteen minutes",
			Metric:                  models.MetricThreatCount,
			ThresholdOperator:       models.OpGreaterEqual,
			ThresholdValue:          50,
			EvaluationWindowMinutes: 15,
			Severity:                models.ThreatHigh,
			Enabled:                 true,
		},
		{
			Name:                    "High average risk",
			Description:             "Average risk score of recent traffic is abnormal",
			Metric:                  models.MetricAvgRiskScore,
			ThresholdOperator:       models.OpGreater,
			ThresholdValue:          60,
			EvaluationWindowMinutes: 10,
			Severity:                models.ThreatMedium,
			Enabled:                 true,
		},
	}

	for _, rule := range alertRules {
		var existing models.AlertRule
		if err := db.Where("name = ?", rule.Name).First(&existing).Error; err == gorm.ErrRecordNotFound {
			if err := db.Create(&rule).Error; err != nil {
				log.Fatal("Failed to seed alert rule:", err)
			}
			fmt.Printf("✓ Seeded alert rule: %s\n", rule.Name)
		}
	}

	fmt.Println("✓ Seeding complete")
}
