package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/metrics"
	"github.com/ssm-ops/watchtower/internal/models"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrAlertNotActive  = errors.New("alert is not active")
	ErrUnknownOperator = errors.New("unknown threshold operator")
	ErrUnknownMetric   = errors.New("unknown alert metric")
)

// AlertService periodically evaluates alert rules over recent request logs
// and raises SecurityAlerts on threshold breaches. Evaluation is
// single-flight per rule and window: concurrent evaluators claim the
// (rule, window) pair before doing any work.
type AlertService struct {
	db            *gorm.DB
	reputation    *ReputationService
	incidents     *IncidentService
	notifications *NotificationService
}

func NewAlertService(db *gorm.DB, reputation *ReputationService, incidents *IncidentService, notifications *NotificationService) *AlertService {
	return &AlertService{db: db, reputation: reputation, incidents: incidents, notifications: notifications}
}

// EvaluateRules runs every enabled rule whose evaluation window has not yet
// been claimed. Rule failures are logged and never abort the loop; the
// periodic scheduler retries safely because every step is idempotent.
func (s *AlertService) EvaluateRules(now time.Time) {
	var rules []models.AlertRule
	if err := s.db.Where("enabled = ?", true).Find(&rules).Error; err != nil {
		logger.Log().WithError(err).Error("failed to load alert rules")
		return
	}

	for i := range rules {
		if err := s.evaluateRule(&rules[i], now); err != nil {
			logger.WithFields(map[string]interface{}{"rule": rules[i].Name}).WithError(err).Error("alert rule evaluation failed")
		}
	}
}

func (s *AlertService) evaluateRule(rule *models.AlertRule, now time.Time) error {
	window := time.Duration(rule.EvaluationWindowMinutes) * time.Minute
	if window <= 0 {
		window = 5 * time.Minute
	}

	// Claim this rule's current window. RowsAffected zero means another
	// evaluator owns it or it already ran; both mean skip, not error.
	windowStart := now.UTC().Truncate(window)
	claim := models.RollupClaim{
		Kind: "alert_eval",
		Key:  fmt.Sprintf("%d:%s", rule.ID, windowStart.Format(time.RFC3339)),
	}
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if result.Error != nil {
		return fmt.Errorf("claim evaluation window: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}

	value, implicated, err := s.computeMetric(rule, now, window)
	if err != nil {
		// A failed evaluation must not consume the window: release the
		// claim so the scheduler's retry gets another run at it.
		s.releaseClaim(claim.Key)
		if errors.Is(err, ErrUnknownMetric) {
			s.disableRule(rule, err)
		}
		return err
	}

	breached, err := compare(value, rule.ThresholdOperator, rule.ThresholdValue)
	if err != nil {
		s.releaseClaim(claim.Key)
		if errors.Is(err, ErrUnknownOperator) {
			s.disableRule(rule, err)
		}
		return err
	}
	if !breached {
		return nil
	}

	// Dedup: an active alert raised for this rule inside the window
	// suppresses a second one.
	var existing int64
	s.db.Model(&models.SecurityAlert{}).
		Where("rule_id = ? AND status = ? AND created_at > ?", rule.ID, models.AlertActive, now.Add(-window)).
		Count(&existing)
	if existing > 0 {
		return nil
	}

	if err := s.raise(rule, value, implicated, now); err != nil {
		s.releaseClaim(claim.Key)
		return err
	}
	return nil
}

// releaseClaim frees an evaluation window after a failed run so the next
// scheduler tick can claim it again.
func (s *AlertService) releaseClaim(key string) {
	s.db.Where("kind = ? AND key = ?", "alert_eval", key).Delete(&models.RollupClaim{})
}

// disableRule isolates a malformed alert rule so later windows are not
// spent on evaluations that can never raise, and surfaces the failure to
// operators.
func (s *AlertService) disableRule(rule *models.AlertRule, cause error) {
	logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(cause).Error("disabling malformed alert rule")
	metrics.IncRuleDisabled()

	err := s.db.Model(&models.AlertRule{}).
		Where("id = ?", rule.ID).
		UpdateColumns(map[string]interface{}{
			"enabled":    false,
			"last_error": cause.Error(),
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(err).Error("failed to disable alert rule")
		return
	}
	rule.Enabled = false

	if s.notifications != nil {
		title := "Alert rule disabled"
		message := fmt.Sprintf("Rule %q was disabled: %s", rule.Name, cause.Error())
		_, _ = s.notifications.Create(models.NotificationTypeError, title, message)
		s.notifications.SendExternal("rule", title, message, map[string]interface{}{
			"rule":   rule.Name,
			"metric": string(rule.Metric),
		})
	}
}

func (s *AlertService) raise(rule *models.AlertRule, value float64, implicated []string, now time.Time) error {
	trigger, _ := json.Marshal(map[string]interface{}{
		"metric":    string(rule.Metric),
		"value":     value,
		"operator":  rule.ThresholdOperator,
		"threshold": rule.ThresholdValue,
		"ips":       implicated,
	})

	alert := models.SecurityAlert{
		RuleID:      rule.ID,
		Severity:    rule.Severity,
		Status:      models.AlertActive,
		Title:       rule.Name,
		Description: fmt.Sprintf("%s %s %.4g (observed %.4g)", rule.Metric, rule.ThresholdOperator, rule.ThresholdValue, value),
		TriggerData: string(trigger),
	}
	if err := s.db.Create(&alert).Error; err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	metrics.IncAlertRaised()

	if err := s.db.Model(&models.AlertRule{}).
		Where("id = ?", rule.ID).
		UpdateColumns(map[string]interface{}{
			"trigger_count":  gorm.Expr("trigger_count + 1"),
			"last_triggered": now,
		}).Error; err != nil {
		logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(err).Error("failed to record rule trigger")
	}

	if rule.AutoBlock {
		duration := time.Duration(rule.AutoBlockDurationMinutes) * time.Minute
		if duration <= 0 {
			duration = time.Hour
		}
		for _, ip := range implicated {
			if _, err := s.reputation.CreateBlock(ip, fmt.Sprintf("alert rule %q", rule.Name), rule.Severity, &duration, "alert_evaluator"); err != nil {
				logger.WithFields(map[string]interface{}{"ip": ip}).WithError(err).Error("alert auto-block failed")
			}
		}
	}

	if rule.CreateIncident && s.incidents != nil {
		if _, err := s.incidents.CreateFromAlert(&alert, implicated); err != nil {
			logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(err).Error("alert escalation failed")
		}
	}

	if s.notifications != nil {
		_, _ = s.notifications.Create(models.NotificationTypeWarning, "Security alert raised", alert.Description)
		s.notifications.SendExternal("alert", "Security alert: "+rule.Name, alert.Description, map[string]interface{}{
			"severity": string(rule.Severity),
			"channels": rule.NotificationChannels,
		})
	}
	return nil
}

// computeMetric aggregates the rule's metric over the trailing window and
// returns the addresses implicated in the breach.
func (s *AlertService) computeMetric(rule *models.AlertRule, now time.Time, window time.Duration) (float64, []string, error) {
	since := now.Add(-window)
	logs := s.db.Model(&models.RequestLog{}).Where("created_at > ?", since)

	var value float64
	switch rule.Metric {
	case models.MetricRequestCount:
		var n int64
		if err := logs.Count(&n).Error; err != nil {
			return 0, nil, err
		}
		value = float64(n)
	case models.MetricThreatCount:
		var n int64
		if err := logs.Where("threat_level <> ?", models.ThreatSafe).Count(&n).Error; err != nil {
			return 0, nil, err
		}
		value = float64(n)
	case models.MetricCriticalCount:
		var n int64
		if err := logs.Where("threat_level = ?", models.ThreatCritical).Count(&n).Error; err != nil {
			return 0, nil, err
		}
		value = float64(n)
	case models.MetricBlockedCount:
		var n int64
		if err := logs.Where("blocked = ?", true).Count(&n).Error; err != nil {
			return 0, nil, err
		}
		value = float64(n)
	case models.MetricUniqueIPs:
		var n int64
		if err := s.db.Model(&models.RequestLog{}).
			Where("created_at > ?", since).
			Distinct("ip_address").Count(&n).Error; err != nil {
			return 0, nil, err
		}
		value = float64(n)
	case models.MetricAvgRiskScore:
		var avg *float64
		if err := s.db.Model(&models.RequestLog{}).
			Where("created_at > ?", since).
			Select("AVG(risk_score)").Scan(&avg).Error; err != nil {
			return 0, nil, err
		}
		if avg != nil {
			value = *avg
		}
	case models.MetricErrorRate:
		var total, errored int64
		if err := s.db.Model(&models.RequestLog{}).Where("created_at > ?", since).Count(&total).Error; err != nil {
			return 0, nil, err
		}
		if total == 0 {
			return 0, nil, nil
		}
		if err := s.db.Model(&models.RequestLog{}).
			Where("created_at > ? AND response_status >= 500", since).
			Count(&errored).Error; err != nil {
			return 0, nil, err
		}
		value = float64(errored) / float64(total)
	default:
		return 0, nil, fmt.Errorf("%w: %q", ErrUnknownMetric, rule.Metric)
	}

	var implicated []string
	err := s.db.Model(&models.RequestLog{}).
		Select("ip_address").
		Where("created_at > ? AND threat_level <> ?", since, models.ThreatSafe).
		Group("ip_address").
		Order("COUNT(*) desc").
		Limit(20).
		Pluck("ip_address", &implicated).Error
	if err != nil {
		return value, nil, err
	}
	return value, implicated, nil
}

func compare(value float64, op string, threshold float64) (bool, error) {
	switch op {
	case models.OpGreater:
		return value > threshold, nil
	case models.OpLess:
		return value < threshold, nil
	case models.OpGreaterEqual:
		return value >= threshold, nil
	case models.OpLessEqual:
		return value <= threshold, nil
	case models.OpEqual:
		return value == threshold, nil
	case models.OpNotEqual:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

// Acknowledge moves an active alert forward to acknowledged.
func (s *AlertService) Acknowledge(id uint, actor string) (*models.SecurityAlert, error) {
	return s.updateStatus(id, models.AlertAcknowledged, actor)
}

// Resolve moves an active or acknowledged alert to resolved.
func (s *AlertService) Resolve(id uint, actor string) (*models.SecurityAlert, error) {
	return s.updateStatus(id, models.AlertResolved, actor)
}

// Suppress silences an alert; allowed from any non-resolved status.
func (s *AlertService) Suppress(id uint, actor string) (*models.SecurityAlert, error) {
	return s.updateStatus(id, models.AlertSuppressed, actor)
}

var alertStatusRanks = map[models.AlertStatus]int{
	models.AlertActive:       0,
	models.AlertAcknowledged: 1,
	models.AlertResolved:     2,
}

func (s *AlertService) updateStatus(id uint, to models.AlertStatus, actor string) (*models.SecurityAlert, error) {
	var alert models.SecurityAlert
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alert, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAlertNotFound
			}
			return err
		}

		// Status moves forward only, except suppression which applies
		// from any non-resolved state.
		if to == models.AlertSuppressed {
			if alert.Status == models.AlertResolved || alert.Status == models.AlertSuppressed {
				return ErrAlertNotActive
			}
		} else {
			if alert.Status == models.AlertSuppressed || alertStatusRanks[to] <= alertStatusRanks[alert.Status] {
				return ErrAlertNotActive
			}
		}

		now := time.Now()
		alert.Status = to
		switch to {
		case models.AlertAcknowledged:
			alert.AcknowledgedBy = actor
			alert.AcknowledgedAt = &now
		case models.AlertResolved:
			alert.ResolvedAt = &now
		}
		return tx.Save(&alert).Error
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// List returns alerts newest first, optionally filtered by status.
func (s *AlertService) List(status models.AlertStatus) ([]models.SecurityAlert, error) {
	var alerts []models.SecurityAlert
	q := s.db.Order("created_at desc")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}
