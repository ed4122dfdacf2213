package services

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/metrics"
	"github.com/ssm-ops/watchtower/internal/models"
)

// DetectionResult is the aggregate verdict of all firing rules for one
// request: the maximum severity, the union of categories, and the strongest
// action.
type DetectionResult struct {
	ThreatLevel      models.ThreatLevel
	Categories       []string
	SignatureMatches []string
	BehavioralFlags  []string
	AnomalyScore     float64
	Action           models.RuleAction
	MatchedRuleIDs   []uint
}

// DetectionService evaluates enabled detection rules against requests.
// A malformed rule is isolated and disabled; it never aborts evaluation of
// the remaining rules.
type DetectionService struct {
	db            *gorm.DB
	reputation    *ReputationService
	notifications *NotificationService
}

func NewDetectionService(db *gorm.DB, reputation *ReputationService, notifications *NotificationService) *DetectionService {
	return &DetectionService{db: db, reputation: reputation, notifications: notifications}
}

// Evaluate runs every enabled rule against the request. When the winning
// action is block and a firing block rule carries an auto-block duration,
// the engine requests an IPBlock from the block manager.
func (s *DetectionService) Evaluate(t Telemetry) DetectionResult {
	result := DetectionResult{
		ThreatLevel: models.ThreatSafe,
		Action:      models.ActionLog,
	}

	var rules []models.DetectionRule
	if err := s.db.Where("enabled = ?", true).Order("id").Find(&rules).Error; err != nil {
		logger.Log().WithError(err).Error("failed to load detection rules")
		return result
	}

	seen := make(map[string]bool)
	autoBlockMinutes := 0

	for i := range rules {
		rule := &rules[i]

		fired, anomaly, err := s.matchRule(rule, t)
		if err != nil {
			s.disableRule(rule, err)
			continue
		}
		if !fired {
			continue
		}

		for _, category := range rule.Categories {
			if !seen[category] {
				seen[category] = true
				result.Categories = append(result.Categories, category)
			}
		}

		switch rule.Type {
		case models.RuleTypeSignature:
			result.SignatureMatches = append(result.SignatureMatches, rule.Name)
		case models.RuleTypeBehavioral, models.RuleTypeReputation:
			result.BehavioralFlags = append(result.BehavioralFlags, rule.Name)
		case models.RuleTypeAnomaly:
			result.BehavioralFlags = append(result.BehavioralFlags, rule.Name)
			if anomaly > result.AnomalyScore {
				result.AnomalyScore = anomaly
			}
		}

		result.ThreatLevel = models.MaxThreatLevel(result.ThreatLevel, rule.ThreatLevel)
		result.Action = models.StrongerAction(result.Action, rule.Action)
		result.MatchedRuleIDs = append(result.MatchedRuleIDs, rule.ID)

		if rule.Action == models.ActionBlock && rule.AutoBlockDurationMinutes > autoBlockMinutes {
			autoBlockMinutes = rule.AutoBlockDurationMinutes
		}

		s.recordMatch(rule)
	}

	if result.Action == models.ActionBlock && autoBlockMinutes > 0 {
		duration := time.Duration(autoBlockMinutes) * time.Minute
		if _, err := s.reputation.CreateBlock(
			t.IPAddress,
			"detection rule auto-block",
			result.ThreatLevel,
			&duration,
			"detection_engine",
		); err != nil {
			logger.WithFields(map[string]interface{}{"ip": t.IPAddress}).WithError(err).Error("auto-block request failed")
		}
	}

	return result
}

// matchRule dispatches to the matcher for the rule's type. Panics inside a
// matcher are converted to errors so one bad rule cannot take down the
// evaluation loop.
func (s *DetectionService) matchRule(rule *models.DetectionRule, t Telemetry) (fired bool, anomaly float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			fired = false
			err = fmt.Errorf("rule matcher panicked: %v", r)
		}
	}()

	switch rule.Type {
	case models.RuleTypeSignature:
		fired, err = s.matchSignature(rule, t)
		return fired, 0, err
	case models.RuleTypeBehavioral:
		fired, err = s.matchBehavioral(rule, t)
		return fired, 0, err
	case models.RuleTypeAnomaly:
		return s.matchAnomaly(rule, t)
	case models.RuleTypeReputation:
		return s.reputation.Reputation(t.IPAddress) <= int(rule.Threshold), 0, nil
	default:
		return false, 0, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

func (s *DetectionService) matchSignature(rule *models.DetectionRule, t Telemetry) (bool, error) {
	if rule.Pattern == "" {
		return false, fmt.Errorf("signature rule has no pattern")
	}
	re, err := regexp.Compile("(?i)" + rule.Pattern)
	if err != nil {
		return false, fmt.Errorf("invalid signature pattern: %w", err)
	}

	switch rule.Field {
	case "", "path":
		return re.MatchString(t.Path), nil
	case "user_agent":
		return re.MatchString(t.UserAgent), nil
	case "query":
		for key, value := range t.Query {
			if re.MatchString(key) || re.MatchString(value) {
				return true, nil
			}
		}
		return false, nil
	case "headers":
		for key, value := range t.Headers {
			if re.MatchString(key) || re.MatchString(value) {
				return true, nil
			}
		}
		return false, nil
	case "any":
		if re.MatchString(t.Path) || re.MatchString(t.UserAgent) {
			return true, nil
		}
		for key, value := range t.Query {
			if re.MatchString(key) || re.MatchString(value) {
				return true, nil
			}
		}
		for key, value := range t.Headers {
			if re.MatchString(key) || re.MatchString(value) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown signature field %q", rule.Field)
	}
}

// matchBehavioral fires when the address exceeded the rule's request count
// threshold over its trailing window.
func (s *DetectionService) matchBehavioral(rule *models.DetectionRule, t Telemetry) (bool, error) {
	if rule.Threshold <= 0 {
		return false, fmt.Errorf("behavioral rule has no threshold")
	}
	window := time.Duration(rule.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}

	var count int64
	err := s.db.Model(&models.RequestLog{}).
		Where("ip_address = ? AND created_at > ?", t.IPAddress, time.Now().Add(-window)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("behavioral activity lookup: %w", err)
	}
	return float64(count)+1 >= rule.Threshold, nil
}

// matchAnomaly compares the address's recent request volume against the
// per-address baseline of the same window and fires when the deviation in
// standard deviations reaches the rule's threshold.
func (s *DetectionService) matchAnomaly(rule *models.DetectionRule, t Telemetry) (bool, float64, error) {
	if rule.Threshold <= 0 {
		return false, 0, fmt.Errorf("anomaly rule has no threshold")
	}
	window := time.Duration(rule.WindowSeconds) * time.Second
	if window <= 0 {
		window = time.Hour
	}
	since := time.Now().Add(-window)

	var counts []int64
	err := s.db.Model(&models.RequestLog{}).
		Select("COUNT(*) as c").
		Where("created_at > ?", since).
		Group("ip_address").
		Pluck("c", &counts).Error
	if err != nil {
		return false, 0, fmt.Errorf("anomaly baseline lookup: %w", err)
	}
	if len(counts) < 2 {
		return false, 0, nil
	}

	var own int64
	if err := s.db.Model(&models.RequestLog{}).
		Where("ip_address = ? AND created_at > ?", t.IPAddress, since).
		Count(&own).Error; err != nil {
		return false, 0, fmt.Errorf("anomaly activity lookup: %w", err)
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c)
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, c := range counts {
		variance += (float64(c) - mean) * (float64(c) - mean)
	}
	stddev := math.Sqrt(variance / float64(len(counts)))
	if stddev == 0 {
		return false, 0, nil
	}

	deviation := (float64(own) - mean) / stddev
	if deviation < rule.Threshold {
		return false, 0, nil
	}
	// Normalize the deviation into [0,1] for the scorer: threshold maps to
	// ~0.5, twice the threshold saturates.
	anomaly := math.Min(1, deviation/(2*rule.Threshold))
	return true, anomaly, nil
}

func (s *DetectionService) recordMatch(rule *models.DetectionRule) {
	now := time.Now()
	err := s.db.Model(&models.DetectionRule{}).
		Where("id = ?", rule.ID).
		UpdateColumns(map[string]interface{}{
			"match_count": gorm.Expr("match_count + 1"),
			"last_match":  now,
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(err).Error("failed to record rule match")
	}
}

// disableRule isolates a malformed rule so the rest of the engine keeps
// evaluating, and surfaces the failure to operators.
func (s *DetectionService) disableRule(rule *models.DetectionRule, cause error) {
	logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(cause).Error("disabling malformed detection rule")
	metrics.IncRuleDisabled()

	err := s.db.Model(&models.DetectionRule{}).
		Where("id = ?", rule.ID).
		UpdateColumns(map[string]interface{}{
			"enabled":    false,
			"last_error": cause.Error(),
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{"rule": rule.Name}).WithError(err).Error("failed to disable rule")
		return
	}
	rule.Enabled = false

	if s.notifications != nil {
		title := "Detection rule disabled"
		message := fmt.Sprintf("Rule %q was disabled: %s", rule.Name, cause.Error())
		_, _ = s.notifications.Create(models.NotificationTypeError, title, message)
		s.notifications.SendExternal("rule", title, message, map[string]interface{}{
			"rule": rule.Name,
			"type": string(rule.Type),
		})
	}
}

// EnableRule re-enables a rule an operator has fixed and clears its error.
func (s *DetectionService) EnableRule(id uint) error {
	result := s.db.Model(&models.DetectionRule{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"enabled":    true,
			"last_error": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ValidateRule rejects rules the engine could never evaluate. Called by the
// operator CRUD surface before persisting.
func ValidateRule(rule *models.DetectionRule) error {
	switch rule.Type {
	case models.RuleTypeSignature:
		if rule.Pattern == "" {
			return fmt.Errorf("signature rule requires a pattern")
		}
		if _, err := regexp.Compile("(?i)" + rule.Pattern); err != nil {
			return fmt.Errorf("invalid signature pattern: %w", err)
		}
	case models.RuleTypeBehavioral, models.RuleTypeAnomaly, models.RuleTypeReputation:
		if rule.Threshold <= 0 {
			return fmt.Errorf("%s rule requires a positive threshold", rule.Type)
		}
	default:
		return fmt.Errorf("unknown rule type %q", rule.Type)
	}
	if !rule.ThreatLevel.Valid() {
		return fmt.Errorf("unknown threat level %q", rule.ThreatLevel)
	}
	if !rule.Action.Valid() {
		return fmt.Errorf("unknown action %q", rule.Action)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("rule requires a name")
	}
	return nil
}
