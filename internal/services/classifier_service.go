package services

import (
	"fmt"
	"math"
	"net"

	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/geo"
	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/metrics"
	"github.com/ssm-ops/watchtower/internal/models"
	"github.com/ssm-ops/watchtower/internal/scoring"
)

// ErrInvalidTelemetry rejects payloads the classifier cannot attribute to an
// address. Dropped payloads are counted, never persisted.
var ErrInvalidTelemetry = fmt.Errorf("invalid telemetry payload")

// ClassifierService orchestrates geo resolution, rule evaluation, reputation
// lookup and scoring into one persisted RequestLog per observed request.
// It sits on the request hot path: classification failures degrade to safe
// defaults and the request is still recorded, never surfaced as an error to
// the traffic being observed.
type ClassifierService struct {
	db         *gorm.DB
	geo        geo.Resolver
	detection  *DetectionService
	reputation *ReputationService
}

func NewClassifierService(db *gorm.DB, resolver geo.Resolver, detection *DetectionService, reputation *ReputationService) *ClassifierService {
	return &ClassifierService{db: db, geo: resolver, detection: detection, reputation: reputation}
}

// Classify evaluates one request and persists its log record. The returned
// error is only ever a validation or persistence failure; scorer and rule
// engine failures fail safe and still record the request.
func (s *ClassifierService) Classify(t Telemetry) (*models.RequestLog, error) {
	if net.ParseIP(t.IPAddress) == nil {
		metrics.IncIngestDropped()
		return nil, fmt.Errorf("%w: unparseable ip %q", ErrInvalidTelemetry, t.IPAddress)
	}

	info := s.geo.Resolve(t.IPAddress)

	result, riskScore, failed := s.evaluate(t)
	if failed {
		// Fail safe: the pipeline must never stop a request from being
		// recorded or served because classification broke.
		result = DetectionResult{ThreatLevel: models.ThreatSafe, Action: models.ActionLog}
		riskScore = 0
		metrics.IncClassificationFailure()
	}

	blocked := result.Action == models.ActionBlock || s.reputation.IsBlocked(t.IPAddress)

	log := &models.RequestLog{
		IPAddress: t.IPAddress,
		UserAgent: t.UserAgent,
		Referer:   t.Referer,
		Origin:    t.Origin,
		Method:    t.Method,
		Path:      t.Path,
		Query:     t.Query,
		Headers:   t.Headers,
		BodySize:  t.BodySize,

		Country: info.Country,
		Region:  info.Region,
		City:    info.City,
		ASN:     info.ASN,
		ISP:     info.ISP,

		ThreatLevel:      result.ThreatLevel,
		ThreatCategories: result.Categories,
		RiskScore:        riskScore,
		ConfidenceScore:  confidence(result),
		SignatureMatches: result.SignatureMatches,
		BehavioralFlags:  result.BehavioralFlags,
		AnomalyScore:     result.AnomalyScore,

		ResponseStatus:  t.ResponseStatus,
		ResponseTimeMs:  t.ResponseTimeMs,
		Blocked:         blocked,
		ChallengeIssued: result.Action == models.ActionChallenge,

		SessionID: t.SessionID,
		UserID:    t.UserID,
	}

	if err := s.db.Create(log).Error; err != nil {
		return nil, fmt.Errorf("persist request log: %w", err)
	}

	metrics.IncClassified()
	if blocked {
		metrics.IncBlocked()
		s.reputation.RecordBlockedHit(t.IPAddress)
	}

	if err := s.reputation.RecordActivity(t.IPAddress, log.IsThreat(), info); err != nil {
		logger.WithFields(map[string]interface{}{"ip": t.IPAddress}).WithError(err).Error("failed to record ip activity")
	}

	return log, nil
}

// evaluate runs the rule engine and scorer behind a recover barrier.
func (s *ClassifierService) evaluate(t Telemetry) (result DetectionResult, riskScore int, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"ip":   t.IPAddress,
				"path": t.Path,
			}).Errorf("classification panicked, failing safe: %v", r)
			failed = true
		}
	}()

	reputation := s.reputation.Reputation(t.IPAddress)
	result = s.detection.Evaluate(t)
	riskScore = scoring.Score(result.ThreatLevel, result.SignatureMatches, result.BehavioralFlags, result.AnomalyScore, reputation)
	return result, riskScore, false
}

// confidence grows with the number of independent signals behind a verdict.
func confidence(result DetectionResult) float64 {
	signals := len(result.SignatureMatches) + len(result.BehavioralFlags)
	if signals == 0 {
		return 0.5
	}
	return math.Min(1, 0.5+0.1*float64(signals))
}
