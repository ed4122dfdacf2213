package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/models"
)

// ReportService serves the dashboard read models. Every method is a pure
// read over request logs, rollups, alerts and incidents; none mutate state.
type ReportService struct {
	db         *gorm.DB
	reputation *ReputationService
	startedAt  time.Time
}

func NewReportService(db *gorm.DB, reputation *ReputationService) *ReportService {
	return &ReportService{db: db, reputation: reputation, startedAt: time.Now()}
}

// ComprehensiveMetrics is the dashboard headline view.
type ComprehensiveMetrics struct {
	TotalRequests     int64   `json:"total_requests"`
	RequestsLastHour  int64   `json:"requests_last_hour"`
	BlockedRequests   int64   `json:"blocked_requests"`
	SuspiciousIPs     int64   `json:"suspicious_ips"`
	ActiveThreats     int64   `json:"active_threats"`
	UniqueCountries   int64   `json:"unique_countries"`
	AvgResponseTimeMs float64 `json:"avg_response_time"`
	UptimeSeconds     int64   `json:"uptime"`
	IncidentsToday    int64   `json:"incidents_today"`
}

// ComprehensiveMetrics aggregates the trailing 24 hours plus the last hour.
func (s *ReportService) ComprehensiveMetrics() (*ComprehensiveMetrics, error) {
	now := time.Now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	out := &ComprehensiveMetrics{
		UptimeSeconds: int64(now.Sub(s.startedAt).Seconds()),
	}

	day := func() *gorm.DB {
		return s.db.Model(&models.RequestLog{}).Where("created_at > ?", dayAgo)
	}

	if err := day().Count(&out.TotalRequests).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.RequestLog{}).Where("created_at > ?", hourAgo).Count(&out.RequestsLastHour).Error; err != nil {
		return nil, err
	}
	if err := day().Where("blocked = ?", true).Count(&out.BlockedRequests).Error; err != nil {
		return nil, err
	}
	if err := day().Where("threat_level IN ?", []models.ThreatLevel{models.ThreatMedium, models.ThreatHigh, models.ThreatCritical}).
		Distinct("ip_address").Count(&out.SuspiciousIPs).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.SecurityAlert{}).Where("status = ?", models.AlertActive).Count(&out.ActiveThreats).Error; err != nil {
		return nil, err
	}
	if err := day().Where("country <> ''").Distinct("country").Count(&out.UniqueCountries).Error; err != nil {
		return nil, err
	}

	var avg *float64
	if err := day().Select("AVG(response_time_ms)").Scan(&avg).Error; err != nil {
		return nil, err
	}
	if avg != nil {
		out.AvgResponseTimeMs = *avg
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.db.Model(&models.SecurityIncident{}).Where("created_at >= ?", startOfDay).Count(&out.IncidentsToday).Error; err != nil {
		return nil, err
	}

	return out, nil
}

// CountryStats is one row of the 24h geographic distribution.
type CountryStats struct {
	Country        string  `json:"country"`
	TotalRequests  int64   `json:"total_requests"`
	ThreatRequests int64   `json:"threat_requests"`
	UniqueIPs      int64   `json:"unique_ips"`
	AvgRiskScore   float64 `json:"avg_risk_score"`
}

// GeographicDistribution returns per-country 24h aggregates, restricted to
// countries that produced at least one medium-or-above request.
func (s *ReportService) GeographicDistribution() ([]CountryStats, error) {
	since := time.Now().Add(-24 * time.Hour)

	var rows []CountryStats
	err := s.db.Model(&models.RequestLog{}).
		Select(`country,
			COUNT(*) as total_requests,
			SUM(CASE WHEN threat_level <> 'safe' THEN 1 ELSE 0 END) as threat_requests,
			COUNT(DISTINCT ip_address) as unique_ips,
			AVG(risk_score) as avg_risk_score`).
		Where("created_at > ? AND country <> ''", since).
		Group("country").
		Having("SUM(CASE WHEN threat_level IN ('medium','high','critical') THEN 1 ELSE 0 END) > 0").
		Order("threat_requests desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AttackerStats is one row of the top-attacking-IPs report.
type AttackerStats struct {
	IP             string    `json:"ip"`
	TotalRequests  int64     `json:"total_requests"`
	ThreatRequests int64     `json:"threat_requests"`
	MaxRiskScore   int       `json:"max_risk_score"`
	Countries      string    `json:"countries"`
	LastSeen       time.Time `json:"last_seen"`
	IsBlocked      bool      `json:"is_blocked"`
	Reputation     int       `json:"reputation"`
}

// TopAttackingIPs returns the 24h addresses with at least one threat-level
// request, ordered by threat-request count then total-request count.
func (s *ReportService) TopAttackingIPs(limit int) ([]AttackerStats, error) {
	if limit <= 0 {
		limit = 20
	}
	since := time.Now().Add(-24 * time.Hour)

	var rows []AttackerStats
	err := s.db.Model(&models.RequestLog{}).
		Select(`ip_address as ip,
			COUNT(*) as total_requests,
			SUM(CASE WHEN threat_level <> 'safe' THEN 1 ELSE 0 END) as threat_requests,
			MAX(risk_score) as max_risk_score,
			GROUP_CONCAT(DISTINCT country) as countries,
			MAX(created_at) as last_seen`).
		Where("created_at > ?", since).
		Group("ip_address").
		Having("SUM(CASE WHEN threat_level <> 'safe' THEN 1 ELSE 0 END) > 0").
		Order("threat_requests desc, total_requests desc").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for i := range rows {
		rows[i].IsBlocked = s.reputation.IsBlocked(rows[i].IP)
		rows[i].Reputation = s.reputation.Reputation(rows[i].IP)
	}
	return rows, nil
}

// TimelinePoint is one hour of the threat timeline.
type TimelinePoint struct {
	Time              time.Time `json:"time"`
	Total             int64     `json:"total"`
	High              int64     `json:"high"`
	Critical          int64     `json:"critical"`
	Blocked           int64     `json:"blocked"`
	UniqueIPs         int64     `json:"unique_ips"`
	AvgResponseTimeMs float64   `json:"avg_response_time"`
}

// ThreatTimeline returns an ascending hourly series over the trailing
// hoursBack hours, including empty hours.
func (s *ReportService) ThreatTimeline(hoursBack int) ([]TimelinePoint, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}

	end := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	start := end.Add(-time.Duration(hoursBack) * time.Hour)

	var logs []models.RequestLog
	err := s.db.Select("created_at, threat_level, blocked, ip_address, response_time_ms").
		Where("created_at >= ? AND created_at < ?", start, end).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}

	points := make([]TimelinePoint, hoursBack)
	ips := make([]map[string]bool, hoursBack)
	sums := make([]int64, hoursBack)
	for i := range points {
		points[i].Time = start.Add(time.Duration(i) * time.Hour)
		ips[i] = make(map[string]bool)
	}

	for _, log := range logs {
		i := int(log.CreatedAt.UTC().Sub(start) / time.Hour)
		if i < 0 || i >= hoursBack {
			continue
		}
		points[i].Total++
		switch log.ThreatLevel {
		case models.ThreatHigh:
			points[i].High++
		case models.ThreatCritical:
			points[i].Critical++
		}
		if log.Blocked {
			points[i].Blocked++
		}
		ips[i][log.IPAddress] = true
		sums[i] += int64(log.ResponseTimeMs)
	}

	for i := range points {
		points[i].UniqueIPs = int64(len(ips[i]))
		if points[i].Total > 0 {
			points[i].AvgResponseTimeMs = float64(sums[i]) / float64(points[i].Total)
		}
	}
	return points, nil
}
