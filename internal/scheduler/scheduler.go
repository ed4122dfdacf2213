package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/api/routes"
	"github.com/ssm-ops/watchtower/internal/config"
	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/models"
)

// Scheduler drives the background jobs: alert evaluation, metric
// rollups, block expiry sweeps and retention cleanup.
type Scheduler struct {
	cron *cron.Cron
	db   *gorm.DB
	svcs *routes.Services
	cfg  config.Config
}

func New(db *gorm.DB, svcs *routes.Services, cfg config.Config) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		db:   db,
		svcs: svcs,
		cfg:  cfg,
	}
}

// Start registers the jobs and starts the cron loop. It is a no-op when
// scheduling is disabled in configuration.
func (s *Scheduler) Start() error {
	if !s.cfg.SchedulerEnabled {
		logger.Log().Info("scheduler disabled, background jobs will not run")
		return nil
	}

	evalEvery := s.cfg.AlertEvaluationMinutes
	if evalEvery <= 0 {
		evalEvery = 1
	}

	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{fmt.Sprintf("@every %dm", evalEvery), "alert_evaluation", func() {
			s.svcs.Alerts.EvaluateRules(time.Now())
		}},
		// Five minutes past the hour so the previous hour's logs are
		// all committed before aggregation.
		{"5 * * * *", "hourly_rollup", func() {
			s.svcs.Rollups.RunPendingHourly(time.Now())
		}},
		{"15 0 * * *", "daily_rollup", func() {
			s.svcs.Rollups.RunPendingDaily(time.Now())
		}},
		{"@every 15m", "block_sweep", func() {
			s.svcs.Reputation.SweepExpired()
			s.cleanupClaims()
		}},
		{"30 1 * * *", "retention_cleanup", func() {
			s.cleanupLogs()
		}},
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
		logger.WithFields(map[string]interface{}{"job": job.name, "spec": job.spec}).Info("scheduled background job")
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// cleanupClaims drops old single-flight rows so the claims table does not
// grow without bound. Claims older than the rollup lookback are never
// consulted again.
func (s *Scheduler) cleanupClaims() {
	cutoff := time.Now().AddDate(0, 0, -14)
	if err := s.db.Where("created_at < ?", cutoff).Delete(&models.RollupClaim{}).Error; err != nil {
		logger.Log().WithError(err).Warn("rollup claim cleanup failed")
	}
}

// cleanupLogs applies the raw log retention window. Rollup tables are
// kept indefinitely.
func (s *Scheduler) cleanupLogs() {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.RequestLog{})
	if result.Error != nil {
		logger.Log().WithError(result.Error).Warn("request log retention cleanup failed")
		return
	}
	if result.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{"deleted": result.RowsAffected}).Info("expired request logs removed")
	}
}
