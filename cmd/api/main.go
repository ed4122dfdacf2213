package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ssm-ops/watchtower/internal/config"
	"github.com/ssm-ops/watchtower/internal/database"
	"github.com/ssm-ops/watchtower/internal/geo"
	"github.com/ssm-ops/watchtower/internal/logger"
	"github.com/ssm-ops/watchtower/internal/scheduler"
	"github.com/ssm-ops/watchtower/internal/server"
	"github.com/ssm-ops/watchtower/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Log to both stdout and a rotated file next to the database.
	logDir := filepath.Join(filepath.Dir(cfg.DatabasePath), "logs")
	_ = os.MkdirAll(logDir, 0o755)
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "watchtower.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Environment == "development", io.MultiWriter(os.Stdout, rotator))

	logger.WithFields(map[string]interface{}{
		"version": version.Full(),
		"env":     cfg.Environment,
	}).Info("starting watchtower")

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("connect database")
	}

	resolver := geo.NewResolver(cfg.GeoIPCityPath, cfg.GeoIPASNPath)
	defer resolver.Close()

	srv, err := server.New(db, cfg, resolver)
	if err != nil {
		logger.Log().WithError(err).Fatal("build server")
	}

	sched := scheduler.New(db, srv.Services, cfg)
	if err := sched.Start(); err != nil {
		logger.Log().WithError(err).Fatal("start scheduler")
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithFields(map[string]interface{}{"port": cfg.HTTPPort}).Info("listening")
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Fatal("server error")
	}
}
