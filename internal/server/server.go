package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/ssm-ops/watchtower/internal/api/middleware"
	"github.com/ssm-ops/watchtower/internal/api/routes"
	"github.com/ssm-ops/watchtower/internal/config"
	"github.com/ssm-ops/watchtower/internal/geo"
)

// Server wraps the HTTP engine and shared dependencies for easier testing.
type Server struct {
	Engine   *gin.Engine
	Services *routes.Services
	cfg      config.Config
}

// New wires up the HTTP router and registers versioned routes.
func New(db *gorm.DB, cfg config.Config, resolver geo.Resolver) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(cfg.Environment == "development"))

	svcs, err := routes.Register(router, db, resolver)
	if err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	return &Server{Engine: router, Services: svcs, cfg: cfg}, nil
}

// Run starts the HTTP server with proper shutdown semantics.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", s.cfg.HTTPPort),
		Handler: s.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
