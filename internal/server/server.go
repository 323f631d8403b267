// Package server exposes the pipeline, the stored records and the event
// stream over a local HTTP control surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bus"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/orchestrator"
	"github.com/xkilldash9x/flow-automator/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Pipeline is the part of the orchestrator the control surface drives.
type Pipeline interface {
	Start() error
	Pause()
	Resume()
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Status() orchestrator.RunStatus

	StartPicker(ctx context.Context, role schemas.ElementRole) (schemas.ActionResult, error)
	StopPicker(ctx context.Context) (schemas.ActionResult, error)
	TestElement(ctx context.Context, role schemas.ElementRole) (schemas.TestResult, error)
	RefreshElements(ctx context.Context) error
	PageStatus(ctx context.Context) (schemas.StatusResult, error)
}

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(types ...schemas.EventType) (<-chan bus.Message, func())
}

var _ Pipeline = (*orchestrator.Controller)(nil)

// Deps are the collaborators of a Server.
type Deps struct {
	Pipeline Pipeline
	Store    *store.Store
	Events   Subscriber
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer
}

// Server is the gin-based control surface.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger
}

// New builds the router. It does not listen.
func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Pipeline == nil || deps.Store == nil || deps.Events == nil {
		return nil, errors.New("cannot initialize server with nil dependencies")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	s := &Server{cfg: cfg, deps: deps, engine: engine, logger: logger.Named("server")}

	engine.Use(s.requestLogger(), gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSOrigins
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}
	s.routes()
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control surface listening.", zap.String("addr", ln.Addr().String()))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Control surface shutdown incomplete.", zap.Error(err))
		return err
	}
	<-errCh
	s.logger.Info("Control surface stopped.")
	return nil
}

// requestLogger logs each request at debug level, and failures at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("Request failed.", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		s.logger.Debug("Request served.", fields...)
	}
}
