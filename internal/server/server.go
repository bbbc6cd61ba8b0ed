// Package server exposes the execution registry over HTTP.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	hzConfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/route"
	monitor "github.com/hertz-contrib/monitor-prometheus"

	"github.com/tgifai/launchpad/internal/config"
	"github.com/tgifai/launchpad/internal/pkg/logs"
	"github.com/tgifai/launchpad/internal/pkg/prometheus"
	"github.com/tgifai/launchpad/internal/runner"
	"github.com/tgifai/launchpad/internal/runner/execution"
)

type submitRequest struct {
	Files []execution.SubmittedFile `json:"files"`
}

type Server struct {
	registry   *runner.Registry
	apiKey     string
	httpServer *hzServer.Hertz
	stopOnce   sync.Once
}

func New(cfg config.ServerConfig, registry *runner.Registry) *Server {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	opts := []hzConfig.Option{
		hzServer.WithHostPorts(cfg.Bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(5 * time.Second),
	}
	if cfg.MetricsBind != "" {
		tracer := monitor.NewServerTracer(cfg.MetricsBind, cfg.MetricsPath,
			monitor.WithRegistry(prometheus.GetRegistry()))
		opts = append(opts, hzServer.WithTracer(tracer))
	}

	s := &Server{
		registry:   registry,
		apiKey:     cfg.APIKey,
		httpServer: hzServer.Default(opts...),
	}
	s.routes(s.httpServer.Engine)
	return s
}

func (s *Server) routes(r *route.Engine) {
	r.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := r.Group("/api/v1", s.auth)
	api.POST("/executions", s.submit)
	api.GET("/executions", s.list)
	api.GET("/executions/:id", s.status)
	api.POST("/executions/:id/cancel", s.cancel)
	api.DELETE("/executions/:id", s.remove)
}

// Start serves in the background.
func (s *Server) Start(ctx context.Context) {
	go s.httpServer.Spin()
	logs.CtxInfo(ctx, "[server] listening")
}

func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			logs.CtxWarn(ctx, "[server] shutdown http server error: %v", err)
		}
	})
}

func (s *Server) auth(ctx context.Context, c *app.RequestContext) {
	if s.apiKey == "" {
		c.Next(ctx)
		return
	}
	if string(c.GetHeader("Authorization")) != "Bearer "+s.apiKey {
		c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "unauthorized"})
		return
	}
	c.Next(ctx)
}

func (s *Server) submit(ctx context.Context, c *app.RequestContext) {
	var req submitRequest
	if err := sonic.Unmarshal(c.GetRequest().Body(), &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body"})
		return
	}

	id, err := s.registry.Submit(ctx, req.Files)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusCreated, utils.H{"id": id})
}

func (s *Server) list(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"executions": s.registry.List()})
}

func (s *Server) status(ctx context.Context, c *app.RequestContext) {
	tail := gconv.To[int](c.Query("tail"))
	snap, err := s.registry.Status(c.Param("id"), tail)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, snap)
}

func (s *Server) cancel(ctx context.Context, c *app.RequestContext) {
	ack, err := s.registry.Cancel(ctx, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, ack)
}

func (s *Server) remove(ctx context.Context, c *app.RequestContext) {
	if err := s.registry.Remove(ctx, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(consts.StatusNoContent)
}

func (s *Server) fail(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, runner.ErrNotFound):
		c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, runner.ErrRegistryClosed):
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
	default:
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
	}
}
