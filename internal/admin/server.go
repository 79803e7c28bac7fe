// Package admin 提供注册中心进程的管理 HTTP 接口：健康检查、运行状态和指标采集。
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/registry"
	"github.com/ceyewan/consul-registry/xerrors"
)

// StatusSource 提供运行状态，registry.Registry 满足该接口
type StatusSource interface {
	IsAvailable() bool
	Status() registry.Status
}

// Config 管理接口配置
type Config struct {
	// Addr 监听地址，默认 ":9090"
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// RateLimit 每个客户端每秒允许的请求数，0 表示不限流
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// RateBurst 限流突发量，默认与 RateLimit 相同
	RateBurst int `json:"rate_burst" yaml:"rate_burst" mapstructure:"rate_burst"`

	// RateIdle 客户端空闲多久后释放其限流状态，默认 10m
	RateIdle time.Duration `json:"rate_idle" yaml:"rate_idle" mapstructure:"rate_idle"`
}

func (c *Config) validate() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = max(int(c.RateLimit), 1)
	}
	if c.RateIdle <= 0 {
		c.RateIdle = 10 * time.Minute
	}
}

// Option 选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 设置 Logger，自动添加 "admin" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("admin")
		}
	}
}

// WithMeter 设置指标，/metrics 暴露该 Meter 的采集端点
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// Server 管理 HTTP 服务
type Server struct {
	cfg    Config
	logger clog.Logger
	engine *gin.Engine
	srv    *http.Server
}

// New 创建管理服务，不会立即监听
func New(cfg *Config, source StatusSource, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "status source is nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.validate()

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, "admin")
	if err != nil {
		return nil, xerrors.Wrap(err, "create admin http metrics")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), metrics.GinHTTPMiddleware(httpMetrics))
	if c.RateLimit > 0 {
		limiter, err := newClientLimiter(c.RateLimit, c.RateBurst, c.RateIdle, nil)
		if err != nil {
			return nil, xerrors.Wrap(err, "create admin rate limiter")
		}
		engine.Use(rateLimitMiddleware(limiter))
	}

	engine.GET("/healthz", func(ctx *gin.Context) {
		if !source.IsAvailable() {
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/status", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, source.Status())
	})
	engine.GET("/metrics", gin.WrapH(o.meter.Handler()))

	return &Server{
		cfg:    c,
		logger: o.logger,
		engine: engine,
		srv: &http.Server{
			Addr:              c.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler 返回 HTTP 处理器，便于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve 在给定的 listener 上提供服务，直到 Shutdown
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("admin server listening", clog.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Wrap(err, "admin server")
	}
	return nil
}

// ListenAndServe 监听配置的地址并提供服务
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "listen %s", s.cfg.Addr)
	}
	return s.Serve(lis)
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
