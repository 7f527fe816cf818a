// Package server 组装注册中心的HTTP服务、DNS服务和过期清理任务
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/api/handler"
	"github.com/hewenyu/service-registry/pkg/api/middleware"
	"github.com/hewenyu/service-registry/pkg/api/router"
	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/dns"
	"github.com/hewenyu/service-registry/pkg/metrics"
	"github.com/hewenyu/service-registry/pkg/registry"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// Version 注册中心版本
const Version = "1.0.0"

// Server 注册中心服务
type Server struct {
	e        *echo.Echo
	cfg      *config.Config
	logger   config.Logger
	store    storage.EndpointStore
	registry *registry.Registry
	metrics  *metrics.Metrics
	dns      *dns.Server

	cancel      context.CancelFunc
	sweeperDone <-chan struct{}
	serveDone   chan struct{}
}

// New 根据配置打开存储并创建服务
func New(cfg *config.Config, logger config.Logger) (*Server, error) {
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	return NewWithStore(cfg, store, logger), nil
}

// NewWithStore 使用已有存储创建服务
func NewWithStore(cfg *config.Config, store storage.EndpointStore, logger config.Logger) *Server {
	m := metrics.New()
	reg := registry.New(store, logger, registry.WithMetrics(m))

	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.Metrics(m))
	if limiter := middleware.RateLimit(cfg.RateLimit); limiter != nil {
		e.Use(limiter)
	}

	// 注册路由
	router.RegisterRoutes(e, router.Handlers{
		Registry: handler.NewRegistryHandler(reg, logger),
		Health:   handler.NewHealthHandler(reg, cfg.Storage.Driver, Version),
		Metrics:  handler.NewMetricsHandler(m),
		Admin:    handler.NewAdminServiceHandler(reg),
	})

	s := &Server{
		e:        e,
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: reg,
		metrics:  m,
	}

	if cfg.DNS.Enabled {
		dnsHandler := dns.NewHandler(reg, cfg.DNS.Domain, cfg.DNS.TTL, logger, m)
		s.dns = dns.NewServer(cfg.DNS, dnsHandler, logger)
	}
	return s
}

// Registry 返回服务使用的 Registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start 启动服务，监听成功后返回
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听%s失败: %w", addr, err)
	}
	s.e.Listener = listener

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if s.dns != nil {
		if err := s.dns.Start(ctx); err != nil {
			cancel()
			_ = listener.Close()
			return err
		}
	}

	if s.cfg.Heartbeat.Timeout > 0 {
		s.sweeperDone = s.registry.StartSweeper(bgCtx, s.cfg.Heartbeat.Timeout, s.cfg.Heartbeat.SweepInterval)
	}

	s.serveDone = make(chan struct{})
	go func() {
		defer close(s.serveDone)
		if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("注册中心HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("注册中心已启动",
		zap.String("addr", listener.Addr().String()),
		zap.String("storage", s.cfg.Storage.Driver),
		zap.Bool("dns", s.dns != nil),
		zap.Duration("heartbeat_timeout", s.cfg.Heartbeat.Timeout))
	return nil
}

// Addr 返回HTTP实际监听地址
func (s *Server) Addr() string {
	if s.e.Listener == nil {
		return ""
	}
	return s.e.Listener.Addr().String()
}

// DNSAddr 返回DNS实际监听的UDP地址
func (s *Server) DNSAddr() string {
	if s.dns == nil {
		return ""
	}
	return s.dns.UDPAddr()
}

// Shutdown 关闭服务并释放存储
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.sweeperDone != nil {
		<-s.sweeperDone
	}
	if s.dns != nil {
		_ = s.dns.Stop()
	}

	var errs []error
	if err := s.e.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("关闭HTTP服务失败: %w", err))
	}
	if s.serveDone != nil {
		<-s.serveDone
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("关闭存储失败: %w", err))
	}

	s.logger.Info("注册中心已关闭")
	return errors.Join(errs...)
}
