package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/gateway"
	"github.com/hewenyu/service-registry/pkg/api/middleware"
	"github.com/hewenyu/service-registry/pkg/config"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

const defaultServiceName = "api_gateway"

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	client, err := sdk.NewClientFromConfig(cfg.Client)
	if err != nil {
		logger.Fatal("创建注册中心客户端失败", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if limiter := middleware.RateLimit(cfg.RateLimit); limiter != nil {
		e.Use(limiter)
	}
	gateway.New(client, cfg.Gateway, logger).RegisterRoutes(e)

	addr := net.JoinHostPort(cfg.Service.Host, strconv.Itoa(cfg.Service.Port))
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("网关启动失败", zap.Error(err))
		}
	}()

	name := cfg.Service.Name
	if name == "" {
		name = defaultServiceName
	}
	reg := sdk.NewRegistration(client, sdk.RegistrationConfig{
		ServiceName: name,
		Address:     cfg.Service.AdvertiseAddress,
		Port:        cfg.Service.Port,
	}, logger)
	reg.Register(context.Background())
	reg.StartHeartbeat(cfg.Service.HeartbeatInterval)

	logger.Info("网关已启动",
		zap.String("addr", addr),
		zap.String("registry", cfg.Client.RegistryAddr()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg.Close(ctx)
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("关闭网关失败", zap.Error(err))
	}
}
