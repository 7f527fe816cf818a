package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/internal/server"
	"github.com/hewenyu/service-registry/pkg/config"
)

var configFile string

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Service Registry Starting...",
		zap.String("version", server.Version),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("创建注册中心失败", zap.Error(err))
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = srv.Start(startCtx)
	cancel()
	if err != nil {
		logger.Fatal("启动注册中心失败", zap.Error(err))
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("关闭注册中心失败", zap.Error(err))
	}
}
