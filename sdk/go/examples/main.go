// 示例：一个向注册中心注册自身的菜单服务
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

var fortunes = []string{
	"今天适合尝试新菜",
	"好运就在下一道菜里",
	"耐心等待，美味自来",
}

func main() {
	registry := flag.String("registry", "127.0.0.1:55555", "注册中心地址")
	port := flag.Int("port", 9000, "服务端口")
	heartbeat := flag.Duration("heartbeat", 10*time.Second, "心跳间隔")
	flag.Parse()

	logger, err := config.NewLogger("info", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 配置SDK客户端
	client, err := sdk.NewClient(sdk.Config{
		ServerAddr: *registry,
		Timeout:    3 * time.Second,
		RetryCount: 1,
	})
	if err != nil {
		logger.Fatal("创建SDK客户端失败", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "welcome")
	})
	e.GET("/menu", func(c echo.Context) error {
		return c.JSON(http.StatusOK, []string{"宫保鸡丁", "麻婆豆腐", "鱼香肉丝"})
	})
	e.GET("/fortune", func(c echo.Context) error {
		return c.String(http.StatusOK, fortunes[rand.IntN(len(fortunes))])
	})

	go func() {
		if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 注册服务并启动心跳
	reg := sdk.NewRegistration(client, sdk.RegistrationConfig{ServiceName: "menu", Port: *port}, logger)
	reg.Register(context.Background())
	reg.StartHeartbeat(*heartbeat)

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg.Close(ctx)
	_ = e.Shutdown(ctx)
	logger.Info("服务已关闭")
}
