package router

import (
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/pkg/api/handler"
)

// Handlers 汇总注册中心的全部处理器
type Handlers struct {
	Registry *handler.RegistryHandler
	Health   *handler.HealthHandler
	Metrics  *handler.MetricsHandler
	Admin    *handler.AdminServiceHandler
}

// RegisterRoutes 配置注册中心路由
func RegisterRoutes(e *echo.Echo, h Handlers) {
	// 注册协议
	e.GET("/add/:service/:ip/:port", h.Registry.Add)             // 注册实例
	e.GET("/remove/:service/:ip/:port", h.Registry.Remove)       // 注销实例
	e.GET("/heartbeat/:service/:ip/:port", h.Registry.Heartbeat) // 心跳

	// 服务发现
	e.GET("/get/:service", h.Registry.GetAll)
	e.GET("/get_one/:service", h.Registry.GetOne)

	// 运维接口
	e.GET("/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		e.GET("/metrics", h.Metrics.GetMetrics)
	}

	admin := e.Group("/admin")
	admin.GET("/services", h.Admin.ListServices)                     // 服务目录
	admin.GET("/services/:service/endpoints", h.Admin.ListEndpoints) // 服务实例详情
}
