package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Catalog 健康检查依赖的注册中心能力
type Catalog interface {
	Ping(ctx context.Context) error
	ListServices(ctx context.Context) ([]string, error)
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	catalog Catalog
	driver  string
	version string
	started time.Time
}

// NewHealthHandler 创建健康检查处理器，driver 为存储驱动名
func NewHealthHandler(catalog Catalog, driver, version string) *HealthHandler {
	return &HealthHandler{
		catalog: catalog,
		driver:  driver,
		version: version,
		started: time.Now(),
	}
}

// HealthCheck 检查存储是否可用，并报告服务目录规模
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	details := map[string]interface{}{
		"version": h.version,
		"storage": h.driver,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}

	if err := h.catalog.Ping(ctx); err != nil {
		details["error"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Details:   details,
		})
	}

	if services, err := h.catalog.ListServices(ctx); err == nil {
		details["services"] = len(services)
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Details:   details,
	})
}
