package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/pkg/metrics"
)

// MetricsHandler 以 Prometheus 格式输出指标
type MetricsHandler struct {
	metrics *metrics.Metrics
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m}
}

// GetMetrics 输出指标
func (h *MetricsHandler) GetMetrics(c echo.Context) error {
	h.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
