package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/registry"
)

// AdminServiceHandler 管理API服务处理器
type AdminServiceHandler struct {
	registry *registry.Registry
}

// NewAdminServiceHandler 创建管理API服务处理器
func NewAdminServiceHandler(r *registry.Registry) *AdminServiceHandler {
	return &AdminServiceHandler{
		registry: r,
	}
}

// EndpointView 管理接口中的实例详情
type EndpointView struct {
	Address       string    `json:"address"`
	Port          int       `json:"port"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Alive         bool      `json:"alive"`
}

// ListServices 获取所有服务列表
func (h *AdminServiceHandler) ListServices(c echo.Context) error {
	services, err := h.registry.ListServices(c.Request().Context())
	if err != nil {
		status, resp := ErrorResponse(err)
		return c.JSON(status, resp)
	}

	return c.JSON(http.StatusOK, ServiceResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data: map[string]interface{}{
			"services": services,
		},
	})
}

// ListEndpoints 获取服务下的全部实例，包括已死亡的
func (h *AdminServiceHandler) ListEndpoints(c echo.Context) error {
	service := c.Param("service")
	endpoints, err := h.registry.List(c.Request().Context(), service)
	if err != nil {
		status, resp := ErrorResponse(err)
		return c.JSON(status, resp)
	}

	views := make([]EndpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		views = append(views, toView(ep))
	}

	return c.JSON(http.StatusOK, ServiceResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data: map[string]interface{}{
			"service":   service,
			"endpoints": views,
		},
	})
}

func toView(ep model.Endpoint) EndpointView {
	return EndpointView{
		Address:       ep.Address,
		Port:          ep.Port,
		LastHeartbeat: ep.LastHeartbeat,
		Alive:         ep.Alive,
	}
}
