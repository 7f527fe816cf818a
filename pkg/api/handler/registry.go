package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/registry"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// RegistryHandler 处理注册、注销、心跳和查询请求
type RegistryHandler struct {
	registry *registry.Registry
	logger   config.Logger
}

// NewRegistryHandler 创建注册中心处理器
func NewRegistryHandler(r *registry.Registry, logger config.Logger) *RegistryHandler {
	return &RegistryHandler{
		registry: r,
		logger:   logger,
	}
}

// Add 注册服务实例
func (h *RegistryHandler) Add(c echo.Context) error {
	service, address, port, err := endpointParams(c)
	if err != nil {
		return h.writeError(c, err)
	}

	err = h.registry.Add(c.Request().Context(), service, address, port)
	if storage.IsCode(err, storage.ErrAlreadyRegistered) {
		// 重复注册不是错误，通过响应头区分
		c.Response().Header().Set(model.ResultHeader, model.ResultAlreadyRegistered)
		return c.String(http.StatusOK, fmt.Sprintf("%s service already exists", service))
	}
	if err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Remove 注销服务实例
func (h *RegistryHandler) Remove(c echo.Context) error {
	service, address, port, err := endpointParams(c)
	if err != nil {
		return h.writeError(c, err)
	}

	if err := h.registry.Remove(c.Request().Context(), service, address, port); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// Heartbeat 更新实例心跳
func (h *RegistryHandler) Heartbeat(c echo.Context) error {
	service, address, port, err := endpointParams(c)
	if err != nil {
		return h.writeError(c, err)
	}

	if err := h.registry.Heartbeat(c.Request().Context(), service, address, port); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusOK)
}

// GetAll 返回服务下所有存活实例
func (h *RegistryHandler) GetAll(c echo.Context) error {
	endpoints, err := h.registry.GetAll(c.Request().Context(), c.Param("service"))
	if err != nil {
		return h.writeError(c, err)
	}

	resp := model.EndpointsResponse{Endpoints: make([]model.AddressPair, 0, len(endpoints))}
	for _, ep := range endpoints {
		resp.Endpoints = append(resp.Endpoints, ep.Pair())
	}
	return c.JSON(http.StatusOK, resp)
}

// GetOne 随机返回一个存活实例
func (h *RegistryHandler) GetOne(c echo.Context) error {
	ep, err := h.registry.GetOne(c.Request().Context(), c.Param("service"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, model.EndpointResponse{Endpoints: ep.Pair()})
}

// endpointParams 解析 /{service}/{ip}/{port} 路径参数
func endpointParams(c echo.Context) (string, string, int, error) {
	port, err := model.ParsePort(c.Param("port"))
	if err != nil {
		return "", "", 0, storage.NewMalformedNameError(err)
	}
	return c.Param("service"), c.Param("ip"), port, nil
}

// writeError 将错误映射为统一的错误响应，底层错误细节只写日志
func (h *RegistryHandler) writeError(c echo.Context, err error) error {
	status, resp := ErrorResponse(err)
	if status == http.StatusServiceUnavailable && resp.Error == model.ErrorKindStoreUnavailable {
		h.logger.Error("存储不可用",
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
	}
	return c.JSON(status, resp)
}

// ErrorResponse 返回错误对应的状态码和响应体
func ErrorResponse(err error) (int, model.ErrorResponse) {
	var se *storage.StorageError
	errors.As(err, &se)

	switch storage.CodeOf(err) {
	case storage.ErrMalformedName:
		msg := "非法的服务标识"
		if se.Err != nil {
			msg = se.Err.Error()
		}
		return http.StatusBadRequest, model.ErrorResponse{
			Code:    http.StatusBadRequest,
			Error:   model.ErrorKindMalformedName,
			Message: msg,
		}
	case storage.ErrNoAliveInstances:
		return http.StatusServiceUnavailable, model.ErrorResponse{
			Code:    http.StatusServiceUnavailable,
			Error:   model.ErrorKindNoAliveInstances,
			Message: se.Message,
		}
	default:
		return http.StatusServiceUnavailable, model.ErrorResponse{
			Code:    http.StatusServiceUnavailable,
			Error:   model.ErrorKindStoreUnavailable,
			Message: "存储暂时不可用",
		}
	}
}
