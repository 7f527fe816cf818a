package handler

// ServiceResponse 管理接口的通用响应
type ServiceResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
