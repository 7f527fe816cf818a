package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hewenyu/service-registry/pkg/model"
)

// EndpointStore 定义服务实例存储接口
//
// 所有写操作在返回前完成提交。(service, address, port) 的唯一性由存储层保证。
type EndpointStore interface {
	// EnsureService 确保服务在目录中存在，已存在时不做任何事
	EnsureService(ctx context.Context, service string) error

	// Insert 新增存活实例；已有存活记录时返回 ErrAlreadyRegistered，
	// 已有死亡记录时将其重新置为存活
	Insert(ctx context.Context, key model.Key, now time.Time) error

	// UpdateHeartbeat 刷新心跳时间，记录不存在时不报错
	UpdateHeartbeat(ctx context.Context, key model.Key, now time.Time) error

	// MarkDead 将实例标记为死亡并刷新心跳时间，记录不存在时不报错
	MarkDead(ctx context.Context, key model.Key, now time.Time) error

	// QueryAlive 按存储顺序返回服务下所有存活实例
	QueryAlive(ctx context.Context, service string) ([]model.Endpoint, error)

	// List 返回服务下的全部记录，包括已死亡的
	List(ctx context.Context, service string) ([]model.Endpoint, error)

	// ListServices 返回目录中所有服务名
	ListServices(ctx context.Context) ([]string, error)

	// MarkStale 将心跳早于 before 的存活实例标记为死亡，返回受影响的数量
	MarkStale(ctx context.Context, before, now time.Time) (int, error)

	// Ping 检查存储是否可用
	Ping(ctx context.Context) error

	// Close 释放存储资源
	Close() error
}

// StorageError 定义注册中心对外暴露的错误类型
type StorageError struct {
	Code    int
	Message string
	Err     error
}

// Error 实现error接口
func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *StorageError) Unwrap() error {
	return e.Err
}

// 定义错误代码
const (
	// ErrAlreadyRegistered 实例已注册
	ErrAlreadyRegistered = iota + 1
	// ErrNoAliveInstances 服务没有存活实例
	ErrNoAliveInstances
	// ErrMalformedName 服务名、地址或端口不合法
	ErrMalformedName
	// ErrStoreUnavailable 存储不可用
	ErrStoreUnavailable
)

// NewAlreadyRegisteredError 创建实例已注册错误
func NewAlreadyRegisteredError(service string) *StorageError {
	return &StorageError{
		Code:    ErrAlreadyRegistered,
		Message: fmt.Sprintf("%s service already exists", service),
	}
}

// NewNoAliveInstancesError 创建无存活实例错误
func NewNoAliveInstancesError(service string) *StorageError {
	return &StorageError{
		Code:    ErrNoAliveInstances,
		Message: fmt.Sprintf("服务 %s 没有存活实例", service),
	}
}

// NewMalformedNameError 创建非法标识错误
func NewMalformedNameError(err error) *StorageError {
	return &StorageError{
		Code:    ErrMalformedName,
		Message: "非法的服务标识",
		Err:     err,
	}
}

// NewStoreUnavailableError 创建存储不可用错误
func NewStoreUnavailableError(message string, err error) *StorageError {
	return &StorageError{
		Code:    ErrStoreUnavailable,
		Message: message,
		Err:     err,
	}
}

// CodeOf 返回错误链中 StorageError 的错误代码，不存在时返回0
func CodeOf(err error) int {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsCode 判断错误链中是否包含指定代码的 StorageError
func IsCode(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}
