// Package registry 实现服务注册与发现的业务逻辑
//
// Registry 本身不持有锁，同一实例的并发注册由存储层的唯一约束裁决。
package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/metrics"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// Registry 提供注册、注销、心跳和查询操作
type Registry struct {
	store    storage.EndpointStore
	logger   config.Logger
	metrics  *metrics.Metrics
	selector Selector
	now      func() time.Time
}

// Option 配置Registry
type Option func(*Registry)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSelector 替换实例选择策略
func WithSelector(s Selector) Option {
	return func(r *Registry) { r.selector = s }
}

// WithMetrics 启用指标统计
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New 创建Registry
func New(store storage.EndpointStore, logger config.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		logger:   logger,
		selector: RandomSelector{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add 注册实例，实例已存活时返回 ErrAlreadyRegistered
func (r *Registry) Add(ctx context.Context, service, address string, port int) error {
	key, err := r.key("add", service, address, port)
	if err != nil {
		return err
	}

	if err := r.store.EnsureService(ctx, service); err != nil {
		r.observe("add", err)
		return fmt.Errorf("注册服务失败: %w", err)
	}
	if err := r.store.Insert(ctx, key, r.now()); err != nil {
		r.observe("add", err)
		if storage.IsCode(err, storage.ErrAlreadyRegistered) {
			return err
		}
		return fmt.Errorf("注册服务失败: %w", err)
	}

	r.observe("add", nil)
	r.logger.Info("服务实例已注册", zap.String("endpoint", key.String()))
	return nil
}

// Remove 将实例标记为死亡，实例不存在时什么都不做
func (r *Registry) Remove(ctx context.Context, service, address string, port int) error {
	key, err := r.key("remove", service, address, port)
	if err != nil {
		return err
	}

	if err := r.store.MarkDead(ctx, key, r.now()); err != nil {
		r.observe("remove", err)
		return fmt.Errorf("注销服务失败: %w", err)
	}

	r.observe("remove", nil)
	r.logger.Info("服务实例已注销", zap.String("endpoint", key.String()))
	return nil
}

// Heartbeat 刷新实例心跳，不会改变存活状态
func (r *Registry) Heartbeat(ctx context.Context, service, address string, port int) error {
	key, err := r.key("heartbeat", service, address, port)
	if err != nil {
		return err
	}

	if err := r.store.UpdateHeartbeat(ctx, key, r.now()); err != nil {
		r.observe("heartbeat", err)
		return fmt.Errorf("更新服务心跳失败: %w", err)
	}

	r.observe("heartbeat", nil)
	r.logger.Debug("收到心跳", zap.String("endpoint", key.String()))
	return nil
}

// GetAll 返回服务下所有存活实例，没有实例时返回空列表
func (r *Registry) GetAll(ctx context.Context, service string) ([]model.Endpoint, error) {
	endpoints, err := r.getAll(ctx, service)
	r.observe("get", err)
	return endpoints, err
}

func (r *Registry) getAll(ctx context.Context, service string) ([]model.Endpoint, error) {
	if err := model.ValidateServiceName(service); err != nil {
		return nil, storage.NewMalformedNameError(err)
	}

	endpoints, err := r.store.QueryAlive(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}
	if endpoints == nil {
		endpoints = []model.Endpoint{}
	}
	return endpoints, nil
}

// GetOne 随机返回一个存活实例，没有实例时返回 ErrNoAliveInstances
func (r *Registry) GetOne(ctx context.Context, service string) (model.Endpoint, error) {
	endpoints, err := r.getAll(ctx, service)
	if err == nil && len(endpoints) == 0 {
		err = storage.NewNoAliveInstancesError(service)
	}
	r.observe("get_one", err)
	if err != nil {
		return model.Endpoint{}, err
	}
	return r.selector.Pick(endpoints), nil
}

// ListServices 返回服务目录
func (r *Registry) ListServices(ctx context.Context) ([]string, error) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询服务目录失败: %w", err)
	}
	return services, nil
}

// List 返回服务下的全部记录，包括已死亡的
func (r *Registry) List(ctx context.Context, service string) ([]model.Endpoint, error) {
	if err := model.ValidateServiceName(service); err != nil {
		return nil, storage.NewMalformedNameError(err)
	}
	endpoints, err := r.store.List(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("查询服务实例失败: %w", err)
	}
	return endpoints, nil
}

// Ping 检查存储是否可用
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// ExpireStale 将超过 timeout 未发送心跳的实例标记为死亡
func (r *Registry) ExpireStale(ctx context.Context, timeout time.Duration) (int, error) {
	now := r.now()
	count, err := r.store.MarkStale(ctx, now.Add(-timeout), now)
	r.observe("expire", err)
	if err != nil {
		return 0, fmt.Errorf("清理过期服务失败: %w", err)
	}
	r.metrics.AddStaleExpired(count)
	if count > 0 {
		r.logger.Info("已将过期实例标记为死亡", zap.Int("count", count), zap.Duration("timeout", timeout))
	}
	return count, nil
}

// StartSweeper 启动过期清理任务，ctx 取消后退出，返回的通道在任务退出后关闭
func (r *Registry) StartSweeper(ctx context.Context, timeout, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("启动过期实例清理任务",
			zap.Duration("timeout", timeout),
			zap.Duration("interval", interval))

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("过期实例清理任务已停止")
				return
			case <-ticker.C:
				if _, err := r.ExpireStale(ctx, timeout); err != nil {
					r.logger.Error("清理过期实例失败", zap.Error(err))
				}
			}
		}
	}()
	return done
}

func (r *Registry) key(op, service, address string, port int) (model.Key, error) {
	key, err := model.NewKey(service, address, port)
	if err != nil {
		err = storage.NewMalformedNameError(err)
		r.observe(op, err)
		return model.Key{}, err
	}
	return key, nil
}

func (r *Registry) observe(op string, err error) {
	r.metrics.ObserveOperation(op, ResultOf(err))
}

// ResultOf 将错误转换为指标中的结果标签
func ResultOf(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	switch storage.CodeOf(err) {
	case storage.ErrAlreadyRegistered:
		return metrics.ResultAlreadyRegistered
	case storage.ErrNoAliveInstances:
		return metrics.ResultNoAliveInstances
	case storage.ErrMalformedName:
		return metrics.ResultMalformedName
	default:
		return metrics.ResultError
	}
}
