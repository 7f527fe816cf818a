package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// MemoryStorage 是基于内存的实例存储实现，主要用于测试和本地开发
type MemoryStorage struct {
	mu        sync.RWMutex
	services  map[string]struct{}
	endpoints map[model.Key]*model.Endpoint
	order     []model.Key // 插入顺序
}

var _ storage.EndpointStore = (*MemoryStorage)(nil)

// NewMemoryStorage 创建新的内存存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		services:  make(map[string]struct{}),
		endpoints: make(map[model.Key]*model.Endpoint),
	}
}

// EnsureService 确保服务存在
func (m *MemoryStorage) EnsureService(ctx context.Context, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[service] = struct{}{}
	return nil
}

// Insert 新增存活实例
func (m *MemoryStorage) Insert(ctx context.Context, key model.Key, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, exists := m.endpoints[key]; exists {
		if ep.Alive {
			return storage.NewAlreadyRegisteredError(key.Service)
		}
		ep.Alive = true
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
		return nil
	}

	m.endpoints[key] = &model.Endpoint{
		Service:       key.Service,
		Address:       key.Address,
		Port:          key.Port,
		LastHeartbeat: now,
		Alive:         true,
	}
	m.order = append(m.order, key)
	return nil
}

// UpdateHeartbeat 刷新心跳时间
func (m *MemoryStorage) UpdateHeartbeat(ctx context.Context, key model.Key, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, exists := m.endpoints[key]; exists {
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
	}
	return nil
}

// MarkDead 将实例标记为死亡
func (m *MemoryStorage) MarkDead(ctx context.Context, key model.Key, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ep, exists := m.endpoints[key]; exists {
		ep.Alive = false
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
	}
	return nil
}

// QueryAlive 返回服务下所有存活实例
func (m *MemoryStorage) QueryAlive(ctx context.Context, service string) ([]model.Endpoint, error) {
	return m.collect(service, true), nil
}

// List 返回服务下的全部记录
func (m *MemoryStorage) List(ctx context.Context, service string) ([]model.Endpoint, error) {
	return m.collect(service, false), nil
}

func (m *MemoryStorage) collect(service string, aliveOnly bool) []model.Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	endpoints := make([]model.Endpoint, 0)
	for _, key := range m.order {
		if key.Service != service {
			continue
		}
		ep := m.endpoints[key]
		if aliveOnly && !ep.Alive {
			continue
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints
}

// ListServices 返回所有服务名
func (m *MemoryStorage) ListServices(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]string, 0, len(m.services))
	for name := range m.services {
		services = append(services, name)
	}
	sort.Strings(services)
	return services, nil
}

// MarkStale 将心跳过期的存活实例标记为死亡
func (m *MemoryStorage) MarkStale(ctx context.Context, before, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, ep := range m.endpoints {
		if ep.Alive && ep.LastHeartbeat.Before(before) {
			ep.Alive = false
			ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
			count++
		}
	}
	return count, nil
}

// Ping 内存存储始终可用
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close 内存存储无需释放资源
func (m *MemoryStorage) Close() error {
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
