package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// 乐观锁冲突时的最大重试次数
const maxTxnRetries = 16

// EndpointStorage 实现基于etcd的实例存储
//
// 每条记录的写入都通过 Txn 比较修订号完成，保证同一实例的并发注册只有一个成功。
type EndpointStorage struct {
	client *Client
}

var _ storage.EndpointStore = (*EndpointStorage)(nil)

// NewEndpointStorage 创建etcd实例存储
func NewEndpointStorage(client *Client) *EndpointStorage {
	return &EndpointStorage{client: client}
}

type serviceRecord struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// EnsureService 确保服务在目录中存在
func (s *EndpointStorage) EnsureService(ctx context.Context, service string) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(serviceRecord{Name: service, CreatedAt: time.Now().UTC()})
	if err != nil {
		return storage.NewStoreUnavailableError("序列化服务数据失败", err)
	}

	key := s.client.GetServiceKey(service)
	_, err = s.client.GetClient().Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return storage.NewStoreUnavailableError("写入etcd失败", err)
	}
	return nil
}

// Insert 新增存活实例，死亡记录会被重新置为存活
func (s *EndpointStorage) Insert(ctx context.Context, key model.Key, now time.Time) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	etcdKey := s.client.GetEndpointKey(key)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		ep, rev, err := s.get(ctx, etcdKey)
		if err != nil {
			return err
		}

		if ep == nil {
			data, err := encode(model.Endpoint{
				Service:       key.Service,
				Address:       key.Address,
				Port:          key.Port,
				LastHeartbeat: now.UTC(),
				Alive:         true,
			})
			if err != nil {
				return err
			}
			ok, err := s.commit(ctx, clientv3.Compare(clientv3.CreateRevision(etcdKey), "=", 0), etcdKey, data)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			continue
		}

		if ep.Alive {
			return storage.NewAlreadyRegisteredError(key.Service)
		}

		ep.Alive = true
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
		data, err := encode(*ep)
		if err != nil {
			return err
		}
		ok, err := s.commit(ctx, clientv3.Compare(clientv3.ModRevision(etcdKey), "=", rev), etcdKey, data)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return storage.NewStoreUnavailableError(fmt.Sprintf("实例写入冲突次数过多: %s", key), nil)
}

// UpdateHeartbeat 刷新心跳时间
func (s *EndpointStorage) UpdateHeartbeat(ctx context.Context, key model.Key, now time.Time) error {
	return s.modify(ctx, key, func(ep *model.Endpoint) bool {
		later := laterOf(ep.LastHeartbeat, now)
		if later.Equal(ep.LastHeartbeat) {
			return false
		}
		ep.LastHeartbeat = later
		return true
	})
}

// MarkDead 将实例标记为死亡
func (s *EndpointStorage) MarkDead(ctx context.Context, key model.Key, now time.Time) error {
	return s.modify(ctx, key, func(ep *model.Endpoint) bool {
		ep.Alive = false
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
		return true
	})
}

// modify 以比较修订号的方式修改已有记录，记录不存在时什么都不做
func (s *EndpointStorage) modify(ctx context.Context, key model.Key, mutate func(*model.Endpoint) bool) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	etcdKey := s.client.GetEndpointKey(key)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		ep, rev, err := s.get(ctx, etcdKey)
		if err != nil {
			return err
		}
		if ep == nil || !mutate(ep) {
			return nil
		}

		data, err := encode(*ep)
		if err != nil {
			return err
		}
		ok, err := s.commit(ctx, clientv3.Compare(clientv3.ModRevision(etcdKey), "=", rev), etcdKey, data)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return storage.NewStoreUnavailableError(fmt.Sprintf("实例写入冲突次数过多: %s", key), nil)
}

// QueryAlive 返回服务下所有存活实例
func (s *EndpointStorage) QueryAlive(ctx context.Context, service string) ([]model.Endpoint, error) {
	all, err := s.list(ctx, s.client.GetEndpointsPrefix(service))
	if err != nil {
		return nil, err
	}

	alive := make([]model.Endpoint, 0, len(all))
	for _, item := range all {
		if item.endpoint.Alive {
			alive = append(alive, item.endpoint)
		}
	}
	return alive, nil
}

// List 返回服务下的全部记录
func (s *EndpointStorage) List(ctx context.Context, service string) ([]model.Endpoint, error) {
	all, err := s.list(ctx, s.client.GetEndpointsPrefix(service))
	if err != nil {
		return nil, err
	}

	endpoints := make([]model.Endpoint, 0, len(all))
	for _, item := range all {
		endpoints = append(endpoints, item.endpoint)
	}
	return endpoints, nil
}

// ListServices 返回目录中所有服务名
func (s *EndpointStorage) ListServices(ctx context.Context) ([]string, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	prefix := s.client.GetServicesPrefix()
	resp, err := s.client.GetClient().Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, storage.NewStoreUnavailableError("从etcd读取失败", err)
	}

	services := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		services = append(services, strings.TrimPrefix(string(kv.Key), prefix))
	}
	return services, nil
}

// MarkStale 将心跳过期的存活实例标记为死亡
func (s *EndpointStorage) MarkStale(ctx context.Context, before, now time.Time) (int, error) {
	all, err := s.list(ctx, s.client.GetEndpointsPrefix(""))
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	count := 0
	for _, item := range all {
		ep := item.endpoint
		if !ep.Alive || !ep.LastHeartbeat.Before(before) {
			continue
		}

		ep.Alive = false
		ep.LastHeartbeat = laterOf(ep.LastHeartbeat, now)
		data, err := encode(ep)
		if err != nil {
			return count, err
		}
		// 期间有新心跳的记录会因修订号变化而跳过
		ok, err := s.commit(ctx, clientv3.Compare(clientv3.ModRevision(item.key), "=", item.rev), item.key, data)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Ping 检查etcd连接
func (s *EndpointStorage) Ping(ctx context.Context) error {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	if _, err := s.client.GetClient().Status(ctx, s.client.endpoints[0]); err != nil {
		return storage.NewStoreUnavailableError("etcd不可用", err)
	}
	return nil
}

// Close 关闭etcd连接
func (s *EndpointStorage) Close() error {
	return s.client.Close()
}

type versioned struct {
	key      string
	rev      int64
	endpoint model.Endpoint
}

func (s *EndpointStorage) get(ctx context.Context, key string) (*model.Endpoint, int64, error) {
	resp, err := s.client.GetClient().Get(ctx, key)
	if err != nil {
		return nil, 0, storage.NewStoreUnavailableError("从etcd读取失败", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}

	ep, err := decode(resp.Kvs[0].Value)
	if err != nil {
		return nil, 0, err
	}
	return &ep, resp.Kvs[0].ModRevision, nil
}

func (s *EndpointStorage) list(ctx context.Context, prefix string) ([]versioned, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		return nil, storage.NewStoreUnavailableError("从etcd读取失败", err)
	}

	items := make([]versioned, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ep, err := decode(kv.Value)
		if err != nil {
			return nil, err
		}
		items = append(items, versioned{key: string(kv.Key), rev: kv.ModRevision, endpoint: ep})
	}
	return items, nil
}

func (s *EndpointStorage) commit(ctx context.Context, cmp clientv3.Cmp, key, value string) (bool, error) {
	resp, err := s.client.GetClient().Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(key, value)).
		Commit()
	if err != nil {
		return false, storage.NewStoreUnavailableError("写入etcd失败", err)
	}
	return resp.Succeeded, nil
}

func encode(ep model.Endpoint) (string, error) {
	data, err := json.Marshal(ep)
	if err != nil {
		return "", storage.NewStoreUnavailableError("序列化实例数据失败", err)
	}
	return string(data), nil
}

func decode(data []byte) (model.Endpoint, error) {
	var ep model.Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return model.Endpoint{}, storage.NewStoreUnavailableError("解析实例数据失败", err)
	}
	return ep, nil
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
