// Package storagetest 提供所有 EndpointStore 实现共用的一致性测试
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

// Factory 为每个子测试创建一个空的存储实例
type Factory func(t *testing.T) storage.EndpointStore

var base = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func key(service, address string, port int) model.Key {
	return model.Key{Service: service, Address: address, Port: port}
}

// find 在记录列表中查找指定实例
func find(t *testing.T, endpoints []model.Endpoint, k model.Key) model.Endpoint {
	t.Helper()
	for _, ep := range endpoints {
		if ep.Key() == k {
			return ep
		}
	}
	require.Failf(t, "记录不存在", "%s", k)
	return model.Endpoint{}
}

// Run 对 newStore 创建的存储执行全部一致性测试
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureServiceIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.EnsureService(ctx, "login"))

		services, err := s.ListServices(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"menu", "login"}, services)
	})

	t.Run("InsertAndQueryAlive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, k, at(0)))

		alive, err := s.QueryAlive(ctx, "menu")
		require.NoError(t, err)
		require.Len(t, alive, 1)
		assert.Equal(t, k, alive[0].Key())
		assert.True(t, alive[0].Alive)
		assert.True(t, alive[0].LastHeartbeat.Equal(at(0)))
	})

	t.Run("DuplicateInsertConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, k, at(0)))

		err := s.Insert(ctx, k, at(1))
		require.Error(t, err)
		assert.True(t, storage.IsCode(err, storage.ErrAlreadyRegistered))

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.True(t, rows[0].LastHeartbeat.Equal(at(0)), "冲突不应修改记录")
	})

	t.Run("HeartbeatOnlyTouchesTimestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, k, at(0)))

		for i := 1; i <= 3; i++ {
			require.NoError(t, s.UpdateHeartbeat(ctx, k, at(i)))
		}

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		ep := find(t, rows, k)
		assert.True(t, ep.Alive)
		assert.True(t, ep.LastHeartbeat.Equal(at(3)))

		// 心跳时间不能倒退
		require.NoError(t, s.UpdateHeartbeat(ctx, k, at(1)))
		rows, err = s.List(ctx, "menu")
		require.NoError(t, err)
		assert.True(t, find(t, rows, k).LastHeartbeat.Equal(at(3)))
	})

	t.Run("HeartbeatUnknownIsNoop", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpdateHeartbeat(ctx, key("ghost", "10.0.0.9", 1), at(0)))

		rows, err := s.List(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("MarkDeadKeepsRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, k, at(0)))
		require.NoError(t, s.MarkDead(ctx, k, at(5)))

		alive, err := s.QueryAlive(ctx, "menu")
		require.NoError(t, err)
		assert.Empty(t, alive)

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.False(t, rows[0].Alive)
		assert.True(t, rows[0].LastHeartbeat.Equal(at(5)))

		// 对死亡记录的心跳不会使其复活
		require.NoError(t, s.UpdateHeartbeat(ctx, k, at(6)))
		alive, err = s.QueryAlive(ctx, "menu")
		require.NoError(t, err)
		assert.Empty(t, alive)

		// 重复注销和注销未知实例都不报错
		require.NoError(t, s.MarkDead(ctx, k, at(7)))
		require.NoError(t, s.MarkDead(ctx, key("menu", "10.0.0.6", 9000), at(7)))
	})

	t.Run("InsertRevivesDeadRow", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, k, at(0)))
		require.NoError(t, s.MarkDead(ctx, k, at(1)))
		require.NoError(t, s.Insert(ctx, k, at(2)))

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Alive)
		assert.True(t, rows[0].LastHeartbeat.Equal(at(2)))
	})

	t.Run("QueryAliveIsScopedToService", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, svc := range []string{"menu", "menu2", "login"} {
			require.NoError(t, s.EnsureService(ctx, svc))
		}
		require.NoError(t, s.Insert(ctx, key("menu", "10.0.0.1", 9000), at(0)))
		require.NoError(t, s.Insert(ctx, key("menu", "10.0.0.2", 9000), at(0)))
		require.NoError(t, s.Insert(ctx, key("menu", "10.0.0.2", 9001), at(0)))
		require.NoError(t, s.Insert(ctx, key("menu2", "10.0.0.1", 9000), at(0)))
		require.NoError(t, s.Insert(ctx, key("login", "10.0.0.3", 8000), at(0)))

		alive, err := s.QueryAlive(ctx, "menu")
		require.NoError(t, err)
		require.Len(t, alive, 3)
		for _, ep := range alive {
			assert.Equal(t, "menu", ep.Service)
		}

		alive, err = s.QueryAlive(ctx, "unknown")
		require.NoError(t, err)
		assert.Empty(t, alive)
	})

	t.Run("ConcurrentInsertSingleWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := key("menu", "10.0.0.5", 9000)
		require.NoError(t, s.EnsureService(ctx, "menu"))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
			others    []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				err := s.Insert(ctx, k, at(0))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case storage.IsCode(err, storage.ErrAlreadyRegistered):
					conflicts++
				default:
					others = append(others, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, conflicts)

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("MarkStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		fresh := key("menu", "10.0.0.1", 9000)
		stale := key("menu", "10.0.0.2", 9000)

		require.NoError(t, s.EnsureService(ctx, "menu"))
		require.NoError(t, s.Insert(ctx, stale, at(0)))
		require.NoError(t, s.Insert(ctx, fresh, at(0)))
		require.NoError(t, s.UpdateHeartbeat(ctx, fresh, at(60)))

		n, err := s.MarkStale(ctx, at(30), at(61))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		alive, err := s.QueryAlive(ctx, "menu")
		require.NoError(t, err)
		require.Len(t, alive, 1)
		assert.Equal(t, fresh, alive[0].Key())

		rows, err := s.List(ctx, "menu")
		require.NoError(t, err)
		ep := find(t, rows, stale)
		assert.False(t, ep.Alive)
		assert.True(t, ep.LastHeartbeat.Equal(at(61)))

		n, err = s.MarkStale(ctx, at(30), at(62))
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(context.Background()))
	})
}
