package server

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/storage"
	"github.com/hewenyu/service-registry/pkg/storage/etcd"
	"github.com/hewenyu/service-registry/pkg/storage/gormdb"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
)

// OpenStore 根据配置创建存储
func OpenStore(cfg *config.Config, logger config.Logger) (storage.EndpointStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "mysql":
		return gormdb.Open(cfg.Storage, logger)
	case "etcd":
		client, err := etcd.NewClient(&cfg.Etcd)
		if err != nil {
			return nil, storage.NewStoreUnavailableError("连接etcd失败", err)
		}
		logger.Info("etcd连接成功", zap.Strings("endpoints", cfg.Etcd.Endpoints))
		return etcd.NewEndpointStorage(client), nil
	case "memory":
		logger.Warn("使用内存存储，重启后数据将丢失")
		return memory.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Storage.Driver)
	}
}
