package etcd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/storage"
	"github.com/hewenyu/service-registry/pkg/storage/storagetest"
)

// newTestStorage 连接 ETCD_ENDPOINTS 指定的etcd，每次使用独立前缀
func newTestStorage(t *testing.T) *EndpointStorage {
	t.Helper()

	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("未设置ETCD_ENDPOINTS，跳过etcd测试")
	}

	prefix := fmt.Sprintf("/service-registry-test/%d/", time.Now().UnixNano())
	client, err := NewClient(&config.EtcdConfig{
		Endpoints:      strings.Split(endpoints, ","),
		DialTimeout:    "5s",
		RequestTimeout: 5 * time.Second,
		Prefix:         prefix,
	})
	require.NoError(t, err, "连接etcd失败")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = client.GetClient().Delete(ctx, prefix, clientv3.WithPrefix())
		_ = client.Close()
	})
	return NewEndpointStorage(client)
}

func TestEndpointStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.EndpointStore {
		return newTestStorage(t)
	})
}
