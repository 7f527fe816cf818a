package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage: config.StorageConfig{Driver: "memory"},
		DNS: config.DNSConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1",
			Port:          0,
			Domain:        "service.local",
			TTL:           5,
		},
	}
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	s := NewWithStore(cfg, memory.NewMemoryStorage(), config.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	})
	return s
}

func TestServer_EndToEnd(t *testing.T) {
	s := startServer(t, testConfig())
	ctx := context.Background()

	client, err := sdk.NewClient(sdk.Config{ServerAddr: s.Addr(), Timeout: 2 * time.Second})
	require.NoError(t, err)

	result, err := client.Add(ctx, "menu", "10.0.0.5", 9000)
	require.NoError(t, err)
	assert.Equal(t, sdk.Registered, result)

	result, err = client.Add(ctx, "menu", "10.0.0.5", 9000)
	require.NoError(t, err)
	assert.Equal(t, sdk.AlreadyRegistered, result)

	all, err := client.GetAll(ctx, "menu")
	require.NoError(t, err)
	assert.Equal(t, []model.AddressPair{{Address: "10.0.0.5", Port: 9000}}, all)

	// DNS与HTTP查询同一份数据
	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("menu.service.local.", dns.TypeA)
	resp, _, err := c.Exchange(req, s.DNSAddr())
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "10.0.0.5", resp.Answer[0].(*dns.A).A.String())

	require.NoError(t, client.Remove(ctx, "menu", "10.0.0.5", 9000))
	_, err = client.GetOne(ctx, "menu")
	assert.ErrorIs(t, err, sdk.ErrNoAliveInstances)

	// 指标中包含上面的操作
	httpResp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Contains(t, string(body), "registry_operations_total")
	assert.Contains(t, string(body), "registry_dns_queries_total")
}

func TestServer_Sweeper(t *testing.T) {
	cfg := testConfig()
	cfg.DNS.Enabled = false
	cfg.Heartbeat = config.HeartbeatConfig{Timeout: 50 * time.Millisecond, SweepInterval: 10 * time.Millisecond}
	s := startServer(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.Registry().Add(ctx, "menu", "10.0.0.5", 9000))
	assert.Empty(t, s.DNSAddr())

	// 不发送心跳，实例会被标记为死亡
	assert.Eventually(t, func() bool {
		all, err := s.Registry().GetAll(ctx, "menu")
		return err == nil && len(all) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ListenFailure(t *testing.T) {
	first := startServer(t, testConfig())

	cfg := testConfig()
	cfg.DNS.Enabled = false
	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	cfg.Server.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	s := NewWithStore(cfg, memory.NewMemoryStorage(), config.NewNopLogger())
	assert.Error(t, s.Start(context.Background()))
}

func TestOpenStore(t *testing.T) {
	logger := config.NewNopLogger()

	cfg := &config.Config{Storage: config.StorageConfig{Driver: "memory"}}
	store, err := OpenStore(cfg, logger)
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	cfg = &config.Config{Storage: config.StorageConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "registry.db")}}
	store, err = OpenStore(cfg, logger)
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, store.Close())

	cfg = &config.Config{Storage: config.StorageConfig{Driver: "redis"}}
	_, err = OpenStore(cfg, logger)
	assert.Error(t, err)

	cfg = &config.Config{Storage: config.StorageConfig{Driver: "etcd"}, Etcd: config.EtcdConfig{DialTimeout: "1s"}}
	_, err = OpenStore(cfg, logger)
	assert.Error(t, err)
}
