package sdk

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
)

// recordingServer 记录收到的请求路径
type recordingServer struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *recordingServer) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func TestRegistration_Lifecycle(t *testing.T) {
	rec := &recordingServer{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	c := newTestClient(t, srv, 0)
	reg := NewRegistration(c, RegistrationConfig{ServiceName: "menu", Address: "10.0.0.5", Port: 2224}, config.NewNopLogger())

	reg.Register(context.Background())
	reg.StartHeartbeat(10 * time.Millisecond)

	assert.Eventually(t, func() bool {
		return rec.count("/heartbeat/menu/10.0.0.5/2224") >= 2
	}, time.Second, 10*time.Millisecond)

	reg.Close(context.Background())

	assert.Equal(t, 1, rec.count("/add/menu/10.0.0.5/2224"))
	assert.Equal(t, 1, rec.count("/remove/menu/10.0.0.5/2224"))

	// 停止后不再发送心跳
	n := rec.count("/heartbeat/")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.count("/heartbeat/"))
}

func TestRegistration_FailuresAreSwallowed(t *testing.T) {
	// 没有服务监听的地址
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c, err := NewClient(Config{ServerAddr: addr, Timeout: 100 * time.Millisecond, RetryCount: 1})
	require.NoError(t, err)
	reg := NewRegistration(c, RegistrationConfig{ServiceName: "menu", Port: 2224}, config.NewNopLogger())

	assert.NotPanics(t, func() {
		reg.Register(context.Background())
		reg.Deregister(context.Background())
	})
}

func TestRegistration_RetriesHungRegistry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 第一次请求挂起直到客户端放弃
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		ServerAddr: strings.TrimPrefix(srv.URL, "http://"),
		Timeout:    100 * time.Millisecond,
		RetryCount: 1,
	})
	require.NoError(t, err)
	reg := NewRegistration(c, RegistrationConfig{ServiceName: "menu", Address: "10.0.0.5", Port: 2224}, config.NewNopLogger())

	reg.Register(context.Background())
	assert.Equal(t, int32(2), calls.Load())

	reg.Deregister(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegistration_Defaults(t *testing.T) {
	c, err := NewClient(Config{ServerAddr: "127.0.0.1:55555", RetryCount: 1})
	require.NoError(t, err)

	reg := NewRegistration(c, RegistrationConfig{Port: 2224}, config.NewNopLogger())
	assert.Equal(t, ProcessServiceName(), reg.ServiceName())
	assert.NotEmpty(t, reg.Address())
	assert.NotNil(t, net.ParseIP(reg.Address()))
	// 默认总超时覆盖一次重试
	assert.Equal(t, 2*c.config.Timeout, reg.timeout)

	// 心跳间隔为0时不启动
	reg.StartHeartbeat(0)
	reg.Stop()
}

func TestProcessServiceName(t *testing.T) {
	name := ProcessServiceName()
	assert.NotEmpty(t, name)
	assert.NotContains(t, name, "/")
	assert.NotContains(t, name, ".test")
}
