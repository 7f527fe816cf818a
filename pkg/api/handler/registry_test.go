package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/registry"
	"github.com/hewenyu/service-registry/pkg/storage"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
)

// unavailableStore 所有查询都返回存储不可用
type unavailableStore struct {
	*memory.MemoryStorage
}

func (unavailableStore) QueryAlive(context.Context, string) ([]model.Endpoint, error) {
	return nil, storage.NewStoreUnavailableError("数据库不可用", errors.New("open service_registry.db: permission denied"))
}

func (unavailableStore) Ping(context.Context) error {
	return storage.NewStoreUnavailableError("数据库不可用", errors.New("closed"))
}

func newTestEcho(store storage.EndpointStore) *echo.Echo {
	r := registry.New(store, config.NewNopLogger())
	h := NewRegistryHandler(r, config.NewNopLogger())
	admin := NewAdminServiceHandler(r)
	health := NewHealthHandler(r, "memory", "test")

	e := echo.New()
	e.GET("/add/:service/:ip/:port", h.Add)
	e.GET("/remove/:service/:ip/:port", h.Remove)
	e.GET("/heartbeat/:service/:ip/:port", h.Heartbeat)
	e.GET("/get/:service", h.GetAll)
	e.GET("/get_one/:service", h.GetOne)
	e.GET("/health", health.HealthCheck)
	e.GET("/admin/services", admin.ListServices)
	e.GET("/admin/services/:service/endpoints", admin.ListEndpoints)
	return e
}

func do(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegistryHandler_AddAndGet(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	rec := do(t, e, "/add/menu/10.0.0.5/9000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get(model.ResultHeader))

	rec = do(t, e, "/get/menu")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"endpoints":[["10.0.0.5",9000]]}`, rec.Body.String())

	rec = do(t, e, "/get_one/menu")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"endpoints":["10.0.0.5",9000]}`, rec.Body.String())

	var one model.EndpointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "10.0.0.5:9000", one.Endpoints.HostPort())
}

func TestRegistryHandler_AddTwice(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	require.Equal(t, http.StatusOK, do(t, e, "/add/menu/10.0.0.5/9000").Code)

	rec := do(t, e, "/add/menu/10.0.0.5/9000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "menu service already exists", rec.Body.String())
	assert.Equal(t, model.ResultAlreadyRegistered, rec.Header().Get(model.ResultHeader))

	rec = do(t, e, "/get/menu")
	assert.JSONEq(t, `{"endpoints":[["10.0.0.5",9000]]}`, rec.Body.String())
}

func TestRegistryHandler_RemoveAndHeartbeat(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	require.Equal(t, http.StatusOK, do(t, e, "/add/menu/10.0.0.5/9000").Code)

	rec := do(t, e, "/heartbeat/menu/10.0.0.5/9000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, e, "/remove/menu/10.0.0.5/9000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	// 未知实例同样返回成功
	assert.Equal(t, http.StatusOK, do(t, e, "/remove/ghost/10.0.0.9/1").Code)
	assert.Equal(t, http.StatusOK, do(t, e, "/heartbeat/ghost/10.0.0.9/1").Code)

	rec = do(t, e, "/get/menu")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"endpoints":[]}`, rec.Body.String())
}

func TestRegistryHandler_GetOneNoAliveInstances(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	rec := do(t, e, "/get_one/menu")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, model.ErrorKindNoAliveInstances, resp.Error)
	assert.NotEmpty(t, resp.Message)
}

func TestRegistryHandler_MalformedName(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	paths := []string{
		"/add/menu%3BDROP/10.0.0.5/9000",
		"/add/menu/10.0.0.5/notaport",
		"/add/menu/10.0.0.5/0",
		"/add/menu/bad_host!/9000",
		"/heartbeat/menu/10.0.0.5/65536",
		"/get/-menu",
		"/get_one/menu%27",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := do(t, e, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp model.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, model.ErrorKindMalformedName, resp.Error)
		})
	}
}

func TestRegistryHandler_StoreUnavailable(t *testing.T) {
	e := newTestEcho(unavailableStore{memory.NewMemoryStorage()})

	for _, path := range []string{"/get/menu", "/get_one/menu"} {
		rec := do(t, e, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp model.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, model.ErrorKindStoreUnavailable, resp.Error)
		// 底层错误不会出现在响应中
		assert.NotContains(t, rec.Body.String(), "permission denied")
	}
}

func TestHealthHandler(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())
	require.Equal(t, http.StatusOK, do(t, e, "/add/menu/10.0.0.5/9000").Code)
	require.Equal(t, http.StatusOK, do(t, e, "/add/login/10.0.0.7/8000").Code)

	rec := do(t, e, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Details["version"])
	assert.Equal(t, "memory", resp.Details["storage"])
	assert.Equal(t, float64(2), resp.Details["services"])

	rec = do(t, newTestEcho(unavailableStore{memory.NewMemoryStorage()}), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
}

func TestAdminServiceHandler(t *testing.T) {
	e := newTestEcho(memory.NewMemoryStorage())

	require.Equal(t, http.StatusOK, do(t, e, "/add/menu/10.0.0.5/9000").Code)
	require.Equal(t, http.StatusOK, do(t, e, "/add/menu/10.0.0.6/9000").Code)
	require.Equal(t, http.StatusOK, do(t, e, "/add/login/10.0.0.7/8000").Code)
	require.Equal(t, http.StatusOK, do(t, e, "/remove/menu/10.0.0.6/9000").Code)

	rec := do(t, e, "/admin/services")
	require.Equal(t, http.StatusOK, rec.Code)
	var services struct {
		Data struct {
			Services []string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &services))
	assert.Equal(t, []string{"login", "menu"}, services.Data.Services)

	rec = do(t, e, "/admin/services/menu/endpoints")
	require.Equal(t, http.StatusOK, rec.Code)
	var endpoints struct {
		Data struct {
			Endpoints []EndpointView `json:"endpoints"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &endpoints))
	require.Len(t, endpoints.Data.Endpoints, 2)
	assert.True(t, endpoints.Data.Endpoints[0].Alive)
	assert.False(t, endpoints.Data.Endpoints[1].Alive)
	assert.WithinDuration(t, time.Now(), endpoints.Data.Endpoints[1].LastHeartbeat, time.Minute)
}
