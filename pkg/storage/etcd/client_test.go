package etcd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
)

func TestClient_Keys(t *testing.T) {
	client := &Client{
		prefix: "/service-registry/",
	}

	assert.Equal(t, "/service-registry/services/menu", client.GetServiceKey("menu"))
	assert.Equal(t, "/service-registry/services/", client.GetServicesPrefix())
	assert.Equal(t, "/service-registry/endpoints/", client.GetEndpointsPrefix(""))
	assert.Equal(t, "/service-registry/endpoints/menu/", client.GetEndpointsPrefix("menu"))

	key := model.Key{Service: "menu", Address: "10.0.0.5", Port: 9000}
	assert.Equal(t, "/service-registry/endpoints/menu/10.0.0.5/9000", client.GetEndpointKey(key))
}

func TestClient_EndpointsPrefixDoesNotOverlap(t *testing.T) {
	client := &Client{prefix: "/service-registry/"}

	// menu 的前缀不能匹配 menu2 的实例
	other := client.GetEndpointKey(model.Key{Service: "menu2", Address: "10.0.0.1", Port: 1})
	assert.NotContains(t, other, client.GetEndpointsPrefix("menu"))
}

func TestNewClient_ConfigValidation(t *testing.T) {
	// 超时格式错误配置
	invalidTimeoutConfig := &config.EtcdConfig{
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: "invalid",
	}

	_, err := NewClient(invalidTimeoutConfig)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "解析etcd超时时间失败")

	_, err = NewClient(&config.EtcdConfig{DialTimeout: "1s"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "etcd端点不能为空")
}
