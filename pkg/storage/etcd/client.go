package etcd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
)

const defaultPrefix = "/service-registry/"

// Client 封装etcd客户端
type Client struct {
	client         *clientv3.Client
	endpoints      []string
	prefix         string
	requestTimeout time.Duration
}

// NewClient 创建新的etcd客户端
func NewClient(cfg *config.EtcdConfig) (*Client, error) {
	// 解析超时时间
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("解析etcd超时时间失败: %w", err)
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd端点不能为空")
	}

	// 创建etcd客户端
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接etcd失败: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd连接测试失败: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Client{
		client:         client,
		endpoints:      cfg.Endpoints,
		prefix:         prefix,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Close 关闭etcd客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient 获取原始etcd客户端
func (c *Client) GetClient() *clientv3.Client {
	return c.client
}

// withTimeout 为单次请求附加超时
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// GetServiceKey 获取服务目录项的完整键
func (c *Client) GetServiceKey(service string) string {
	return c.GetServicesPrefix() + service
}

// GetServicesPrefix 获取服务目录的前缀
func (c *Client) GetServicesPrefix() string {
	return c.prefix + "services/"
}

// GetEndpointKey 获取实例的完整键
func (c *Client) GetEndpointKey(key model.Key) string {
	return c.GetEndpointsPrefix(key.Service) + key.Address + "/" + strconv.Itoa(key.Port)
}

// GetEndpointsPrefix 获取服务下所有实例的前缀，service 为空时返回全部实例的前缀
func (c *Client) GetEndpointsPrefix(service string) string {
	if service == "" {
		return c.prefix + "endpoints/"
	}
	return c.prefix + "endpoints/" + service + "/"
}
