package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
)

// ErrNoAliveInstances 服务没有存活实例
var ErrNoAliveInstances = errors.New("no alive instances")

// Config SDK客户端配置
type Config struct {
	// 注册中心地址 host:port
	ServerAddr string `json:"server_addr"`
	// 单次请求超时时间
	Timeout time.Duration `json:"timeout"`
	// 传输失败或5xx时的重试次数
	RetryCount int `json:"retry_count"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
}

// AddResult 注册结果
type AddResult int

const (
	// Registered 新注册成功
	Registered AddResult = iota
	// AlreadyRegistered 实例已处于存活状态
	AlreadyRegistered
)

func (r AddResult) String() string {
	if r == AlreadyRegistered {
		return model.ResultAlreadyRegistered
	}
	return "registered"
}

// APIError 注册中心返回的错误响应
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("注册中心请求失败: %s %s (状态码: %d)", e.Kind, e.Message, e.StatusCode)
}

// Client 注册中心HTTP客户端，可并发使用
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient 创建SDK客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("服务器地址不能为空")
	}

	// 设置默认值
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// NewClientFromConfig 根据配置文件中的 client 段创建客户端
func NewClientFromConfig(cfg config.ClientConfig) (*Client, error) {
	return NewClient(Config{
		ServerAddr: cfg.RegistryAddr(),
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
	})
}

// Add 注册实例，实例已存活时返回 AlreadyRegistered 而不是错误
func (c *Client) Add(ctx context.Context, service, address string, port int) (AddResult, error) {
	resp, err := c.do(ctx, endpointPath("add", service, address, port))
	if err != nil {
		return Registered, fmt.Errorf("服务注册失败: %w", err)
	}
	if resp.header.Get(model.ResultHeader) == model.ResultAlreadyRegistered {
		return AlreadyRegistered, nil
	}
	return Registered, nil
}

// Remove 注销实例
func (c *Client) Remove(ctx context.Context, service, address string, port int) error {
	if _, err := c.do(ctx, endpointPath("remove", service, address, port)); err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}
	return nil
}

// Heartbeat 发送心跳
func (c *Client) Heartbeat(ctx context.Context, service, address string, port int) error {
	if _, err := c.do(ctx, endpointPath("heartbeat", service, address, port)); err != nil {
		return fmt.Errorf("发送心跳失败: %w", err)
	}
	return nil
}

// GetAll 返回服务下所有存活实例
func (c *Client) GetAll(ctx context.Context, service string) ([]model.AddressPair, error) {
	resp, err := c.do(ctx, "/get/"+url.PathEscape(service))
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}

	var body model.EndpointsResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(resp.body))
	}
	return body.Endpoints, nil
}

// GetOne 随机返回一个存活实例，没有实例时返回 ErrNoAliveInstances
func (c *Client) GetOne(ctx context.Context, service string) (model.AddressPair, error) {
	resp, err := c.do(ctx, "/get_one/"+url.PathEscape(service))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Kind == model.ErrorKindNoAliveInstances {
			return model.AddressPair{}, fmt.Errorf("服务 %s: %w", service, ErrNoAliveInstances)
		}
		return model.AddressPair{}, fmt.Errorf("查询服务失败: %w", err)
	}

	var body model.EndpointResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return model.AddressPair{}, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(resp.body))
	}
	return body.Endpoints, nil
}

type response struct {
	header http.Header
	body   []byte
}

// do 发送GET请求，传输失败或5xx时按配置重试
func (c *Client) do(ctx context.Context, path string) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, path)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryable(apiErr) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, path string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var errResp model.ErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			apiErr.Kind = errResp.Error
			apiErr.Message = errResp.Message
		}
		return nil, apiErr
	}

	return &response{header: resp.Header, body: body}, nil
}

// retryable 5xx 中只有没有存活实例是确定的结果
func retryable(e *APIError) bool {
	return e.StatusCode >= 500 && e.Kind != model.ErrorKindNoAliveInstances
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

func endpointPath(op, service, address string, port int) string {
	return "/" + op + "/" + url.PathEscape(service) + "/" + url.PathEscape(address) + "/" + strconv.Itoa(port)
}
