// Package gateway 实现通过注册中心转发请求的网关
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/model"
	sdk "github.com/hewenyu/service-registry/sdk/go"
)

// Resolver 解析服务的存活实例
type Resolver interface {
	GetOne(ctx context.Context, service string) (model.AddressPair, error)
	GetAll(ctx context.Context, service string) ([]model.AddressPair, error)
}

// Gateway 将 /{service}/{path} 转发到服务的某个实例
type Gateway struct {
	resolver   Resolver
	breaker    *gobreaker.CircuitBreaker[[]model.AddressPair]
	httpClient *http.Client
	attempts   int
	logger     config.Logger
}

// New 创建网关
func New(resolver Resolver, cfg config.GatewayConfig, logger config.Logger) *Gateway {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:    "registry",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 没有存活实例是注册中心给出的正常结果
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, sdk.ErrNoAliveInstances)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Gateway{
		resolver:   resolver,
		breaker:    gobreaker.NewCircuitBreaker[[]model.AddressPair](settings),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   attempts,
		logger:     logger,
	}
}

// RegisterRoutes 配置网关路由
func (g *Gateway) RegisterRoutes(e *echo.Echo) {
	e.GET("/", g.Home)
	e.GET("/:service", g.Forward)
	e.GET("/:service/*", g.Forward)
	e.POST("/:service/*", g.Forward)
}

// Home 网关首页
func (g *Gateway) Home(c echo.Context) error {
	return c.String(http.StatusOK, "api gateway")
}

// Forward 解析服务并转发请求，连接失败时换一个实例重试
func (g *Gateway) Forward(c echo.Context) error {
	service := c.Param("service")
	path := c.Param("*")
	ctx := c.Request().Context()

	var body []byte
	if c.Request().Body != nil {
		var err error
		body, err = io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "读取请求体失败")
		}
	}

	// 首选 get_one 的结果，连接失败后取全部实例，按随机顺序尝试未访问过的实例
	queue, err := g.breaker.Execute(func() ([]model.AddressPair, error) {
		ep, err := g.resolver.GetOne(ctx, service)
		if err != nil {
			return nil, err
		}
		return []model.AddressPair{ep}, nil
	})
	if err != nil {
		return g.unavailable(c, service, err)
	}

	tried := make(map[model.AddressPair]bool)
	refreshed := false
	for sent := 0; sent < g.attempts; {
		if len(queue) == 0 {
			if refreshed {
				break
			}
			refreshed = true
			all, err := g.breaker.Execute(func() ([]model.AddressPair, error) {
				return g.resolver.GetAll(ctx, service)
			})
			if err != nil {
				return g.unavailable(c, service, err)
			}
			queue = untried(all, tried)
			continue
		}

		ep := queue[0]
		queue = queue[1:]
		if tried[ep] {
			continue
		}
		tried[ep] = true
		sent++

		resp, err := g.send(ctx, c.Request(), ep, path, body)
		if err != nil {
			g.logger.Warn("转发请求失败，尝试其他实例",
				zap.String("service", service),
				zap.String("endpoint", ep.HostPort()),
				zap.Int("attempt", sent),
				zap.Error(err))
			continue
		}
		return g.relay(c, resp)
	}

	return g.unavailable(c, service, fmt.Errorf("尝试%d个实例后仍无可用实例: %w", len(tried), sdk.ErrNoAliveInstances))
}

// untried 打乱并返回尚未尝试的实例
func untried(all []model.AddressPair, tried map[model.AddressPair]bool) []model.AddressPair {
	rest := make([]model.AddressPair, 0, len(all))
	for _, ep := range all {
		if !tried[ep] {
			rest = append(rest, ep)
		}
	}
	rand.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return rest
}

func (g *Gateway) send(ctx context.Context, in *http.Request, ep model.AddressPair, path string, body []byte) (*http.Response, error) {
	target := fmt.Sprintf("http://%s/%s", ep.HostPort(), path)
	if in.URL.RawQuery != "" {
		target += "?" + in.URL.RawQuery
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, in.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("创建转发请求失败: %w", err)
	}
	if ct := in.Header.Get(echo.HeaderContentType); ct != "" {
		req.Header.Set(echo.HeaderContentType, ct)
	}
	for _, cookie := range in.Cookies() {
		req.AddCookie(cookie)
	}

	return g.httpClient.Do(req)
}

func (g *Gateway) relay(c echo.Context, resp *http.Response) error {
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		c.SetCookie(cookie)
	}
	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMETextHTMLCharsetUTF8
	}
	return c.Stream(resp.StatusCode, contentType, resp.Body)
}

func (g *Gateway) unavailable(c echo.Context, service string, err error) error {
	g.logger.Warn("服务不可用", zap.String("service", service), zap.Error(err))

	kind := model.ErrorKindStoreUnavailable
	if errors.Is(err, sdk.ErrNoAliveInstances) {
		kind = model.ErrorKindNoAliveInstances
	}
	return c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
		Code:    http.StatusServiceUnavailable,
		Error:   kind,
		Message: fmt.Sprintf("服务 %s 暂不可用", service),
	})
}
