package sdk

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
)

// RegistrationConfig 服务进程自身的注册信息
type RegistrationConfig struct {
	// 服务名称，为空时使用 ProcessServiceName
	ServiceName string
	// 对外地址，为空时使用 LocalAddress
	Address string
	// 服务端口
	Port int
	// 注册、注销和心跳一次调用的总超时，包含重试，为0时按客户端超时和重试次数计算
	Timeout time.Duration
}

// Registration 管理服务进程在注册中心的生命周期
//
// 所有操作失败时只记录日志，不会影响服务进程本身。
type Registration struct {
	client  *Client
	service string
	address string
	port    int
	timeout time.Duration
	logger  config.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewRegistration 创建注册助手
func NewRegistration(client *Client, cfg RegistrationConfig, logger config.Logger) *Registration {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ProcessServiceName()
	}
	if cfg.Address == "" {
		cfg.Address = LocalAddress()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = client.config.Timeout * time.Duration(client.config.RetryCount+1)
	}

	return &Registration{
		client:  client,
		service: cfg.ServiceName,
		address: cfg.Address,
		port:    cfg.Port,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// ServiceName 返回注册使用的服务名
func (r *Registration) ServiceName() string {
	return r.service
}

// Address 返回注册使用的地址
func (r *Registration) Address() string {
	return r.address
}

// Register 在启动时注册自身
func (r *Registration) Register(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.client.Add(ctx, r.service, r.address, r.port)
	if err != nil {
		r.logger.Warn("注册服务失败", r.fields(zap.Error(err))...)
		return
	}
	r.logger.Info("服务已注册", r.fields(zap.Stringer("result", result))...)
}

// Deregister 在退出时注销自身
func (r *Registration) Deregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Remove(ctx, r.service, r.address, r.port); err != nil {
		r.logger.Warn("注销服务失败", r.fields(zap.Error(err))...)
		return
	}
	r.logger.Info("服务已注销", r.fields()...)
}

// StartHeartbeat 开始心跳任务，interval 为0时不启动
func (r *Registration) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		return
	}

	// 停止已有心跳任务
	r.Stop()

	r.mu.Lock()
	stop := make(chan struct{})
	r.stopChan = stop
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
				if err := r.client.Heartbeat(ctx, r.service, r.address, r.port); err != nil {
					r.logger.Warn("心跳发送失败，将在下一个周期重试", r.fields(zap.Error(err))...)
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// Stop 停止心跳任务
func (r *Registration) Stop() {
	r.mu.Lock()
	if r.stopChan != nil {
		close(r.stopChan)
		r.stopChan = nil
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Close 停止心跳并注销
func (r *Registration) Close(ctx context.Context) {
	r.Stop()
	r.Deregister(ctx)
}

func (r *Registration) fields(extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("service", r.service),
		zap.String("address", r.address),
		zap.Int("port", r.port),
	}, extra...)
}

// ProcessServiceName 返回可执行文件名去掉扩展名后的结果
func ProcessServiceName() string {
	name := filepath.Base(os.Args[0])
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// LocalAddress 解析本机主机名得到的地址，失败时返回 127.0.0.1
func LocalAddress() string {
	hostname, err := os.Hostname()
	if err == nil {
		if addrs, err := net.LookupHost(hostname); err == nil {
			for _, addr := range addrs {
				if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil && !ip.IsLoopback() {
					return addr
				}
			}
			if len(addrs) > 0 {
				return addrs[0]
			}
		}
	}
	return "127.0.0.1"
}
