package dns

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
)

// Server DNS服务器
type Server struct {
	udpServer *dns.Server   // UDP服务器
	tcpServer *dns.Server   // TCP服务器
	handler   *Handler      // DNS请求处理器
	logger    config.Logger // 日志
}

// NewServer 创建DNS服务器
func NewServer(cfg config.DNSConfig, handler *Handler, logger config.Logger) *Server {
	addr := net.JoinHostPort(cfg.ListenAddress, strconv.Itoa(cfg.Port))
	return &Server{
		udpServer: &dns.Server{Addr: addr, Net: "udp", Handler: handler},
		tcpServer: &dns.Server{Addr: addr, Net: "tcp", Handler: handler},
		handler:   handler,
		logger:    logger,
	}
}

// Start 启动DNS服务器，监听成功后返回
func (s *Server) Start(ctx context.Context) error {
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		if err := s.listen(ctx, srv); err != nil {
			_ = s.Stop()
			return err
		}
	}
	return nil
}

func (s *Server) listen(ctx context.Context, srv *dns.Server) error {
	started := make(chan struct{})
	failed := make(chan error, 1)
	srv.NotifyStartedFunc = func() { close(started) }

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			failed <- err
		}
	}()

	select {
	case <-started:
		s.logger.Info("DNS服务器已启动", zap.String("net", srv.Net), zap.String("addr", srv.Addr))
		return nil
	case err := <-failed:
		return fmt.Errorf("DNS %s服务器启动失败: %w", srv.Net, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UDPAddr 返回UDP实际监听地址
func (s *Server) UDPAddr() string {
	if s.udpServer.PacketConn == nil {
		return ""
	}
	return s.udpServer.PacketConn.LocalAddr().String()
}

// Stop 停止DNS服务器
func (s *Server) Stop() error {
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		// 未启动的服务器关闭时会报错，只记录日志
		if err := srv.Shutdown(); err != nil {
			s.logger.Debug("关闭DNS服务器失败", zap.String("net", srv.Net), zap.Error(err))
		}
	}
	return nil
}
