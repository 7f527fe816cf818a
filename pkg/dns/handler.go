package dns

import (
	"context"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/metrics"
	"github.com/hewenyu/service-registry/pkg/model"
	"github.com/hewenyu/service-registry/pkg/storage"
)

const queryTimeout = 5 * time.Second

// Resolver 提供存活实例查询
type Resolver interface {
	GetAll(ctx context.Context, service string) ([]model.Endpoint, error)
}

// Handler DNS请求处理器
type Handler struct {
	resolver Resolver
	domain   string // 本地域名后缀，FQDN
	ttl      uint32
	logger   config.Logger
	metrics  *metrics.Metrics
}

// NewHandler 创建DNS请求处理器
func NewHandler(resolver Resolver, domain string, ttl uint32, logger config.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		resolver: resolver,
		domain:   dns.Fqdn(strings.TrimSuffix(domain, ".")),
		ttl:      ttl,
		logger:   logger,
		metrics:  m,
	}
}

// ServeDNS 处理DNS请求
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	qtype := "NONE"
	defer func() {
		h.metrics.ObserveDNSQuery(qtype, dns.RcodeToString[m.Rcode])
		if err := w.WriteMsg(m); err != nil {
			h.logger.Warn("写入DNS响应失败", zap.Error(err))
		}
	}()

	// 只处理标准查询
	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		return
	}
	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		return
	}

	q := r.Question[0]
	qtype = dns.TypeToString[q.Qtype]

	// 不属于本地域的查询直接拒绝，不做转发
	if !inDomain(q.Name, h.domain) {
		m.Rcode = dns.RcodeRefused
		return
	}
	m.Authoritative = true

	qn, ok := parseQueryName(q.Name, h.domain)
	service := qn.service
	if !ok || model.ValidateServiceName(service) != nil {
		m.Rcode = dns.RcodeNameError
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	endpoints, err := h.resolver.GetAll(ctx, service)
	if err != nil {
		if storage.IsCode(err, storage.ErrMalformedName) {
			m.Rcode = dns.RcodeNameError
			return
		}
		h.logger.Error("查询DNS记录失败", zap.String("name", q.Name), zap.Error(err))
		m.Rcode = dns.RcodeServerFailure
		return
	}
	if len(endpoints) == 0 {
		m.Rcode = dns.RcodeNameError
		return
	}

	if qn.instance != nil {
		h.instanceAnswer(m, q, qn.instance, endpoints)
		return
	}

	switch q.Qtype {
	case dns.TypeA, dns.TypeAAAA:
		if rr := h.addressAnswer(q, endpoints); rr != nil {
			m.Answer = append(m.Answer, rr)
		}
	case dns.TypeSRV:
		h.srvAnswer(m, q, service, endpoints)
	}
}

// addressAnswer 从同一IP族的实例中等概率选出一个
func (h *Handler) addressAnswer(q dns.Question, endpoints []model.Endpoint) dns.RR {
	var candidates []net.IP
	for _, ep := range endpoints {
		ip := net.ParseIP(ep.Address)
		if ip == nil {
			continue
		}
		isV4 := ip.To4() != nil
		if (q.Qtype == dns.TypeA) == isV4 {
			candidates = append(candidates, ip)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	ip := candidates[rand.IntN(len(candidates))]
	if q.Qtype == dns.TypeA {
		return createARecord(q.Name, ip, h.ttl)
	}
	return createAAAARecord(q.Name, ip, h.ttl)
}

// instanceAnswer 回答SRV目标名的地址查询，实例不再存活时返回NXDOMAIN
func (h *Handler) instanceAnswer(m *dns.Msg, q dns.Question, ip net.IP, endpoints []model.Endpoint) {
	for _, ep := range endpoints {
		if !ip.Equal(net.ParseIP(ep.Address)) {
			continue
		}
		isV4 := ip.To4() != nil
		if (q.Qtype == dns.TypeA && isV4) || (q.Qtype == dns.TypeAAAA && !isV4) {
			m.Answer = append(m.Answer, createAddressRecord(q.Name, ip, h.ttl))
		}
		return
	}
	m.Rcode = dns.RcodeNameError
}

// srvAnswer 为每个存活实例生成SRV记录，IP实例附带地址记录
func (h *Handler) srvAnswer(m *dns.Msg, q dns.Question, service string, endpoints []model.Endpoint) {
	for _, ep := range endpoints {
		ip := net.ParseIP(ep.Address)
		if ip == nil {
			m.Answer = append(m.Answer, createSRVRecord(q.Name, dns.Fqdn(ep.Address), ep.Port, h.ttl))
			continue
		}

		target := instanceName(ip, service, h.domain)
		m.Answer = append(m.Answer, createSRVRecord(q.Name, target, ep.Port, h.ttl))
		m.Extra = append(m.Extra, createAddressRecord(target, ip, h.ttl))
	}
}
