// Package metrics 定义注册中心的 Prometheus 指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作结果标签取值
const (
	ResultOK                = "ok"
	ResultAlreadyRegistered = "already_registered"
	ResultNoAliveInstances  = "no_alive_instances"
	ResultMalformedName     = "malformed_name"
	ResultError             = "error"
)

// Metrics 汇总注册中心的全部指标，nil 值可安全调用
type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	dnsQueries   *prometheus.CounterVec
	staleExpired prometheus.Counter
}

// New 创建指标并注册到独立的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_operations_total",
			Help: "注册中心操作次数",
		}, []string{"op", "result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "registry_http_request_duration_seconds",
			Help:    "HTTP请求耗时",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		dnsQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "registry_dns_queries_total",
			Help: "DNS查询次数",
		}, []string{"qtype", "rcode"}),
		staleExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "registry_stale_expired_total",
			Help: "因心跳超时被标记为死亡的实例数",
		}),
	}

	m.registry.MustRegister(
		m.operations,
		m.httpDuration,
		m.dnsQueries,
		m.staleExpired,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层的 prometheus.Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 格式的指标输出
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation 记录一次注册中心操作
func (m *Metrics) ObserveOperation(op, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// ObserveHTTP 记录一次HTTP请求耗时
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveDNSQuery 记录一次DNS查询
func (m *Metrics) ObserveDNSQuery(qtype, rcode string) {
	if m == nil {
		return
	}
	m.dnsQueries.WithLabelValues(qtype, rcode).Inc()
}

// AddStaleExpired 累加过期实例数
func (m *Metrics) AddStaleExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleExpired.Add(float64(n))
}
