package model

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Key 唯一标识一个服务实例
type Key struct {
	Service string `json:"service"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// String 返回 service/address:port 形式
func (k Key) String() string {
	return k.Service + "/" + net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
}

// Endpoint 表示一个已注册的服务实例
type Endpoint struct {
	Service       string    `json:"service"`        // 服务名称
	Address       string    `json:"address"`        // 实例地址
	Port          int       `json:"port"`           // 实例端口
	LastHeartbeat time.Time `json:"last_heartbeat"` // 最后心跳时间
	Alive         bool      `json:"alive"`          // 是否存活
}

// Key 返回实例的唯一标识
func (e Endpoint) Key() Key {
	return Key{Service: e.Service, Address: e.Address, Port: e.Port}
}

// HostPort 返回 address:port
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// Pair 返回对外协议中使用的 [address, port] 二元组
func (e Endpoint) Pair() AddressPair {
	return AddressPair{Address: e.Address, Port: e.Port}
}

// AddressPair 在JSON中编码为 ["10.0.0.5", 9000]
type AddressPair struct {
	Address string
	Port    int
}

// MarshalJSON 实现json.Marshaler
func (p AddressPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Address, p.Port})
}

// UnmarshalJSON 实现json.Unmarshaler
func (p *AddressPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("地址二元组长度应为2, 实际为%d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Address); err != nil {
		return fmt.Errorf("解析地址失败: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Port); err != nil {
		return fmt.Errorf("解析端口失败: %w", err)
	}
	return nil
}

// HostPort 返回 address:port
func (p AddressPair) HostPort() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}

// EndpointsResponse 是 /get 的响应体
type EndpointsResponse struct {
	Endpoints []AddressPair `json:"endpoints"`
}

// EndpointResponse 是 /get_one 的响应体
type EndpointResponse struct {
	Endpoints AddressPair `json:"endpoints"`
}

// ErrorResponse 是所有接口的错误响应体
type ErrorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// 错误响应中的 error 字段取值
const (
	ErrorKindMalformedName    = "malformed_name"
	ErrorKindNoAliveInstances = "no_alive_instances"
	ErrorKindStoreUnavailable = "store_unavailable"
)

// ResultHeader 标识 /add 的业务结果，取值 ResultAlreadyRegistered
const (
	ResultHeader            = "X-Registry-Result"
	ResultAlreadyRegistered = "already_registered"
)
