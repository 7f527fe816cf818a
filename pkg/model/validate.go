package model

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)
	hostLabelPattern   = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
)

// ValidationError 表示服务名、地址或端口不能安全地作为存储标识
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("非法的%s: %q", e.Field, e.Value)
}

// ValidateServiceName 校验服务名
func ValidateServiceName(name string) error {
	if !serviceNamePattern.MatchString(name) {
		return &ValidationError{Field: "服务名", Value: name}
	}
	return nil
}

// ValidateAddress 校验地址，只接受IP字面量或RFC 1123主机名
func ValidateAddress(address string) error {
	if net.ParseIP(address) != nil {
		return nil
	}
	if address == "" || len(address) > 253 {
		return &ValidationError{Field: "地址", Value: address}
	}
	for _, label := range strings.Split(strings.TrimSuffix(address, "."), ".") {
		if !hostLabelPattern.MatchString(label) {
			return &ValidationError{Field: "地址", Value: address}
		}
	}
	return nil
}

// ValidatePort 校验端口范围
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: "端口", Value: strconv.Itoa(port)}
	}
	return nil
}

// NewKey 校验并构造实例标识
func NewKey(service, address string, port int) (Key, error) {
	if err := ValidateServiceName(service); err != nil {
		return Key{}, err
	}
	if err := ValidateAddress(address); err != nil {
		return Key{}, err
	}
	if err := ValidatePort(port); err != nil {
		return Key{}, err
	}
	return Key{Service: service, Address: address, Port: port}, nil
}

// ParsePort 解析路径参数中的端口
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ValidationError{Field: "端口", Value: s}
	}
	if err := ValidatePort(port); err != nil {
		return 0, err
	}
	return port, nil
}
