package dns

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// queryName 解析后的查询名，instance 不为空时查询的是服务下的某个IP实例
type queryName struct {
	service  string
	instance net.IP
}

// parseQueryName 解析 <service>.<domain>.、_<service>._tcp.<domain>. 和 <ip-label>.<service>.<domain>.
//
// name 和 domain 都是FQDN，返回的服务名保留原始大小写。名字属于本地域但格式不支持时服务名为空。
func parseQueryName(name, domain string) (queryName, bool) {
	suffix := "." + domain
	if len(name) <= len(suffix) || !strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return queryName{}, false
	}
	prefix := name[:len(name)-len(suffix)]
	labels := strings.Split(prefix, ".")

	// SRV 标准形式
	if strings.HasPrefix(prefix, "_") {
		if len(labels) == 2 && strings.EqualFold(labels[1], "_tcp") {
			return queryName{service: strings.TrimPrefix(labels[0], "_")}, true
		}
		return queryName{}, true
	}

	switch len(labels) {
	case 1:
		return queryName{service: labels[0]}, true
	case 2:
		if ip := parseInstanceLabel(labels[0]); ip != nil {
			return queryName{service: labels[1], instance: ip}, true
		}
	}
	return queryName{}, true
}

// inDomain 判断查询是否属于本地域
func inDomain(name, domain string) bool {
	return strings.EqualFold(name, domain) || dns.IsSubDomain(domain, name)
}

// createARecord 创建A记录
func createARecord(name string, ip net.IP, ttl uint32) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip.To4(),
	}
}

// createAAAARecord 创建AAAA记录
func createAAAARecord(name string, ip net.IP, ttl uint32) dns.RR {
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
		AAAA: ip.To16(),
	}
}

// createAddressRecord 根据IP族创建A或AAAA记录
func createAddressRecord(name string, ip net.IP, ttl uint32) dns.RR {
	if ip.To4() != nil {
		return createARecord(name, ip, ttl)
	}
	return createAAAARecord(name, ip, ttl)
}

// createSRVRecord 创建SRV记录
func createSRVRecord(name, target string, port int, ttl uint32) dns.RR {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
		Priority: 0,
		Weight:   0,
		Port:     uint16(port),
		Target:   target,
	}
}

// instanceName 为IP实例生成可解析的目标名，如 10-0-0-5.menu.service.local.
func instanceName(ip net.IP, service, domain string) string {
	return fmt.Sprintf("%s.%s.%s", instanceLabel(ip), service, domain)
}

func instanceLabel(ip net.IP) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(ip.String())
}

// parseInstanceLabel 是 instanceLabel 的逆操作，不是IP标签时返回 nil
func parseInstanceLabel(label string) net.IP {
	if strings.Count(label, "-") == 3 {
		if ip := net.ParseIP(strings.ReplaceAll(label, "-", ".")); ip != nil {
			return ip
		}
	}
	if !strings.Contains(label, "--") && strings.Count(label, "-") != 7 {
		return nil
	}
	ip := net.ParseIP(strings.ReplaceAll(label, "-", ":"))
	if ip == nil || ip.To4() != nil {
		return nil
	}
	return ip
}
