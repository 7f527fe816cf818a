package dns

import (
	"context"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/service-registry/pkg/config"
	"github.com/hewenyu/service-registry/pkg/registry"
	"github.com/hewenyu/service-registry/pkg/storage/memory"
)

func TestDNSServer(t *testing.T) {
	ctx := context.Background()
	r := registry.New(memory.NewMemoryStorage(), config.NewNopLogger())
	require.NoError(t, r.Add(ctx, "menu", "10.0.0.5", 9000))

	cfg := config.DNSConfig{ListenAddress: "127.0.0.1", Port: 0, Domain: "service.local", TTL: 5}
	server := NewServer(cfg, NewHandler(r, cfg.Domain, cfg.TTL, config.NewNopLogger(), nil), config.NewNopLogger())

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, server.Start(startCtx))
	defer server.Stop()

	addr := server.UDPAddr()
	require.NotEmpty(t, addr)

	c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion("menu.service.local.", dns.TypeA)

	resp, _, err := c.Exchange(req, addr)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "10.0.0.5", resp.Answer[0].(*dns.A).A.String())

	// 注销后返回NXDOMAIN
	require.NoError(t, r.Remove(ctx, "menu", "10.0.0.5", 9000))
	resp, _, err = c.Exchange(req, addr)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}
