package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// instancePort is fixed by convention for every module's gRPC listener
// discovered through DNS.
const instancePort = 11100

// DNSProvider resolves modules by querying a DNS server directly: an A
// query against "{module}.{suffix}" lists instance IPs, and a PTR query
// on each IP recovers the pod hostname used as the instance name.
type DNSProvider struct {
	suffix string
	server string // "" uses the system resolver's configured server
	client *dns.Client
}

// NewDNSProvider returns a Provider resolving "{module}.{suffix}" records
// against server (host:port). If server is empty, /etc/resolv.conf is used.
func NewDNSProvider(suffix, server string) *DNSProvider {
	return &DNSProvider{
		suffix: strings.TrimPrefix(suffix, "."),
		server: server,
		client: &dns.Client{},
	}
}

func (p *DNSProvider) resolveServer() (string, error) {
	if p.server != "" {
		return p.server, nil
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "", fmt.Errorf("discovery: no DNS server configured: %w", err)
	}
	return cfg.Servers[0] + ":" + cfg.Port, nil
}

func (p *DNSProvider) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	server, err := p.resolveServer()
	if err != nil {
		return nil, err
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	resp, _, err := p.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("discovery: dns query %s: %w", name, err)
	}
	return resp, nil
}

// ListModules enumerates "*.{suffix}" A records, strips the suffix from each
// matching name and dedupes what remains into module names.
func (p *DNSProvider) ListModules(ctx context.Context) ([]string, error) {
	resp, err := p.query(ctx, "*."+p.suffix, dns.TypeA)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, rr := range resp.Answer {
		host := strings.TrimSuffix(rr.Header().Name, ".")
		module := strings.TrimSuffix(host, "."+p.suffix)
		if module == "" || module == host {
			continue
		}
		seen[module] = struct{}{}
	}

	modules := make([]string, 0, len(seen))
	for name := range seen {
		modules = append(modules, name)
	}
	sort.Strings(modules)
	return modules, nil
}

// ListInstances resolves "{module}.{suffix}" to its A records, then PTRs
// each IP to recover the instance's pod hostname.
func (p *DNSProvider) ListInstances(ctx context.Context, module string) ([]Instance, error) {
	resp, err := p.query(ctx, module+"."+p.suffix, dns.TypeA)
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		ip := a.A.String()
		name := ip
		if ptrName, err := p.reversePTR(ctx, ip); err == nil && ptrName != "" {
			name = ptrName
		}
		instances = append(instances, Instance{
			Name:    name,
			Address: fmt.Sprintf("%s:%d", ip, instancePort),
		})
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].Name < instances[j].Name })
	return instances, nil
}

func (p *DNSProvider) reversePTR(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}
	resp, err := p.query(ctx, arpa, dns.TypePTR)
	if err != nil {
		return "", err
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", nil
}
