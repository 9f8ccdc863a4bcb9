// Package pool maintains one load-balanced gRPC channel per remote module,
// kept current by a background watcher polling a discovery.Provider.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/resolver"

	"github.com/kadds/job-judge/pkg/discovery"
	"github.com/kadds/job-judge/pkg/logger"
)

const (
	minTTL       = 10 * time.Second
	jitterWindow = 10 * time.Second
	errBackoff   = 30 * time.Second
	dialTimeout  = 5 * time.Second
)

// Pool lazily creates one gRPC channel per module and keeps its
// sub-connections synced to discovery.Provider results until stopped.
type Pool struct {
	provider discovery.Provider
	ttl      time.Duration
	stopCh   <-chan struct{}

	mu      sync.Mutex
	entries map[string]*entry
	seq     int
}

type entry struct {
	conn     *grpc.ClientConn
	resolver *manualResolver
}

// New builds a Pool that resolves instances through provider, re-polling
// every ttl (floored to 10s), and tearing down its watchers when stopCh
// fires.
func New(provider discovery.Provider, ttl time.Duration, stopCh <-chan struct{}) *Pool {
	if ttl < minTTL {
		ttl = minTTL
	}
	return &Pool{
		provider: provider,
		ttl:      ttl,
		stopCh:   stopCh,
		entries:  make(map[string]*entry),
	}
}

// Channel returns the shared channel for module, creating its pool and
// watcher goroutine on first use.
func (p *Pool) Channel(module string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	if e, ok := p.entries[module]; ok {
		p.mu.Unlock()
		return e.conn, nil
	}
	p.seq++
	scheme := fmt.Sprintf("jjpool%d", p.seq)
	p.mu.Unlock()

	res := newManualResolver(scheme)
	resolver.Register(res)

	conn, err := grpc.NewClient(
		res.Scheme()+":///"+module,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultServiceConfig(`{"loadBalancingConfig":[{"round_robin":{}}]}`),
	)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", module, err)
	}

	e := &entry{conn: conn, resolver: res}

	p.mu.Lock()
	if existing, ok := p.entries[module]; ok {
		// A concurrent first call stored its channel first; share that one.
		p.mu.Unlock()
		conn.Close()
		return existing.conn, nil
	}
	p.entries[module] = e
	p.mu.Unlock()

	go p.watch(module, e)
	return conn, nil
}

// Close shuts down every channel the pool has opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for _, e := range p.entries {
		if err := e.conn.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (p *Pool) watch(module string, e *entry) {
	known := make(map[string]discovery.Instance)

	for {
		instances, err := p.provider.ListInstances(context.Background(), module)
		sleep := p.ttl
		if err != nil {
			logger.Log.Warn("discovery watcher failed", "module", module, "err", err)
			sleep = p.ttl - errBackoff
			if sleep < minTTL {
				sleep = minTTL
			}
		} else {
			if changed := diff(known, instances); changed {
				e.resolver.update(instances)
				known = toSet(instances)
			}
		}

		sleep += time.Duration(rand.Int63n(int64(2*jitterWindow))) - jitterWindow
		if sleep < minTTL {
			sleep = minTTL
		}

		select {
		case <-p.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

func toSet(instances []discovery.Instance) map[string]discovery.Instance {
	set := make(map[string]discovery.Instance, len(instances))
	for _, inst := range instances {
		set[inst.Name] = inst
	}
	return set
}

// diff reports whether instances differs from known: adds, removes, or
// address updates for an existing name.
func diff(known map[string]discovery.Instance, instances []discovery.Instance) bool {
	if len(known) != len(instances) {
		return true
	}
	for _, inst := range instances {
		prev, ok := known[inst.Name]
		if !ok || prev.Address != inst.Address {
			return true
		}
	}
	return false
}

// manualResolver feeds address updates to a single gRPC channel. Each one is
// registered globally under its own scheme (jjpool1, jjpool2, ...), so only
// its own channel's target resolves through it.
type manualResolver struct {
	scheme string
	mu     sync.Mutex
	cc     resolver.ClientConn
}

func newManualResolver(scheme string) *manualResolver {
	return &manualResolver{scheme: scheme}
}

func (r *manualResolver) Scheme() string { return r.scheme }

func (r *manualResolver) Build(_ resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	r.mu.Lock()
	r.cc = cc
	r.mu.Unlock()
	return r, nil
}

func (r *manualResolver) ResolveNow(resolver.ResolveNowOptions) {}
func (r *manualResolver) Close()                                {}

func (r *manualResolver) update(instances []discovery.Instance) {
	addrs := make([]resolver.Address, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, resolver.Address{Addr: inst.Address})
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Addr < addrs[j].Addr })

	r.mu.Lock()
	cc := r.cc
	r.mu.Unlock()
	if cc != nil {
		cc.UpdateState(resolver.State{Addresses: addrs})
	}
}
