package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kadds/job-judge/pkg/discovery"
	"github.com/kadds/job-judge/pkg/logger"
)

func init() {
	logger.Init("error")
}

type fakeProvider struct {
	mu        sync.Mutex
	instances map[string][]discovery.Instance
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{instances: make(map[string][]discovery.Instance)}
}

func (p *fakeProvider) set(module string, instances []discovery.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[module] = instances
}

func (p *fakeProvider) ListModules(context.Context) ([]string, error) {
	return nil, nil
}

func (p *fakeProvider) ListInstances(_ context.Context, module string) ([]discovery.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]discovery.Instance(nil), p.instances[module]...), nil
}

func TestPool_ChannelIsLazyAndShared(t *testing.T) {
	provider := newFakeProvider()
	provider.set("judge", []discovery.Instance{{Name: "judge-0", Address: "127.0.0.1:11100"}})

	stop := make(chan struct{})
	defer close(stop)

	p := New(provider, 50*time.Millisecond, stop)

	conn1, err := p.Channel("judge")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	conn2, err := p.Channel("judge")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if conn1 != conn2 {
		t.Fatal("expected the same channel to be returned for repeat calls")
	}
}

func TestDiff_DetectsAddsRemovesAndUpdates(t *testing.T) {
	known := map[string]discovery.Instance{
		"a": {Name: "a", Address: "1.1.1.1:1"},
	}

	if diff(known, []discovery.Instance{{Name: "a", Address: "1.1.1.1:1"}}) {
		t.Fatal("expected no change for identical sets")
	}
	if !diff(known, []discovery.Instance{{Name: "a", Address: "2.2.2.2:1"}}) {
		t.Fatal("expected change on address update")
	}
	if !diff(known, []discovery.Instance{{Name: "a", Address: "1.1.1.1:1"}, {Name: "b", Address: "3.3.3.3:1"}}) {
		t.Fatal("expected change on add")
	}
	if !diff(known, nil) {
		t.Fatal("expected change on removal")
	}
}

func TestNew_FloorsTTLAtTenSeconds(t *testing.T) {
	stop := make(chan struct{})
	close(stop)

	p := New(newFakeProvider(), time.Second, stop)
	if p.ttl != minTTL {
		t.Fatalf("expected ttl floored to %v, got %v", minTTL, p.ttl)
	}
}
