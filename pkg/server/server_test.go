package server

import (
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func init() {
	logger.Init("error")
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{Module: "test-app", BindPort: 50051},
		GRPC: config.GRPCConfig{
			KeepAlive: config.KeepAliveConfig{},
		},
		RateLimit: config.RateLimitConfig{
			Enabled: false,
		},
		Audit: config.AuditConfig{
			Enabled: false,
		},
	}

	srv := New(cfg)
	assert.NotNil(t, srv)
	assert.NotNil(t, srv.GetEngine())

	// Audit logger is nil because it is disabled.
	assert.Nil(t, srv.GetAuditLogger())
}

func TestNewServer_WithOptions(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{Module: "test-app", BindPort: 50052},
		Audit:   config.AuditConfig{Enabled: true}, // enabled in config
	}

	// Pass a nil logger explicitly through options, simulating a failed
	// audit logger construction upstream.
	opts := &ServerOptions{
		AuditLogger: nil,
	}

	srv := NewWithOptions(cfg, opts)
	assert.NotNil(t, srv)
}

func TestGRPCServer_WaitStopSignal(t *testing.T) {
	cfg := &config.Config{
		Service: config.ServiceConfig{Module: "test-app", BindPort: 50053},
	}

	srv := New(cfg)

	sub1 := srv.WaitStopSignal()
	sub2 := srv.WaitStopSignal()

	select {
	case <-sub1:
		t.Fatal("subscriber channel closed before shutdown began")
	default:
	}

	srv.broadcastStop()

	select {
	case <-sub1:
	default:
		t.Fatal("expected sub1 to be closed after broadcastStop")
	}
	select {
	case <-sub2:
	default:
		t.Fatal("expected sub2 to be closed after broadcastStop")
	}

	// A subscriber registered after shutdown has begun must observe an
	// already-closed channel, not block forever.
	sub3 := srv.WaitStopSignal()
	select {
	case <-sub3:
	default:
		t.Fatal("expected late subscriber to receive an already-closed channel")
	}

	// broadcastStop must be idempotent.
	srv.broadcastStop()
}

func discoveryFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discovery.toml")
	doc := "[modules.echo.instances.echo-0]\naddress = \"127.0.0.1:1\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write discovery doc: %v", err)
	}
	return path
}

func TestGRPCServer_Channel(t *testing.T) {
	cfg := &config.Config{
		Service:   config.ServiceConfig{Module: "test-app", BindPort: 50054},
		Discovery: config.DiscoveryConfig{File: discoveryFile(t), TTL: 0},
	}
	srv := New(cfg)
	defer srv.broadcastStop()

	cc1, err := srv.Channel("echo")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	cc2, err := srv.Channel("echo")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if cc1 != cc2 {
		t.Fatal("expected Channel to return the same connection on repeat calls")
	}
}

type fakeEchoClient interface {
	Target() string
}

type fakeEchoClientImpl struct {
	cc *grpc.ClientConn
}

func (c *fakeEchoClientImpl) Target() string { return c.cc.Target() }

func TestClient_RegistersAndCaches(t *testing.T) {
	cfg := &config.Config{
		Service:   config.ServiceConfig{Module: "test-app", BindPort: 50055},
		Discovery: config.DiscoveryConfig{File: discoveryFile(t), TTL: 0},
	}
	srv := New(cfg)
	defer srv.broadcastStop()

	RegisterClient[fakeEchoClient](srv, "echo", func(cc *grpc.ClientConn) fakeEchoClient {
		return &fakeEchoClientImpl{cc: cc}
	})

	c1, err := Client[fakeEchoClient](srv)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	c2, err := Client[fakeEchoClient](srv)
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected Client to cache and return the same instance")
	}
}

func TestClient_UnregisteredTypeErrors(t *testing.T) {
	cfg := &config.Config{Service: config.ServiceConfig{Module: "test-app", BindPort: 50056}}
	srv := New(cfg)
	defer srv.broadcastStop()

	_, err := Client[fakeEchoClient](srv)
	if err == nil {
		t.Fatal("expected an error for an unregistered client type")
	}
}
