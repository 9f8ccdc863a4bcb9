package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/kadds/job-judge/pkg/audit"
	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/discovery"
	"github.com/kadds/job-judge/pkg/interceptors"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/metrics"
	"github.com/kadds/job-judge/pkg/pool"
	"github.com/kadds/job-judge/pkg/ratelimit"
	"github.com/kadds/job-judge/pkg/swagger"
	"github.com/kadds/job-judge/pkg/telemetry"
)

// version is reported on telemetry resources and audit entries; overridden
// at build time via -ldflags in a real release pipeline.
var version = "dev"

// GRPCServer wraps grpc.Server with the lifecycle every job-judge process
// shares: health reporting, interceptor chain, graceful shutdown, and a
// broadcast channel child tasks (the containerwork daemon, pool watchers,
// the registrar's keepalive loop) can wait on to know when to stop.
type GRPCServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	config      *config.Config
	telemetry   *telemetry.Provider
	rateLimiter ratelimit.Limiter
	auditLogger audit.Logger

	stopOnce  sync.Once
	stopCh    chan struct{}
	stopSubMu sync.Mutex
	stopSubs  []chan struct{}

	poolOnce sync.Once
	pool     *pool.Pool

	clientMu       sync.Mutex
	clients        map[string]any
	clientRegistry map[string]clientRegistration
}

// clientRegistration is a declarative {module, constructor} pair recorded
// under a type name by RegisterClient, consumed later by Client[T].
type clientRegistration struct {
	module      string
	constructor func(*grpc.ClientConn) any
}

// New creates a new gRPC server.
func New(cfg *config.Config) *GRPCServer {
	return NewWithOptions(cfg, nil)
}

// ServerOptions holds construction-time overrides for GRPCServer.
type ServerOptions struct {
	RateLimiter         ratelimit.Limiter
	AuditLogger         audit.Logger
	AuditExcludeMethods []string
	KeyExtractor        ratelimit.KeyExtractor
}

// NewWithOptions создаёт сервер с дополнительными опциями
func NewWithOptions(cfg *config.Config, opts *ServerOptions) *GRPCServer {
	if opts == nil {
		opts = &ServerOptions{}
	}

	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.GRPC.KeepAlive.MaxConnectionIdle,
		MaxConnectionAge:      cfg.GRPC.KeepAlive.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.GRPC.KeepAlive.MaxConnectionAgeGrace,
		Time:                  cfg.GRPC.KeepAlive.Time,
		Timeout:               cfg.GRPC.KeepAlive.Timeout,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	rateLimiter := opts.RateLimiter
	if rateLimiter == nil && cfg.RateLimit.Enabled {
		var err error
		rateLimiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Log.Warn("Failed to create rate limiter, continuing without it", "error", err)
			rateLimiter = nil
		} else {
			logger.Log.Info("Rate limiter initialized",
				"requests", cfg.RateLimit.Requests,
				"window", cfg.RateLimit.Window,
				"strategy", cfg.RateLimit.Strategy,
			)
		}
	}

	auditLogger := opts.AuditLogger
	if auditLogger == nil && cfg.Audit.Enabled {
		var err error
		auditLogger, err = audit.New(&audit.Config{
			Enabled:         cfg.Audit.Enabled,
			Backend:         cfg.Audit.Backend,
			FilePath:        cfg.Audit.FilePath,
			BufferSize:      cfg.Audit.BufferSize,
			FlushPeriod:     cfg.Audit.FlushPeriod,
			ExcludeMethods:  cfg.Audit.ExcludeMethods,
			IncludeRequest:  cfg.Audit.IncludeRequest,
			IncludeResponse: cfg.Audit.IncludeResponse,
		})
		if err != nil {
			logger.Log.Warn("Failed to create audit logger, continuing without it", "error", err)
			auditLogger = nil
		} else {
			audit.SetGlobal(auditLogger)
			logger.Log.Info("Audit logger initialized", "backend", cfg.Audit.Backend)
		}
	}

	auditExclude := make(map[string]bool)
	for _, method := range opts.AuditExcludeMethods {
		auditExclude[method] = true
	}
	for _, method := range cfg.Audit.ExcludeMethods {
		auditExclude[method] = true
	}
	auditExclude["/grpc.health.v1.Health/Check"] = true
	auditExclude["/grpc.health.v1.Health/Watch"] = true

	interceptorCfg := &interceptors.ServerConfig{
		ServiceName:   cfg.Service.Module,
		EnableTracing: cfg.Tracing.Enabled,
		EnableAudit:   cfg.Audit.Enabled && auditLogger != nil,
		RateLimiter:   rateLimiter,
		AuditLogger:   auditLogger,
		AuditExclude:  auditExclude,
		KeyExtractor:  opts.KeyExtractor,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentConn)),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptors(interceptorCfg)),
		grpc.StreamInterceptor(interceptors.StreamServerInterceptors(interceptorCfg)),
	}

	if cfg.GRPC.TLS.Enabled {
		logger.Log.Warn("TLS is enabled but not implemented yet")
	}

	s := grpc.NewServer(serverOpts...)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if !cfg.IsProd() {
		reflection.Register(s)
		logger.Log.Debug("gRPC reflection enabled")
	}

	return &GRPCServer{
		server:         s,
		health:         h,
		serviceName:    cfg.Service.Module,
		config:         cfg,
		rateLimiter:    rateLimiter,
		auditLogger:    auditLogger,
		stopCh:         make(chan struct{}),
		clients:        make(map[string]any),
		clientRegistry: make(map[string]clientRegistration),
	}
}

// GetEngine возвращает *grpc.Server для регистрации сервисов
func (s *GRPCServer) GetEngine() *grpc.Server {
	return s.server
}

// GetAuditLogger возвращает audit logger
func (s *GRPCServer) GetAuditLogger() audit.Logger {
	return s.auditLogger
}

// Run запускает сервер
func (s *GRPCServer) Run() error {
	ctx := context.Background()

	if s.config.Tracing.Enabled {
		tp, err := telemetry.Init(ctx, telemetry.Config{
			Enabled:     s.config.Tracing.Enabled,
			Endpoint:    s.config.Tracing.Endpoint,
			ServiceName: s.config.Tracing.ServiceName,
			Version:     version,
			Environment: s.config.Service.Level,
			SampleRate:  s.config.Tracing.SampleRate,
		})
		if err != nil {
			logger.Log.Warn("Failed to init telemetry", "error", err)
		} else {
			s.telemetry = tp
			logger.Log.Info("Telemetry initialized",
				"endpoint", s.config.Tracing.Endpoint,
				"sample_rate", s.config.Tracing.SampleRate,
			)
		}
	}

	if s.config.Metrics.Enabled {
		go func() {
			logger.Log.Info("Starting metrics server",
				"port", s.config.Metrics.Port,
				"path", s.config.Metrics.Path,
			)
			if err := metrics.StartMetricsServer(s.config.Metrics.Port); err != nil {
				logger.Log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	if s.config.Swagger.Enabled {
		go func() {
			// TODO: populate from the reflection engine's descriptor snapshot
			// once a module registers over the reflection client (C11), instead
			// of this placeholder spec.
			spec := []byte(`{"openapi":"3.0.0","info":{"title":"` + s.config.Swagger.Title + `"}}`)

			swaggerCfg := &swagger.Config{
				Title:    s.config.Swagger.Title,
				BasePath: "/swagger",
			}

			server := swagger.NewServer(swaggerCfg, spec)
			if err := server.Start(s.config.Swagger.Port); err != nil {
				logger.Log.Error("Swagger server failed", "error", err)
			}
		}()
		logger.Log.Info("Swagger UI started", "port", s.config.Swagger.Port)
	}

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.Service.BindPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)

	go func() {
		logger.Log.Info("Starting gRPC server",
			"service", s.serviceName,
			"port", s.config.Service.BindPort,
			"level", s.config.Service.Level,
			"version", version,
		)
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	if m := metrics.Get(); m != nil {
		m.SetServiceInfo(version, s.config.Service.Level)
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Start").
			Action(audit.ActionCreate).
			Outcome(audit.OutcomeSuccess).
			Meta("port", s.config.Service.BindPort).
			Meta("version", version).
			Meta("level", s.config.Service.Level).
			Build()
		if err := s.auditLogger.Log(ctx, entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	return s.waitForShutdown(errCh)
}

func (s *GRPCServer) waitForShutdown(errCh chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-errCh:
		s.broadcastStop()
		return err
	case sig := <-quit:
		logger.Log.Info("Received shutdown signal", "signal", sig)
		s.broadcastStop()
	}

	if s.auditLogger != nil {
		entry := audit.NewEntry().
			Service(s.serviceName).
			Method("server.Shutdown").
			Action(audit.ActionUpdate).
			Outcome(audit.OutcomeSuccess).
			Meta("reason", "signal").
			Build()
		if err := s.auditLogger.Log(context.Background(), entry); err != nil {
			logger.Log.Warn("Failed to log audit entry", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			logger.Log.Warn("Failed to shutdown telemetry", "error", err)
		}
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Close(); err != nil {
			logger.Log.Warn("Failed to close rate limiter", "error", err)
		}
	}

	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			logger.Log.Warn("Failed to close audit logger", "error", err)
		}
	}

	time.Sleep(2 * time.Second)

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Server stopped gracefully")
	case <-ctx.Done():
		logger.Log.Warn("Forcing server stop")
		s.server.Stop()
	}

	return nil
}

// SetServingStatus sets the health check status reported for this service.
func (s *GRPCServer) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// Stop stops the server immediately.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

// GracefulStop stops the server, letting in-flight RPCs finish.
func (s *GRPCServer) GracefulStop() {
	s.server.GracefulStop()
}

// WaitStopSignal returns a channel that closes once shutdown has begun.
// The pool built by Channel stops its watchers on it, and any other child
// task can select on it as well. The registrar does not use it: it watches
// OS signals itself.
func (s *GRPCServer) WaitStopSignal() <-chan struct{} {
	s.stopSubMu.Lock()
	defer s.stopSubMu.Unlock()

	select {
	case <-s.stopCh:
		closed := make(chan struct{})
		close(closed)
		return closed
	default:
	}

	sub := make(chan struct{})
	s.stopSubs = append(s.stopSubs, sub)
	return sub
}

// broadcastStop closes the shutdown channel and every subscriber registered
// through WaitStopSignal, exactly once.
func (s *GRPCServer) broadcastStop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.stopSubMu.Lock()
		defer s.stopSubMu.Unlock()
		for _, sub := range s.stopSubs {
			close(sub)
		}
		s.stopSubs = nil
	})
}

// Channel returns the shared, load-balanced channel to module, creating the
// discovery-driven pool on first use and tearing its watchers down when
// shutdown is broadcast.
func (s *GRPCServer) Channel(module string) (*grpc.ClientConn, error) {
	s.poolOnce.Do(func() {
		s.pool = pool.New(discovery.New(s.config.Discovery), s.config.Discovery.TTL, s.WaitStopSignal())
	})
	return s.pool.Channel(module)
}

// RegisterClient declares how to build a typed client T: which module it
// dials and how to wrap the resulting channel. Call once per type, usually
// from an init-time registration block in the service that owns the stub.
func RegisterClient[T any](s *GRPCServer, module string, constructor func(*grpc.ClientConn) T) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	s.clientRegistry[clientKey[T]()] = clientRegistration{
		module: module,
		constructor: func(cc *grpc.ClientConn) any {
			return constructor(cc)
		},
	}
}

// Client returns the shared typed client for T, constructing and caching it
// against the module's pooled channel on first use. T must have been
// registered with RegisterClient first.
func Client[T any](s *GRPCServer) (T, error) {
	var zero T
	key := clientKey[T]()

	s.clientMu.Lock()
	if cached, ok := s.clients[key]; ok {
		s.clientMu.Unlock()
		return cached.(T), nil
	}
	reg, ok := s.clientRegistry[key]
	s.clientMu.Unlock()
	if !ok {
		return zero, fmt.Errorf("server: no client registered for %s", key)
	}

	cc, err := s.Channel(reg.module)
	if err != nil {
		return zero, err
	}
	client := reg.constructor(cc)

	s.clientMu.Lock()
	s.clients[key] = client
	s.clientMu.Unlock()

	return client.(T), nil
}

// clientKey identifies T by its reflect.Type, taken through *T so that
// interface-typed stubs (the common case for generated gRPC clients) key
// correctly instead of collapsing to a nil interface's zero value.
func clientKey[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
