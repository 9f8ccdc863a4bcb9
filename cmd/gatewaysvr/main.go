// Command gatewaysvr hosts C6 (the HTTP/gRPC bridge) as the mesh's public
// edge: session-gated HTTP routes, rate limiting, and CORS in front of
// channels dialed into the rest of the mesh.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kadds/job-judge/pkg/cache"
	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/httpbridge"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/ratelimit"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
	"github.com/kadds/job-judge/pkg/session"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("gatewaysvr", 11107)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		TCPAddr:    cfg.Log.TCPAddr,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		QueueSize:  cfg.Log.QueueSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg)

	revocations, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Fatal("failed to open revocation set cache", "error", err)
	}
	defer revocations.Close()

	if cfg.Session.Key == "" {
		logger.Fatal("session.key must be set")
	}
	validator := session.New(cfg.Session.Key, revocations)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(&ratelimit.Config{
			Requests:        cfg.RateLimit.Requests,
			Window:          cfg.RateLimit.Window,
			Strategy:        cfg.RateLimit.Strategy,
			Backend:         cfg.RateLimit.Backend,
			BurstSize:       cfg.RateLimit.BurstSize,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			RedisAddr:       cfg.RateLimit.RedisAddr,
		})
		if err != nil {
			logger.Fatal("failed to build rate limiter", "error", err)
		}
		defer limiter.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/ready/{module}", readyHandler(srv))
	// The actual login/register/info routes and their SQL-backed handlers are
	// out of scope here; this mux only proves the bridge's cross-cutting
	// middleware chain (auth, rate limit, CORS) against whatever routes a
	// generated HTTP facade registers on it.

	var handler http.Handler = mux
	if limiter != nil {
		handler = rateLimitMiddleware(limiter)(handler)
	}
	handler = httpbridge.AuthMiddleware(validator, handler)
	handler = httpbridge.CORS(cfg.HTTP.CORS)(handler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Log.Info("gatewaysvr listening", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", "error", err)
		}
	}()

	reg, err := registrar.New(ctx, cfg.Registrar)
	if err != nil {
		logger.Fatal("failed to connect to coordination store", "error", err)
	}
	address := fmt.Sprintf("%s:%d", cfg.Service.IP, cfg.Service.AdvertisedPort())
	if err := reg.Register(ctx, cfg.Service.Module, cfg.Service.Name, address); err != nil {
		logger.Fatal("failed to register instance", "error", err)
	}
	defer reg.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("gatewaysvr shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("http server shutdown error", "error", err)
	}
}

// readyHandler asks the named module's pooled channel for a health check,
// proving the gateway can actually reach that part of the mesh.
func readyHandler(srv *server.GRPCServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		module := r.PathValue("module")
		conn, err := srv.Channel(module)
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ready":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ready":true}`))
	}
}

// rateLimitMiddleware gates each request by remote address before it reaches
// the mux, responding 429 with Retry-After once the limiter rejects it.
func rateLimitMiddleware(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), r.RemoteAddr)
			if err != nil {
				httpbridge.WriteError(w, err)
				return
			}
			if !ok {
				info, _ := limiter.GetInfo(r.Context(), r.RemoteAddr)
				if info != nil {
					w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(info.ResetAt).Seconds())))
				}
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
