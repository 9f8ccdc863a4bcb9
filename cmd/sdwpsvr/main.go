// Command sdwpsvr is the introspection server: it hosts C11 over plain JSON
// HTTP, discovering services, RPCs, and message schemas on any module
// reachable through the mesh, and invoking one RPC dynamically by encoding
// its request/response as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/httpbridge"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/reflectengine"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("sdwpsvr", 11109)
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

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/introspect/{module}/services", listServicesHandler(srv))
	mux.HandleFunc("/introspect/{module}/{service}/rpcs", listRPCsHandler(srv))
	mux.HandleFunc("/introspect/{module}/{service}/{method}", rpcInfoHandler(srv))
	mux.HandleFunc("/invoke/{module}/{service}/{method}", invokeHandler(srv))

	var handler http.Handler = httpbridge.AccessLogMiddleware(mux)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Log.Info("sdwpsvr listening", "port", cfg.HTTP.Port)
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

	logger.Log.Info("sdwpsvr shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("http server shutdown error", "error", err)
	}
}

// engineFor dials the module named in the request path and wraps the
// resulting channel in a reflectengine.Engine; the pooled channel is shared
// and must not be closed here.
func engineFor(srv *server.GRPCServer, r *http.Request) (*reflectengine.Engine, error) {
	conn, err := srv.Channel(r.PathValue("module"))
	if err != nil {
		return nil, err
	}
	return reflectengine.New(conn), nil
}

func listServicesHandler(srv *server.GRPCServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := engineFor(srv, r)
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		services, err := eng.ListServices(r.Context())
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		writeJSON(w, services)
	}
}

func listRPCsHandler(srv *server.GRPCServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := engineFor(srv, r)
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		rpcs, err := eng.ListRPCs(r.Context(), r.PathValue("service"))
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		writeJSON(w, rpcs)
	}
}

func rpcInfoHandler(srv *server.GRPCServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := engineFor(srv, r)
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		info, err := eng.RPCInfo(r.Context(), r.PathValue("service"), r.PathValue("method"))
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		writeJSON(w, info)
	}
}

// invokeHandler reads the request body verbatim as the RPC's JSON request
// and writes the RPC's JSON response verbatim back, per the reflection
// engine's encode/decode contract.
func invokeHandler(srv *server.GRPCServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, err := engineFor(srv, r)
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		respJSON, err := eng.Invoke(ctx, r.PathValue("service"), r.PathValue("method"), string(body))
		if err != nil {
			httpbridge.WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(respJSON))
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
