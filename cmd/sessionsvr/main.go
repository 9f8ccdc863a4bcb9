// Command sessionsvr hosts C8: signed session tokens with a cache-backed
// revocation set, behind one gRPC surface.
package main

import (
	"context"
	"fmt"

	"github.com/kadds/job-judge/pkg/cache"
	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
	"github.com/kadds/job-judge/pkg/session"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("sessionsvr", 11102)
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

	ctx := context.Background()

	revocations, err := cache.New(cache.FromConfig(&cfg.Cache))
	if err != nil {
		logger.Fatal("failed to open revocation set cache", "error", err)
	}
	defer revocations.Close()

	if cfg.Session.Key == "" {
		logger.Fatal("session.key must be set")
	}
	manager := session.New(cfg.Session.Key, revocations)

	logger.Log.Info("session manager ready")
	// A generated sessionv1.SessionServiceServer would dispatch create/get/
	// delay/invalid to manager here; no generated stub exists in this tree
	// yet, so the manager is constructed and held ready for that wiring.
	_ = manager

	srv := server.New(cfg)

	reg, err := registrar.New(ctx, cfg.Registrar)
	if err != nil {
		logger.Fatal("failed to connect to coordination store", "error", err)
	}
	address := fmt.Sprintf("%s:%d", cfg.Service.IP, cfg.Service.AdvertisedPort())
	if err := reg.Register(ctx, cfg.Service.Module, cfg.Service.Name, address); err != nil {
		logger.Fatal("failed to register instance", "error", err)
	}
	defer reg.Close()

	logger.Info("starting sessionsvr", "port", cfg.Service.BindPort, "address", address)
	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
