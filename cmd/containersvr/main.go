// Command containersvr hosts C9 (container template resolution) and C10
// (the containerd startup workflow), plus the supervised reconciliation
// loop that watches the containerd connection for the life of the process.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/containercfg"
	"github.com/kadds/job-judge/pkg/containerwork"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
)

const containerdSocket = "/run/containerd/containerd.sock"

func main() {
	cfg, err := config.LoadWithServiceDefaults("containersvr", 11103)
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

	if cfg.Container.ConfigFile == "" {
		logger.Fatal("container.config_file must be set")
	}
	templates, err := containercfg.Load(cfg.Container.ConfigFile)
	if err != nil {
		logger.Fatal("failed to load container templates", "error", err)
	}

	wf, err := containerwork.New(containerdSocket)
	if err != nil {
		logger.Fatal("failed to connect to containerd", "error", err)
	}
	defer wf.Close()

	daemon := containerwork.NewDaemon(wf, 30*time.Second)
	daemonCtx, cancelDaemon := context.WithCancel(ctx)
	go daemon.Run(daemonCtx)
	defer cancelDaemon()

	logger.Log.Info("container workflow ready")
	// A generated containerv1.ContainerServiceServer would dispatch startup
	// to wf.Startup using a template resolved by templates.Resolve; no
	// generated stub exists in this tree yet.
	_ = templates

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

	logger.Info("starting containersvr", "port", cfg.Service.BindPort, "address", address)
	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
	daemon.Stop()
}
