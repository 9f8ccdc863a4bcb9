// Command compilationsvr hosts the compilation shell invocations. The
// compile step itself is an external collaborator outside this library's
// scope; this main only wires the shared server lifecycle and registers
// the instance.
package main

import (
	"context"
	"fmt"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("compilationsvr", 11105)
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

	// A generated compilationv1.CompilationServiceServer wrapping the shell
	// invocation boundary would be registered on srv.GetEngine() here; no
	// generated stub exists in this tree yet.

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

	logger.Info("starting compilationsvr", "port", cfg.Service.BindPort, "address", address)
	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
