// Command idsvr hosts the C7 ID allocator: the segmented counter backed by
// the biz_ids table, and the snowflake sequencer, behind one gRPC surface.
package main

import (
	"context"
	"fmt"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/database"
	"github.com/kadds/job-judge/pkg/idgen"
	"github.com/kadds/job-judge/pkg/logger"
	"github.com/kadds/job-judge/pkg/registrar"
	"github.com/kadds/job-judge/pkg/server"
)

func main() {
	cfg, err := config.LoadWithServiceDefaults("idsvr", 11101)
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

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	segments := idgen.NewSegmentAllocator(database.NewBizIDStore(db))
	snowflake := idgen.NewSnowflake(int64(cfg.Service.Replica))

	logger.Log.Info("idsvr allocators ready", "replica", cfg.Service.Replica)
	// A generated idv1.IDServiceServer would be registered on srv.GetEngine()
	// here, dispatching create_id to segments.CreateID and create_seq to
	// snowflake.CreateSeq; no generated stub exists in this tree yet.
	_ = segments
	_ = snowflake

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

	logger.Info("starting idsvr", "port", cfg.Service.BindPort, "address", address)
	if err := srv.Run(); err != nil {
		logger.Fatal("server failed", "error", err)
	}
}
