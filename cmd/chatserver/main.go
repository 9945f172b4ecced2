// Package main provides the chat server binary. It serves the control
// channel, the file-transfer data channel and the admin gRPC endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/admin"
	"github.com/cory-johannsen/parley/internal/audit"
	"github.com/cory-johannsen/parley/internal/config"
	"github.com/cory-johannsen/parley/internal/frontend/handlers"
	"github.com/cory-johannsen/parley/internal/frontend/tcp"
	"github.com/cory-johannsen/parley/internal/heartbeat"
	"github.com/cory-johannsen/parley/internal/observability"
	"github.com/cory-johannsen/parley/internal/rps"
	"github.com/cory-johannsen/parley/internal/server"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/storage/postgres"
	"github.com/cory-johannsen/parley/internal/transfer"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			log.Fatalf("rendering config: %v", err)
		}
		fmt.Fprint(os.Stdout, out)
		return
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chat server",
		zap.String("version", cfg.Server.Version),
		zap.String("control_addr", cfg.Control.Addr()),
		zap.String("transfer_addr", cfg.Transfer.Addr()),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	// Audit trail
	recorder := audit.Multi{audit.NewLogRecorder(logger.Named("audit"))}
	var pool *postgres.Pool
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		queue := audit.NewQueue(postgres.NewEventRepository(pool.DB()), 1024, 5*time.Second, logger)
		recorder = append(recorder, queue)
		lifecycle.Add("audit-db", &server.FuncService{
			StartFn: func() error {
				queue.Run()
				return nil
			},
			StopFn: func() {
				drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				if err := queue.Close(drainCtx); err != nil {
					logger.Warn("audit queue not drained", zap.Error(err))
				}
				pool.LogStats(logger)
				pool.Close()
			},
		})
	}

	// Core
	registry := session.NewRegistry(logger)
	var beats *heartbeat.Service
	if cfg.Heartbeat.Enabled {
		beats = heartbeat.NewService(cfg.Heartbeat.Interval, cfg.Heartbeat.PongTimeout, registry.Unregister, logger)
		registry.AddListener(beats)
	}
	games := rps.NewEngine(registry, cfg.Game.ChoiceTimeout, recorder, logger)
	registry.AddListener(games)
	transfers := transfer.NewEngine(registry, cfg.Transfer.RequestTimeout, cfg.Transfer.BufferSize, recorder, logger)
	registry.AddListener(transfers)

	// Listeners
	control := tcp.NewAcceptor("control", cfg.Control.Addr(),
		handlers.NewControlHandler(cfg.Server.Version, cfg.Control, registry, beats, games, transfers, recorder, logger),
		logger)
	data := tcp.NewAcceptor("transfer", cfg.Transfer.Addr(),
		handlers.NewDataHandler(transfers, cfg.Transfer.HandshakeTimeout, logger),
		logger)

	lifecycle.Add("control", &server.FuncService{
		StartFn: control.ListenAndServe,
		StopFn: func() {
			control.Stop()
			if beats != nil {
				beats.StopAll()
			}
		},
	})
	lifecycle.Add("transfer", &server.FuncService{
		StartFn: data.ListenAndServe,
		StopFn:  data.Stop,
	})

	if cfg.Admin.Enabled {
		adminSrv := admin.NewServer(cfg.Admin.Addr(), logger)
		if pool != nil {
			adminSrv.Watch(admin.AuditService, 30*time.Second, pool.Probe(5*time.Second))
		}
		go func() {
			<-control.Ready()
			adminSrv.SetServing(true)
		}()
		lifecycle.OnShutdown(func() { adminSrv.SetServing(false) })
		lifecycle.Add("admin", &server.FuncService{
			StartFn: adminSrv.Start,
			StopFn:  adminSrv.Stop,
		})
	}

	logger.Info("chat server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
