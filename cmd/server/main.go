// Package main is the entry point for the mendbox MCP server.
//
// Mendbox is a self-healing code execution engine exposed over the Model
// Context Protocol (MCP). Code is screened by a security gate, executed on
// one of three backends (container, local subprocess, remote sandbox API),
// and failing code can be repaired through a bounded debug loop driven by an
// external code producer.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tverin/mendbox/config"
	"github.com/tverin/mendbox/languages"
	"github.com/tverin/mendbox/logger"
	"github.com/tverin/mendbox/mcpserver"
	"github.com/tverin/mendbox/orchestrator"
	"github.com/tverin/mendbox/producer"
	"github.com/tverin/mendbox/repair"
	"github.com/tverin/mendbox/security"
)

func newGate(cfg *config.Config, log *zap.Logger) *security.Gate {
	return security.NewGate(log, cfg.Security.MaxCodeLength)
}

func newProducer(cfg *config.Config, log *zap.Logger) *producer.Client {
	return producer.NewClient(log, cfg.Producer.BaseURL, cfg.Producer.APIKey,
		cfg.Producer.Model, time.Duration(cfg.Producer.TimeoutSec)*time.Second)
}

func newOrchestrator(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, registry *languages.Registry, gate *security.Gate) *orchestrator.Orchestrator {
	o := orchestrator.New(log, cfg, registry, gate)
	lc.Append(fx.Hook{
		// Tears down the reusable remote workspace, if one was created.
		OnStop: func(ctx context.Context) error {
			return o.Shutdown(ctx)
		},
	})
	return o
}

func newDebugger(log *zap.Logger, cfg *config.Config, client *producer.Client, o *orchestrator.Orchestrator) *repair.Debugger {
	return repair.NewDebugger(log, client, o, cfg.Repair.MaxAttempts)
}

func newServer(cfg *config.Config, log *zap.Logger, registry *languages.Registry, gate *security.Gate, o *orchestrator.Orchestrator, d *repair.Debugger, client *producer.Client) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, registry, gate, o, d, client)
}

func main() {
	// Credentials such as SANDBOX_API_KEY and OPENAI_API_KEY may live in a
	// local .env file. A missing file is fine.
	_ = godotenv.Load()

	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			languages.NewRegistry,
			newGate,
			newProducer,
			newOrchestrator,
			newDebugger,
			newServer,
		),

		// Start the appropriate transport based on config.
		fx.Invoke(
			func(cfg *config.Config, srv *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					go func() {
						if err := srv.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := srv.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs.
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}
