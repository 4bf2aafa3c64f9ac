package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"outlook_mcp_server/config"
	"outlook_mcp_server/internal/bootstrap"
	"outlook_mcp_server/pkg/logger"
)

func main() {
	// Stdout carries the MCP protocol; the logger writes to stderr.
	logger.Init(logger.Config{
		Level:   os.Getenv("LOG_LEVEL"),
		Service: "outlook-mcp",
	})
	log := logger.Component("main")

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	app, cleanup, err := bootstrap.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Server.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}
