package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openapim/devportal/internal/app/runtime"
	"github.com/openapim/devportal/internal/config"
	"github.com/openapim/devportal/pkg/logger"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	log := logger.NewDefault("devportal")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	app, err := runtime.New(cfg)
	if err != nil {
		log.WithError(err).Error("could not assemble application")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}
