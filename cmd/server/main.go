package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rfletcher/intelforge/internal/app"
	"github.com/rfletcher/intelforge/internal/config"
	"github.com/rfletcher/intelforge/internal/logging"
)

func main() {
	cfg := config.Load()

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level))

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.Error("Startup failed", logging.WithField("error", err.Error()))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Run(context.Background())
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", logging.WithField("signal", sig.String()))
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", logging.WithField("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", logging.WithField("error", err.Error()))
		os.Exit(1)
	}
}
