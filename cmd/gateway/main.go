package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playground/internal/gateway/app"
	"playground/internal/logging"

	"go.uber.org/zap"
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	go func() {
		if err := a.Start(); err != nil {
			logging.L().Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		logging.L().Fatal("server forced to shutdown", zap.Error(err))
	}

	logging.L().Info("server exiting")
}
