package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"medtrack-compliance/internal/config"
	"medtrack-compliance/internal/logger"
	"medtrack-compliance/internal/service"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. Initialize logging
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "medtrack-compliance")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. Build the service
	svc, err := service.NewComplianceService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create compliance service",
			zap.Error(err),
		)
	}

	// 4. Run until a signal arrives
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start compliance service",
			zap.Error(err),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)

	cancel()
	if err := svc.Stop(); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}

	log.Info("Compliance service stopped")
}
