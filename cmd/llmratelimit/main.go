// Command llmratelimit starts the distributed rate limiter node.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"llmratelimit/internal/ratelimit/app"
	"llmratelimit/internal/ratelimit/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg, err := config.Load(os.Environ())
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		return 1
	}

	instance, err := app.NewApplication(cfg)
	if err != nil {
		log.Printf("failed to construct application: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := instance.Start(ctx); err != nil {
		log.Printf("failed to start application: %v", err)
		return 2
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout+5*time.Second)
	defer cancel()
	if err := instance.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down cleanly: %v", err)
		return 2
	}
	return 0
}
