// Команда psp-core запускает ядро: хранилище событий, раздачу событий вебхукам,
// планировщик доставок и служебный HTTP (health, metrics).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/akriventsev/psp-core/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	if err := a.start(ctx); err != nil {
		a.close(context.Background())
		log.Fatalf("Failed to start: %v", err)
	}
	log.Printf("psp-core started (store=%s, publisher=%s, http=%s)", cfg.Store.Driver, cfg.Publisher.Driver, cfg.HTTPAddr)

	<-ctx.Done()
	log.Println("Shutting down...")
	a.close(context.Background())
}
