// Command kvbridge-admin opens a kvbridge engine, runs the MySQL mirror and
// serves a read-mostly admin API over its catalog and open tables.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rzpsarthak13/kvbridge/pkg/kvbridge"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file (default: KVBRIDGE_* environment)")
	listen := flag.String("listen", "", "admin listen address (overrides admin.listen_address)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("[ADMIN] Opening engine...")
	engine, err := kvbridge.NewEngineFromFile(ctx, *configPath)
	if err != nil {
		log.Fatalf("[ADMIN] Failed to open engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("[ADMIN] WARNING: error closing engine: %v", err)
		}
	}()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("[ADMIN] Failed to start mirror: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	newServer(engine).RegisterRoutes(r)

	addr := engine.AdminAddress()
	if *listen != "" {
		addr = *listen
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("[ADMIN] Listening on %s", addr)
		log.Println("[ADMIN]   GET  /healthz")
		log.Println("[ADMIN]   GET  /shares")
		log.Println("[ADMIN]   GET  /tables/{name}[?format=yaml]")
		log.Println("[ADMIN]   GET  /tables/{name}/stats")
		log.Println("[ADMIN]   POST /tables/import")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[ADMIN] Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[ADMIN] Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ADMIN] WARNING: server shutdown failed: %v", err)
	}
	if err := engine.Stop(); err != nil {
		log.Printf("[ADMIN] WARNING: error stopping mirror: %v", err)
	}
	log.Println("[ADMIN] Stopped")
}
