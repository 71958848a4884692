// Package main provides the local PhotoNest server for desktop
// platforms. The UI shell communicates via REST/WebSocket on localhost.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/minaksy/photonest/cmd/desktop/handlers"
	"github.com/minaksy/photonest/internal/config"
	"github.com/minaksy/photonest/internal/db"
	"github.com/minaksy/photonest/internal/facade"
	"github.com/minaksy/photonest/internal/logging"
	"github.com/minaksy/photonest/internal/remote"
)

func main() {
	logging.Init(os.Stdout, logging.LevelInfo)
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		logging.Error("Failed to open database", err,
			map[string]interface{}{"data_dir": cfg.DataDir})
		os.Exit(1)
	}
	defer database.Close()

	repo := db.NewRepository(database.DB)
	api := remote.NewClient(cfg.RemoteBaseURL, 15*time.Second)

	engine, err := facade.New(cfg, repo, api)
	if err != nil {
		logging.Error("Failed to build engine", err, nil)
		os.Exit(1)
	}
	engine.Start(ctx)
	defer engine.Stop()

	hub := newWSHub()
	unsubscribe := engine.SubscribeDiagnostics(hub.BroadcastEvent)
	defer unsubscribe()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	handlers.New(engine).Routes(r)
	r.Get("/ws", hub.ServeWS)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Info("PhotoNest desktop server starting",
			map[string]interface{}{"addr": cfg.ListenAddr, "remote": cfg.RemoteBaseURL})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Server failed", err, nil)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown incomplete",
			map[string]interface{}{"error": err.Error()})
	}
	logging.Info("PhotoNest desktop server stopped", nil)
}
