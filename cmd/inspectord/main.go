// Package main runs the device-local inspection daemon: it owns the
// durable offline queue, drains it against the backend when connectivity
// allows, and serves the REST/WebSocket API the inspector UI uses.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/propcare/inspector/cmd/inspectord/handlers"
	"github.com/propcare/inspector/internal/db"
	"github.com/propcare/inspector/internal/events"
	"github.com/propcare/inspector/internal/inspection"
	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	"github.com/propcare/inspector/internal/netmon"
	"github.com/propcare/inspector/internal/photo"
	"github.com/propcare/inspector/internal/remote"
	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
	"github.com/propcare/inspector/internal/sync/scheduler"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logging.Init(os.Stdout, cfg.LogLevel)

	if err := run(cfg); err != nil {
		logging.Error("Daemon exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Initialize(); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return err
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	q := queue.New(repo, cfg.GraceInterval)
	client := remote.New(cfg.BackendURL, cfg.APIToken, cfg.DeviceID)
	monitor := netmon.New(true)

	engine := syncengine.NewEngine(q, client)
	engine.SetOnlineSink(monitor)

	tracker := inspection.NewTracker(q, client, monitor)
	hub := events.NewHub()
	defer hub.Close()
	engine.SetBroadcaster(broadcasters{hub, tracker})

	pipeline, err := photo.New(q, client, cfg.DataDir)
	if err != nil {
		return err
	}

	sched := scheduler.New(engine, q, monitor, &scheduler.Config{
		SyncInterval:  cfg.SyncInterval,
		SweepInterval: time.Minute,
	})
	sched.Start(ctx)
	defer sched.Stop()

	go monitor.RunProbe(ctx, client.Ping, cfg.ProbeInterval)

	mux := http.NewServeMux()
	handlers.NewInspectionHandler(q, engine, tracker, hub).Register(mux)
	handlers.NewPhotoHandler(pipeline, q, tracker, hub).Register(mux)
	mux.HandleFunc("GET /ws", hub.Handler())
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"inspectord"}`))
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Inspector daemon listening", map[string]interface{}{
			"addr":     cfg.ListenAddr,
			"data_dir": cfg.DataDir,
			"backend":  cfg.BackendURL,
		})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown was not clean", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logging.Info("Inspector daemon stopped")
	return nil
}

// broadcasters fans engine events out to every interested sink: the
// WebSocket hub for the UI and the tracker for posture bookkeeping.
type broadcasters []syncengine.Broadcaster

func (b broadcasters) SyncStarted(id models.UUID, pending int) {
	for _, s := range b {
		s.SyncStarted(id, pending)
	}
}

func (b broadcasters) SyncProgress(id models.UUID, done, total int, currentItem string) {
	for _, s := range b {
		s.SyncProgress(id, done, total, currentItem)
	}
}

func (b broadcasters) SyncCompleted(id models.UUID, result *syncengine.SyncResult) {
	for _, s := range b {
		s.SyncCompleted(id, result)
	}
}

func (b broadcasters) SyncFailed(id models.UUID, err error) {
	for _, s := range b {
		s.SyncFailed(id, err)
	}
}
