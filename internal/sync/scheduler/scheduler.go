// Package scheduler runs background drains: immediately when connectivity
// returns, periodically as a safety net, plus the sweep of synced rows.
package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/propcare/inspector/internal/logging"
	"github.com/propcare/inspector/internal/models"
	syncengine "github.com/propcare/inspector/internal/sync"
	"github.com/propcare/inspector/internal/sync/queue"
)

// Engine is the drain entry point the scheduler calls.
type Engine interface {
	SyncNow(ctx context.Context, inspectionID models.UUID) (*syncengine.SyncResult, error)
}

// Connectivity is the monitor surface the scheduler watches.
type Connectivity interface {
	IsOnline() bool
	Subscribe() (<-chan bool, func())
}

// Config holds scheduler intervals.
type Config struct {
	SyncInterval  time.Duration // periodic re-drain when online (default: 5 minutes)
	SweepInterval time.Duration // synced-row sweep cadence (default: 1 minute)
}

// DefaultConfig returns the default scheduler intervals.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:  5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Scheduler owns the background goroutine. Start and Stop are safe to call
// once each; a stopped scheduler is not restartable.
type Scheduler struct {
	engine  Engine
	queue   *queue.Queue
	monitor Connectivity
	config  *Config

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Scheduler. A nil config uses the defaults.
func New(engine Engine, q *queue.Queue, monitor Connectivity, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:  engine,
		queue:   q,
		monitor: monitor,
		config:  config,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background loop. A second Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"sync_interval":  s.config.SyncInterval.String(),
		"sweep_interval": s.config.SweepInterval.String(),
	})
}

// Stop halts the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	logging.Info("Sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	transitions, cancel := s.monitor.Subscribe()
	defer cancel()

	syncTicker := time.NewTicker(s.config.SyncInterval)
	defer syncTicker.Stop()
	sweepTicker := time.NewTicker(s.config.SweepInterval)
	defer sweepTicker.Stop()

	// Pick up anything left over from before a restart.
	if s.monitor.IsOnline() {
		s.drainAll(ctx)
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case online := <-transitions:
			if online {
				logging.Info("Connectivity restored, draining queue")
				s.drainAll(ctx)
			}
		case <-syncTicker.C:
			if s.monitor.IsOnline() {
				s.drainAll(ctx)
			}
		case <-sweepTicker.C:
			s.sweep()
		}
	}
}

// drainAll syncs every inspection with unsynced entries. Failures are
// already recorded on the entries themselves; the next trigger retries.
func (s *Scheduler) drainAll(ctx context.Context) {
	ids, err := s.queue.PendingInspections()
	if err != nil {
		logging.Error("Failed to list inspections for background drain", err)
		return
	}

	for _, id := range ids {
		if _, err := s.engine.SyncNow(ctx, id); err != nil {
			logging.Error("Background drain failed", err, map[string]interface{}{
				"inspection_id": id.String(),
			})
		}
	}
}

// sweep drops synced rows past the grace interval and releases their files.
func (s *Scheduler) sweep() {
	paths, err := s.queue.Sweep()
	if err != nil {
		logging.Error("Queue sweep failed", err)
		return
	}
	for _, path := range paths {
		// A missing file is fine; the sweep may race a manual delete.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("Failed to remove swept photo file", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
}
