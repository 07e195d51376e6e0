// Package ttl runs the background sweep that deletes expired items.
package ttl

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger deletes every expired item it holds and reports how many.
type Purger interface {
	PurgeAllExpired(ctx context.Context) (int, error)
}

// Worker calls a Purger on a fixed interval until stopped.
type Worker struct {
	purger   Purger
	interval time.Duration
	logger   *slog.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker. It does nothing until Start.
func NewWorker(purger Purger, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		purger:   purger,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (w *Worker) Start() {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.sweep()
			case <-w.stopCh:
				return
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep. Calling it more
// than once is safe; Stop without Start must not be called.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.done
}

func (w *Worker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	n, err := w.purger.PurgeAllExpired(ctx)
	if err != nil {
		w.logger.Error("ttl sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("ttl sweep", "deleted", n)
	}
}
