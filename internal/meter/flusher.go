package meter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/driveledger/internal/retry"
)

// Flusher periodically checkpoints dirty counters to a Store.
type Flusher struct {
	meter    *Meter
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewFlusher creates a checkpoint worker. A non-positive interval falls back
// to 30 seconds.
func NewFlusher(m *Meter, store Store, interval time.Duration, logger *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		meter:    m,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the flush loop is active.
func (f *Flusher) Running() bool {
	return f.running.Load()
}

// Start runs the flush loop until ctx ends or Stop is called. Call in a
// goroutine. A final flush runs on the way out.
func (f *Flusher) Start(ctx context.Context) {
	f.running.Store(true)
	defer f.running.Store(false)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.finalFlush()
			return
		case <-f.stop:
			f.finalFlush()
			return
		case <-ticker.C:
			f.safeFlush(ctx)
		}
	}
}

// Stop signals the flush loop to exit.
func (f *Flusher) Stop() {
	select {
	case f.stop <- struct{}{}:
	default:
	}
}

// Flush writes every dirty pair now. Pairs that fail to save stay dirty.
func (f *Flusher) Flush(ctx context.Context) error {
	dirty := f.meter.TakeDirty()
	if len(dirty) == 0 {
		return nil
	}
	if err := f.store.Save(ctx, dirty); err != nil {
		f.meter.MarkDirty(dirty)
		return err
	}
	checkpointedPairs.Add(float64(len(dirty)))
	f.logger.Debug("transfer counters checkpointed", "pairs", len(dirty))
	return nil
}

// finalFlush retries so a transient store error at shutdown does not lose
// the last interval of counters.
func (f *Flusher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in final counter flush", "panic", fmt.Sprint(r))
		}
	}()
	if err := retry.Checkpoint.Named("final checkpoint", f.logger).Do(ctx, f.Flush); err != nil {
		f.logger.Error("final checkpoint failed", "error", err)
	}
}

func (f *Flusher) safeFlush(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("panic in counter flusher", "panic", fmt.Sprint(r))
		}
	}()
	if err := f.Flush(ctx); err != nil {
		f.logger.Warn("failed to checkpoint transfer counters", "error", err)
	}
}
