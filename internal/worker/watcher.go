package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"kasse/internal/core"
	"kasse/internal/log"
	"kasse/internal/metrics"
	"kasse/internal/notify"
)

// RefreshFunc re-reads whatever the watcher's owner displays. Returning an
// error wrapping core.ErrNotFound stops the watcher; other errors are logged
// and the next trigger tries again.
type RefreshFunc func(ctx context.Context, trigger string) error

// WatcherConfig holds configuration for a Watcher
type WatcherConfig struct {
	// Interval is the polling period (default: 2s)
	Interval time.Duration

	// OnLost is called when a refresh reports core.ErrNotFound and the
	// watcher stops itself. Stop and Start wait for it to return, so it must
	// not call either.
	OnLost func(err error)
}

// DefaultWatcherConfig returns sensible defaults
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{Interval: 2 * time.Second}
}

// Watcher drives one refresh function from two triggers: change signals and
// a ticker. The ticker covers signals lost by the transport and writers that
// never publish.
type Watcher struct {
	notifier notify.Notifier
	config   WatcherConfig
	logger   *log.Logger

	lifecycle sync.Mutex // serializes Start and Stop

	mu      sync.Mutex
	current *run
}

type run struct {
	cancel    context.CancelFunc
	done      chan struct{}
	stopping  atomic.Bool
	refreshMu sync.Mutex
}

// NewWatcher creates a watcher. notifier may be nil for poll-only operation.
func NewWatcher(notifier notify.Notifier, config WatcherConfig) *Watcher {
	if config.Interval <= 0 {
		config.Interval = DefaultWatcherConfig().Interval
	}
	return &Watcher{
		notifier: notifier,
		config:   config,
		logger:   log.Default(log.ComponentWatcher),
	}
}

// Start begins calling refresh on every trigger. A watcher that is already
// running is stopped first, so at most one refresh loop exists per Watcher.
func (w *Watcher) Start(ctx context.Context, refresh RefreshFunc) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	w.stop()

	runCtx, cancel := context.WithCancel(ctx)
	var sub *notify.Subscription
	if w.notifier != nil {
		var err error
		sub, err = w.notifier.Subscribe(runCtx)
		if err != nil {
			// polling still works without change signals
			w.logger.WarnContext(ctx, "Subscribe failed, polling only", log.FieldError, err)
			sub = nil
		}
	}

	r := &run{cancel: cancel, done: make(chan struct{})}
	w.mu.Lock()
	w.current = r
	w.mu.Unlock()

	metrics.ActiveWatchers.Inc()
	go w.loop(runCtx, r, sub, refresh)

	w.logger.DebugContext(ctx, "Watcher started", "interval", w.config.Interval, "events", sub != nil)
	return nil
}

// Stop cancels the running loop and waits for it to exit. It must not be
// called from inside a RefreshFunc.
func (w *Watcher) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	w.stop()
}

func (w *Watcher) stop() {
	w.mu.Lock()
	r := w.current
	w.mu.Unlock()
	if r == nil {
		return
	}
	r.stopping.Store(true)
	r.cancel()
	<-r.done
}

// IsRunning returns whether a refresh loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil
}

func (w *Watcher) loop(ctx context.Context, r *run, sub *notify.Subscription, refresh RefreshFunc) {
	g, gctx := errgroup.WithContext(ctx)

	if sub != nil {
		g.Go(func() error {
			defer sub.Close()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-sub.Done():
					w.logger.WarnContext(gctx, "Change signals stopped, polling only")
					return nil
				case <-sub.C():
					if err := w.refresh(gctx, r, refresh, metrics.TriggerEvent); err != nil {
						return err
					}
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := w.refresh(gctx, r, refresh, metrics.TriggerPoll); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	r.cancel()

	// runs before done closes: Stop and Start return only after OnLost
	if err != nil && !r.stopping.Load() {
		w.logger.Info("Watched fund is gone, watcher stopped", log.FieldError, err)
		if w.config.OnLost != nil {
			w.config.OnLost(err)
		}
	}

	w.mu.Lock()
	if w.current == r {
		w.current = nil
	}
	w.mu.Unlock()

	metrics.ActiveWatchers.Dec()
	close(r.done)
}

// refresh serializes the two triggers so refresh never runs concurrently with
// itself.
func (w *Watcher) refresh(ctx context.Context, r *run, refresh RefreshFunc, trigger string) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	metrics.Refreshes.WithLabelValues(trigger).Inc()

	err := refresh(ctx, trigger)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrNotFound):
		return err
	case ctx.Err() != nil:
		return nil
	default:
		w.logger.WarnContext(ctx, "Refresh failed", log.FieldTrigger, trigger, log.FieldError, err)
		return nil
	}
}
