package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kasse/internal/core"
	"kasse/internal/notify"
)

// failingNotifier cannot subscribe.
type failingNotifier struct{}

func (failingNotifier) Publish(context.Context) error { return nil }
func (failingNotifier) Subscribe(context.Context) (*notify.Subscription, error) {
	return nil, errors.New("broker down")
}
func (failingNotifier) Close() error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultWatcherConfig(t *testing.T) {
	config := DefaultWatcherConfig()
	if config.Interval != 2*time.Second {
		t.Errorf("expected Interval 2s, got %v", config.Interval)
	}
}

func TestNewWatcher_ZeroIntervalUsesDefault(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{})
	if w.config.Interval != 2*time.Second {
		t.Errorf("expected default interval, got %v", w.config.Interval)
	}
}

func TestWatcher_IsRunning(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{Interval: time.Hour})
	if w.IsRunning() {
		t.Error("watcher should not be running initially")
	}

	if err := w.Start(context.Background(), func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !w.IsRunning() {
		t.Error("watcher should be running after Start")
	}

	w.Stop()
	if w.IsRunning() {
		t.Error("watcher should not be running after Stop")
	}
}

func TestWatcher_StopNotRunning(t *testing.T) {
	w := NewWatcher(nil, DefaultWatcherConfig())
	w.Stop() // must not block or panic
}

func TestWatcher_PollTrigger(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{Interval: 10 * time.Millisecond})
	var polls atomic.Int32

	err := w.Start(context.Background(), func(_ context.Context, trigger string) error {
		if trigger == "poll" {
			polls.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, "two polls", func() bool { return polls.Load() >= 2 })
}

func TestWatcher_EventTrigger(t *testing.T) {
	b := notify.NewBroadcaster()
	defer b.Close()
	w := NewWatcher(b, WatcherConfig{Interval: time.Hour})
	var events atomic.Int32

	err := w.Start(context.Background(), func(_ context.Context, trigger string) error {
		if trigger == "event" {
			events.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, "subscription", func() bool { return b.Subscribers() == 1 })
	if err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "event refresh", func() bool { return events.Load() == 1 })
}

func TestWatcher_SubscribeFailureFallsBackToPolling(t *testing.T) {
	w := NewWatcher(failingNotifier{}, WatcherConfig{Interval: 10 * time.Millisecond})
	var polls atomic.Int32

	err := w.Start(context.Background(), func(context.Context, string) error {
		polls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, "poll", func() bool { return polls.Load() >= 1 })
}

func TestWatcher_ClosedSubscriptionKeepsPolling(t *testing.T) {
	b := notify.NewBroadcaster()
	w := NewWatcher(b, WatcherConfig{Interval: 10 * time.Millisecond})
	var polls atomic.Int32

	err := w.Start(context.Background(), func(_ context.Context, trigger string) error {
		if trigger == "poll" {
			polls.Add(1)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	b.Close()
	before := polls.Load()
	waitFor(t, "polls after subscription closed", func() bool { return polls.Load() >= before+2 })
	if !w.IsRunning() {
		t.Error("watcher should keep running without change signals")
	}
}

func TestWatcher_RestartCancelsPrevious(t *testing.T) {
	b := notify.NewBroadcaster()
	defer b.Close()
	w := NewWatcher(b, WatcherConfig{Interval: time.Hour})
	defer w.Stop()

	var first, second atomic.Int32
	if err := w.Start(context.Background(), func(context.Context, string) error {
		first.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(context.Background(), func(context.Context, string) error {
		second.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "single subscription", func() bool { return b.Subscribers() == 1 })
	if err := b.Publish(context.Background()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, "second refresh", func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Errorf("replaced watcher refreshed %d times", first.Load())
	}
}

func TestWatcher_NotFoundStopsAndReportsLost(t *testing.T) {
	lost := make(chan error, 1)
	w := NewWatcher(nil, WatcherConfig{
		Interval: 10 * time.Millisecond,
		OnLost:   func(err error) { lost <- err },
	})

	err := w.Start(context.Background(), func(context.Context, string) error {
		return fmt.Errorf("fund 1234: %w", core.ErrNotFound)
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-lost:
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("OnLost error = %v, want ErrNotFound", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost was not called")
	}
	waitFor(t, "watcher to stop", func() bool { return !w.IsRunning() })
}

func TestWatcher_OtherErrorsKeepRunning(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{Interval: 10 * time.Millisecond})
	var calls atomic.Int32

	err := w.Start(context.Background(), func(context.Context, string) error {
		calls.Add(1)
		return errors.New("slot unavailable")
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	waitFor(t, "repeated refreshes", func() bool { return calls.Load() >= 3 })
	if !w.IsRunning() {
		t.Error("transient errors should not stop the watcher")
	}
}

func TestWatcher_NoRefreshAfterStop(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{Interval: 5 * time.Millisecond})
	var calls atomic.Int32

	if err := w.Start(context.Background(), func(context.Context, string) error {
		calls.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "first refresh", func() bool { return calls.Load() >= 1 })

	w.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Errorf("refresh ran %d times after Stop", calls.Load()-after)
	}
}

func TestWatcher_ParentContextCancel(t *testing.T) {
	w := NewWatcher(nil, WatcherConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	if err := w.Start(ctx, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()
	waitFor(t, "watcher to stop", func() bool { return !w.IsRunning() })
}

func TestWatcher_StopWaitsForOnLost(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	w := NewWatcher(nil, WatcherConfig{
		Interval: 5 * time.Millisecond,
		OnLost: func(error) {
			close(entered)
			<-release
		},
	})

	if err := w.Start(context.Background(), func(context.Context, string) error {
		return core.ErrNotFound
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("OnLost was not called")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while OnLost was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after OnLost finished")
	}
}

func TestWatcher_NoOnLostAfterStop(t *testing.T) {
	var lost atomic.Int32
	w := NewWatcher(nil, WatcherConfig{
		Interval: 5 * time.Millisecond,
		OnLost:   func(error) { lost.Add(1) },
	})

	inRefresh := make(chan struct{})
	var once sync.Once
	if err := w.Start(context.Background(), func(ctx context.Context, _ string) error {
		once.Do(func() { close(inRefresh) })
		<-ctx.Done()
		return core.ErrNotFound
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-inRefresh:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh was not called")
	}
	w.Stop()

	if lost.Load() != 0 {
		t.Errorf("OnLost called %d times for a stopped watcher", lost.Load())
	}
}

func TestWatcher_ConcurrentStartsLeaveOneRun(t *testing.T) {
	b := notify.NewBroadcaster()
	defer b.Close()
	w := NewWatcher(b, WatcherConfig{Interval: time.Hour})
	defer w.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Start(context.Background(), func(context.Context, string) error { return nil }); err != nil {
				t.Errorf("Start() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := b.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() = %d after concurrent starts, want 1", got)
	}
	w.Stop()
	waitFor(t, "subscriptions to close", func() bool { return b.Subscribers() == 0 })
}
