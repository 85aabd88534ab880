// Package session models one member's view of a fund: the Tab is either
// anonymous or viewing a fund, and while viewing it keeps its display current
// with a Watcher.
package session

import (
	"context"
	"sync"
	"time"

	"kasse/internal/core"
	"kasse/internal/log"
	"kasse/internal/notify"
	"kasse/internal/services"
	"kasse/internal/worker"
)

type State int

const (
	Anonymous State = iota
	Viewing
)

func (s State) String() string {
	if s == Viewing {
		return "viewing"
	}
	return "anonymous"
}

// Renderer receives every fresh view of the fund. It may be called from the
// watcher goroutine and from the goroutine running an operation, and must not
// call back into the Tab.
type Renderer func(services.View)

type Config struct {
	// Interval is the polling period of the watcher.
	Interval time.Duration

	Render Renderer

	// OnLost is called when the viewed fund disappears from the ledger. The
	// Tab is already anonymous at that point.
	OnLost func(fundID string)
}

// Tab holds one session. Operations on different Tabs are independent, even
// when they share a store.
type Tab struct {
	svc     *services.FundService
	watcher *worker.Watcher
	config  Config
	logger  *log.Logger

	mu   sync.Mutex
	sess core.Session
}

func NewTab(svc *services.FundService, notifier notify.Notifier, config Config) *Tab {
	t := &Tab{
		svc:    svc,
		config: config,
		logger: log.Default(log.ComponentSession),
	}
	t.watcher = worker.NewWatcher(notifier, worker.WatcherConfig{
		Interval: config.Interval,
		OnLost:   t.lost,
	})
	return t
}

func (t *Tab) Session() core.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess
}

func (t *Tab) State() State {
	if t.Session().IsAnonymous() {
		return Anonymous
	}
	return Viewing
}

// Create makes a new fund and starts viewing it. The watcher lives until
// Leave, Close or the cancellation of ctx.
func (t *Tab) Create(ctx context.Context, name, id, nickname string) (services.View, error) {
	sess, view, err := t.svc.CreateFund(ctx, name, id, nickname)
	if err != nil {
		return services.View{}, err
	}
	return view, t.enter(ctx, sess, view)
}

// Join enters an existing fund as nickname. The watcher lives until Leave,
// Close or the cancellation of ctx.
func (t *Tab) Join(ctx context.Context, id, nickname string) (services.View, error) {
	sess, view, err := t.svc.JoinFund(ctx, id, nickname)
	if err != nil {
		return services.View{}, err
	}
	return view, t.enter(ctx, sess, view)
}

func (t *Tab) enter(ctx context.Context, sess core.Session, view services.View) error {
	t.watcher.Stop()

	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	t.render(view)
	return t.watcher.Start(ctx, t.refresh)
}

// Leave stops watching and returns to the anonymous state.
func (t *Tab) Leave() {
	t.watcher.Stop()

	t.mu.Lock()
	t.sess = t.svc.LeaveFund(t.sess)
	t.mu.Unlock()
}

// Close releases the watcher.
func (t *Tab) Close() {
	t.Leave()
}

func (t *Tab) Deposit(ctx context.Context, rawAmount string) (core.Money, error) {
	return t.move(ctx, rawAmount, t.svc.Deposit)
}

func (t *Tab) Withdraw(ctx context.Context, rawAmount string) (core.Money, error) {
	return t.move(ctx, rawAmount, t.svc.Withdraw)
}

func (t *Tab) move(ctx context.Context, rawAmount string, fn func(context.Context, core.Session, string) (core.Money, error)) (core.Money, error) {
	sess := t.Session()
	balance, err := fn(ctx, sess, rawAmount)
	if err != nil {
		return core.Money{}, err
	}

	// show our own write without waiting for a trigger
	if view, err := t.svc.View(ctx, sess); err == nil {
		t.render(view)
	}
	return balance, nil
}

// View reads the current fund state without rendering it.
func (t *Tab) View(ctx context.Context) (services.View, error) {
	return t.svc.View(ctx, t.Session())
}

func (t *Tab) refresh(ctx context.Context, trigger string) error {
	sess := t.Session()
	if sess.IsAnonymous() {
		return nil
	}
	view, err := t.svc.View(ctx, sess)
	if err != nil {
		return err
	}
	t.logger.DebugContext(ctx, "Refreshed fund view",
		log.FieldFundID, sess.FundID,
		log.FieldTrigger, trigger,
		log.FieldBalance, view.Balance.Fixed())
	t.render(view)
	return nil
}

func (t *Tab) lost(err error) {
	t.mu.Lock()
	fundID := t.sess.FundID
	t.sess = core.Session{}
	t.mu.Unlock()

	t.logger.Warn("Fund no longer exists, leaving", log.FieldFundID, fundID, log.FieldError, err)
	if t.config.OnLost != nil {
		t.config.OnLost(fundID)
	}
}

func (t *Tab) render(view services.View) {
	if t.config.Render != nil {
		t.config.Render(view)
	}
}
