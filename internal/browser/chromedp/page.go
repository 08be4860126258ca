package chromedp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

func enableNetwork() chromedp.Action {
	return network.Enable()
}

type page struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	idle      time.Duration
	logger    *zap.Logger

	tracker *idleTracker

	mu       sync.Mutex
	watchers []*responseWatcher
}

func newPage(tabCtx context.Context, tabCancel context.CancelFunc, idle time.Duration, logger *zap.Logger) *page {
	return &page{
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
		idle:      idle,
		logger:    logger,
		tracker:   newIdleTracker(time.Now),
	}
}

// handleEvent runs on the chromedp event loop and must not block.
func (p *page) handleEvent(ev any) {
	p.tracker.handle(ev)
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Response == nil {
		return
	}
	p.mu.Lock()
	watchers := append([]*responseWatcher(nil), p.watchers...)
	p.mu.Unlock()
	for _, w := range watchers {
		w.offer(resp.Response.URL, resp.Response.Status)
	}
}

// opContext derives a context from the tab that carries ctx's deadline and
// cancellation, so chromedp actions run against the tab's target.
func (p *page) opContext(ctx context.Context) (context.Context, func()) {
	var (
		opCtx  context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		opCtx, cancel = context.WithDeadline(p.tabCtx, deadline)
	} else {
		opCtx, cancel = context.WithCancel(p.tabCtx)
	}
	stop := forwardCancel(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, done := p.opContext(ctx)
	defer done()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ctxErr, err)
		}
		return err
	}
	return nil
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.tracker.wait(ctx, p.idle); err != nil {
		return fmt.Errorf("wait network idle: %w", err)
	}
	return nil
}

func (p *page) WaitPresent(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *page) Type(ctx context.Context, selector, text string) error {
	if err := p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("type into %q: %w", selector, err)
	}
	return nil
}

func (p *page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (p *page) ArmResponse(urlPattern string) func(ctx context.Context) error {
	w := newResponseWatcher(urlPattern)
	p.mu.Lock()
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()
	return func(ctx context.Context) error {
		defer p.disarm(w)
		select {
		case <-w.matched:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for response matching %q: %w", urlPattern, ctx.Err())
		}
	}
}

func (p *page) disarm(w *responseWatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, candidate := range p.watchers {
		if candidate == w {
			p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
			return
		}
	}
}

func (p *page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read outer html: %w", err)
	}
	return html, nil
}

func (p *page) Close(_ context.Context) error {
	err := chromedp.Cancel(p.tabCtx)
	p.tabCancel()
	if err != nil {
		p.logger.Debug("tab close", zap.Error(err))
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}

type responseWatcher struct {
	pattern string
	once    sync.Once
	matched chan struct{}
}

func newResponseWatcher(pattern string) *responseWatcher {
	return &responseWatcher{pattern: pattern, matched: make(chan struct{})}
}

func (w *responseWatcher) offer(url string, status int64) {
	if status != 200 || !strings.Contains(url, w.pattern) {
		return
	}
	w.once.Do(func() { close(w.matched) })
}

// idleTracker counts in-flight requests from network events.
type idleTracker struct {
	now func() time.Time

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
}

func newIdleTracker(now func() time.Time) *idleTracker {
	return &idleTracker{
		now:      now,
		inflight: make(map[network.RequestID]struct{}),
		last:     now(),
	}
}

func (t *idleTracker) handle(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
	default:
		return
	}
	t.last = t.now()
}

func (t *idleTracker) idleFor(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.last) >= quiet
}

// wait blocks until no request has been in flight for quiet.
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	poll := quiet / 10
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if t.idleFor(quiet) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
