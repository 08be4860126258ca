// Package chromedp implements browser sessions on top of headless Chrome via
// the chromedp DevTools client.
package chromedp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/grading"
)

const (
	defaultLaunchTimeout = 10 * time.Second
	defaultIdleWindow    = 500 * time.Millisecond
	defaultWidth         = 1920
	defaultHeight        = 1080
)

// Config controls how Chrome is launched and how pages are prepared.
type Config struct {
	Headless     bool
	NoSandbox    bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// ExtraFlags are command-line switches such as "disable-gpu" or
	// "lang=en-US". A leading "--" is optional.
	ExtraFlags []string
	// LaunchTimeouts bounds browser start-up per service; DefaultLaunchTimeout
	// applies to services not listed.
	LaunchTimeouts       map[grading.ServiceKey]time.Duration
	DefaultLaunchTimeout time.Duration
	// IdleWindow is how long the network must be quiet before Navigate returns.
	IdleWindow time.Duration
}

// Factory launches one Chrome process per session.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory builds a chromedp-backed grading.SessionFactory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = defaultWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = defaultHeight
	}
	if cfg.DefaultLaunchTimeout <= 0 {
		cfg.DefaultLaunchTimeout = defaultLaunchTimeout
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = defaultIdleWindow
	}
	return &Factory{cfg: cfg, logger: logger.Named("chromedp")}
}

// NewSession starts Chrome and waits for the first target to come up. The
// browser outlives ctx; ctx only bounds the start-up wait.
func (f *Factory) NewSession(ctx context.Context, key grading.ServiceKey) (grading.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := f.launchTimeout(key)
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = fmt.Errorf("browser start exceeded %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		err = fmt.Errorf("browser start: %w", ctx.Err())
	}
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, &grading.BrowserInitError{Key: key, Err: err}
	}

	f.logger.Debug("chrome started", zap.String("service", key.String()))
	return &session{
		key:           key,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		width:         int64(f.cfg.WindowWidth),
		height:        int64(f.cfg.WindowHeight),
		idle:          f.cfg.IdleWindow,
		logger:        f.logger.With(zap.String("service", key.String())),
	}, nil
}

func (f *Factory) launchTimeout(key grading.ServiceKey) time.Duration {
	if d, ok := f.cfg.LaunchTimeouts[key]; ok && d > 0 {
		return d
	}
	return f.cfg.DefaultLaunchTimeout
}

func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, fl := range f.flags() {
		opts = append(opts, chromedp.Flag(fl.name, fl.value))
	}
	opts = append(opts, chromedp.WindowSize(f.cfg.WindowWidth, f.cfg.WindowHeight))
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	return opts
}

type flag struct {
	name  string
	value any
}

func (f *Factory) flags() []flag {
	out := []flag{{name: "headless", value: f.cfg.Headless}}
	if f.cfg.NoSandbox {
		out = append(out, flag{name: "no-sandbox", value: true})
	}
	for _, raw := range f.cfg.ExtraFlags {
		if fl, ok := parseFlag(raw); ok {
			out = append(out, fl)
		}
	}
	return out
}

// parseFlag turns "--name=value" or "name" into a chromedp flag.
func parseFlag(raw string) (flag, bool) {
	raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
	if raw == "" {
		return flag{}, false
	}
	name, value, found := strings.Cut(raw, "=")
	if !found {
		return flag{name: name, value: true}, true
	}
	return flag{name: name, value: value}, true
}

type session struct {
	key           grading.ServiceKey
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	width         int64
	height        int64
	idle          time.Duration
	logger        *zap.Logger
}

// NewPage opens a tab, enables network events and applies the viewport.
func (s *session) NewPage(ctx context.Context) (grading.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	p := newPage(tabCtx, tabCancel, s.idle, s.logger)
	chromedp.ListenTarget(tabCtx, p.handleEvent)

	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx, enableNetwork(), chromedp.EmulateViewport(s.width, s.height))
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// Close shuts Chrome down, falling back to killing the allocator.
func (s *session) Close(_ context.Context) error {
	err := chromedp.Cancel(s.browserCtx)
	s.browserCancel()
	s.allocCancel()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// forwardCancel invokes cancel once parent is done, until the returned stop
// func is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
