// Package rod implements browser sessions with go-rod, optionally patching
// every page with go-rod/stealth.
package rod

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/grading"
)

const (
	defaultLaunchTimeout = 10 * time.Second
	defaultIdleWindow    = 500 * time.Millisecond
	defaultWidth         = 1920
	defaultHeight        = 1080
)

// Config controls how the browser is launched and how pages are prepared.
type Config struct {
	Headless             bool
	NoSandbox            bool
	Stealth              bool
	UserAgent            string
	WindowWidth          int
	WindowHeight         int
	ExtraFlags           []string
	LaunchTimeouts       map[grading.ServiceKey]time.Duration
	DefaultLaunchTimeout time.Duration
	IdleWindow           time.Duration
}

// Factory launches one browser process per session.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory builds a rod-backed grading.SessionFactory.
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
	return &Factory{cfg: cfg, logger: logger.Named("rod")}
}

// configure applies the factory's settings to l.
func (f *Factory) configure(l *launcher.Launcher) *launcher.Launcher {
	l = l.Headless(f.cfg.Headless).NoSandbox(f.cfg.NoSandbox)
	l.Set(flags.Flag("window-size"), strconv.Itoa(f.cfg.WindowWidth), strconv.Itoa(f.cfg.WindowHeight))
	if f.cfg.Stealth {
		l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
		l.Delete(flags.Flag("enable-automation"))
	}
	for _, raw := range f.cfg.ExtraFlags {
		raw = strings.TrimLeft(strings.TrimSpace(raw), "-")
		if raw == "" {
			continue
		}
		name, value, found := strings.Cut(raw, "=")
		if found {
			l.Set(flags.Flag(name), value)
			continue
		}
		l.Set(flags.Flag(name))
	}
	return l
}

type launched struct {
	browser *rod.Browser
	err     error
}

// NewSession launches and connects to a browser. ctx only bounds start-up.
func (f *Factory) NewSession(ctx context.Context, key grading.ServiceKey) (grading.Session, error) {
	l := f.configure(launcher.New())

	done := make(chan launched, 1)
	go func() {
		controlURL, err := l.Launch()
		if err != nil {
			done <- launched{err: fmt.Errorf("launch browser: %w", err)}
			return
		}
		browser := rod.New().ControlURL(controlURL)
		if err := browser.Connect(); err != nil {
			done <- launched{err: fmt.Errorf("connect to browser: %w", err)}
			return
		}
		done <- launched{browser: browser}
	}()

	timeout := f.launchTimeout(key)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-done:
		if res.err == nil {
			f.logger.Debug("browser started", zap.String("service", key.String()))
			return &session{
				key:      key,
				browser:  res.browser,
				launcher: l,
				cfg:      f.cfg,
				logger:   f.logger.With(zap.String("service", key.String())),
			}, nil
		}
		err = res.err
	case <-timer.C:
		err = fmt.Errorf("browser start exceeded %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		err = fmt.Errorf("browser start: %w", ctx.Err())
	}
	l.Kill()
	return nil, &grading.BrowserInitError{Key: key, Err: err}
}

func (f *Factory) launchTimeout(key grading.ServiceKey) time.Duration {
	if d, ok := f.cfg.LaunchTimeouts[key]; ok && d > 0 {
		return d
	}
	return f.cfg.DefaultLaunchTimeout
}

type session struct {
	key      grading.ServiceKey
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      Config
	logger   *zap.Logger
}

func (s *session) NewPage(ctx context.Context) (grading.Page, error) {
	var (
		p   *rod.Page
		err error
	)
	if s.cfg.Stealth {
		p, err = stealth.Page(s.browser)
	} else {
		p, err = s.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}

	scoped := p.Context(ctx)
	if err := (proto.NetworkEnable{}).Call(scoped); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	if err := scoped.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.WindowWidth,
		Height:            s.cfg.WindowHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if s.cfg.UserAgent != "" {
		if err := scoped.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.cfg.UserAgent}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	return &page{page: p, idle: s.cfg.IdleWindow, logger: s.logger}, nil
}

func (s *session) Close(_ context.Context) error {
	err := s.browser.Close()
	s.launcher.Kill()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
