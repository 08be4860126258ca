package server

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/browser"
	chromedpdriver "github.com/JakeFAU/certlookup/internal/browser/chromedp"
	roddriver "github.com/JakeFAU/certlookup/internal/browser/rod"
	"github.com/JakeFAU/certlookup/internal/config"
	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/policy/ratelimit"
	"github.com/JakeFAU/certlookup/internal/scraper"
)

// builtinServices is the registration order of grading services.
var builtinServices = []grading.ServiceKey{grading.ServiceCGC, grading.ServiceWATA}

func launchTimeouts(cfg *config.Config) map[grading.ServiceKey]time.Duration {
	out := make(map[grading.ServiceKey]time.Duration, len(cfg.Services))
	for name, svc := range cfg.Services {
		if svc.LaunchTimeout > 0 {
			out[grading.NormalizeServiceKey(name)] = svc.LaunchTimeout
		}
	}
	return out
}

func newSessionFactory(cfg *config.Config, logger *zap.Logger) grading.SessionFactory {
	b := cfg.Browser
	if b.Driver == config.DriverRod {
		logger.Info("using rod browser driver", zap.Bool("stealth", b.Stealth), zap.Bool("headless", b.Headless))
		return roddriver.NewFactory(roddriver.Config{
			Headless:             b.Headless,
			NoSandbox:            b.NoSandbox,
			Stealth:              b.Stealth,
			UserAgent:            b.UserAgent,
			WindowWidth:          b.WindowWidth,
			WindowHeight:         b.WindowHeight,
			ExtraFlags:           b.ExtraFlags,
			LaunchTimeouts:       launchTimeouts(cfg),
			DefaultLaunchTimeout: scraper.DefaultTimeout,
			IdleWindow:           b.IdleWindow,
		}, logger)
	}
	logger.Info("using chromedp browser driver", zap.Bool("headless", b.Headless))
	return chromedpdriver.NewFactory(chromedpdriver.Config{
		Headless:             b.Headless,
		NoSandbox:            b.NoSandbox,
		UserAgent:            b.UserAgent,
		WindowWidth:          b.WindowWidth,
		WindowHeight:         b.WindowHeight,
		ExtraFlags:           b.ExtraFlags,
		LaunchTimeouts:       launchTimeouts(cfg),
		DefaultLaunchTimeout: scraper.DefaultTimeout,
		IdleWindow:           b.IdleWindow,
	}, logger)
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	intervals := make(map[grading.ServiceKey]time.Duration, len(cfg.Services))
	for name, svc := range cfg.Services {
		intervals[grading.NormalizeServiceKey(name)] = svc.MinInterval
	}
	return ratelimit.New(ratelimit.Config{Intervals: intervals})
}

// siteFor applies configured overrides to the built-in definition of key.
func siteFor(key grading.ServiceKey, svc config.ServiceConfig) scraper.Site {
	site, _ := scraper.Builtin(key)
	if svc.URL != "" {
		site.URL = svc.URL
	}
	if svc.LaunchTimeout > 0 {
		site.Timeouts.Launch = svc.LaunchTimeout
	}
	if svc.NavigationTimeout > 0 {
		site.Timeouts.Navigation = svc.NavigationTimeout
	}
	if svc.SelectorTimeout > 0 {
		site.Timeouts.Selector = svc.SelectorTimeout
	}
	if svc.ResultTimeout > 0 {
		site.Timeouts.Result = svc.ResultTimeout
	}
	return site
}

// setupScrapers registers every built-in service. Disabled services stay
// registered and fail every lookup with grading.ErrNotImplemented.
func setupScrapers(
	cfg *config.Config,
	pool *browser.Pool,
	limiter *ratelimit.Limiter,
	snapshots grading.Snapshotter,
	logger *zap.Logger,
) []grading.Scraper {
	for name := range cfg.Services {
		if _, ok := scraper.Builtin(grading.NormalizeServiceKey(name)); !ok {
			logger.Warn("ignoring configuration for unknown service", zap.String("service", name))
		}
	}
	scrapers := make([]grading.Scraper, 0, len(builtinServices))
	for _, key := range builtinServices {
		svc, _ := cfg.Service(strings.ToLower(key.String()))
		if !svc.Enabled {
			logger.Info("service registered as not implemented", zap.String("service", key.String()))
			scrapers = append(scrapers, scraper.NotImplemented{Key: key})
			continue
		}
		site := siteFor(key, svc)
		logger.Info("service enabled",
			zap.String("service", key.String()),
			zap.String("url", site.URL),
			zap.Duration("min_interval", svc.MinInterval),
		)
		scrapers = append(scrapers, scraper.New(site, pool, limiter, snapshots, logger))
	}
	return scrapers
}
