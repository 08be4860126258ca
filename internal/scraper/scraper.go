package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/metrics"
)

const pageCloseTimeout = 5 * time.Second

// Pacer delays outbound requests to a service.
type Pacer interface {
	Wait(ctx context.Context, key grading.ServiceKey) error
}

type invalidator interface {
	Invalidate(ctx context.Context, key grading.ServiceKey, stale grading.Session) error
}

// Scraper runs the lookup protocol for one Site using the shared session for
// its service.
type Scraper struct {
	site      Site
	sessions  grading.SessionProvider
	pacer     Pacer
	snapshots grading.Snapshotter
	logger    *zap.Logger
}

// New constructs a Scraper. pacer and snapshots may be nil.
func New(
	site Site,
	sessions grading.SessionProvider,
	pacer Pacer,
	snapshots grading.Snapshotter,
	logger *zap.Logger,
) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		site:      site,
		sessions:  sessions,
		pacer:     pacer,
		snapshots: snapshots,
		logger:    logger.Named("scraper").With(zap.String("service", site.Key.String())),
	}
}

// Source implements grading.Scraper.
func (s *Scraper) Source() grading.ServiceKey {
	return s.site.Key
}

// Scrape implements grading.Scraper. Every error is a *grading.ScrapeError.
func (s *Scraper) Scrape(ctx context.Context, cert grading.CertificationNumber) (grading.SourceResult, error) {
	result, err := s.scrape(ctx, cert)
	metrics.ObserveScrape(s.site.Key.String(), grading.Reason(err))
	if err != nil {
		s.logger.Warn("scrape failed", zap.String("cert_number", cert.String()), zap.Error(err))
		return grading.SourceResult{}, err
	}
	s.logger.Info("scrape succeeded", zap.String("cert_number", cert.String()))
	return result, nil
}

func (s *Scraper) fail(cert grading.CertificationNumber, stage grading.Stage, err error) error {
	return &grading.ScrapeError{Source: s.site.Key, CertNumber: cert, Stage: stage, Err: err}
}

func (s *Scraper) scrape(ctx context.Context, cert grading.CertificationNumber) (grading.SourceResult, error) {
	key := s.site.Key
	t := s.site.Timeouts

	stageStart := time.Now()
	acquireCtx, cancel := withTimeout(ctx, t.Launch)
	session, err := s.sessions.Acquire(acquireCtx, key)
	cancel()
	metrics.ObserveStage(key.String(), string(grading.StageAcquire), time.Since(stageStart))
	if err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageAcquire, err)
	}

	if s.pacer != nil {
		if err := s.pacer.Wait(ctx, key); err != nil {
			return grading.SourceResult{}, s.fail(cert, grading.StageNavigate, err)
		}
	}

	stageStart = time.Now()
	navCtx, cancel := withTimeout(ctx, t.Navigation)
	defer cancel()
	page, err := session.NewPage(navCtx)
	if err != nil {
		if navCtx.Err() == nil {
			s.invalidate(key, session, err)
		}
		return grading.SourceResult{}, s.fail(cert, grading.StageNavigate, classify(ctx, err, grading.ErrNavigationTimeout))
	}
	defer s.closePage(ctx, page, cert)

	if err := page.Navigate(navCtx, s.site.URL); err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageNavigate, classify(ctx, err, grading.ErrNavigationTimeout))
	}
	metrics.ObserveStage(key.String(), string(grading.StageNavigate), time.Since(stageStart))

	stageStart = time.Now()
	waitResponse, err := s.submit(ctx, page, cert)
	if err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageSubmit, classify(ctx, err, grading.ErrSelectorTimeout))
	}
	metrics.ObserveStage(key.String(), string(grading.StageSubmit), time.Since(stageStart))

	stageStart = time.Now()
	if err := s.awaitResult(ctx, page, waitResponse, cert); err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageAwait, err)
	}
	metrics.ObserveStage(key.String(), string(grading.StageAwait), time.Since(stageStart))

	stageStart = time.Now()
	extractCtx, cancelExtract := withTimeout(ctx, t.Selector)
	defer cancelExtract()
	html, err := page.HTML(extractCtx)
	if err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageExtract, classify(ctx, err, grading.ErrSelectorTimeout))
	}
	record, err := Extract(html, s.site.Selectors)
	if err != nil {
		return grading.SourceResult{}, s.fail(cert, grading.StageExtract, err)
	}
	metrics.ObserveStage(key.String(), string(grading.StageExtract), time.Since(stageStart))

	if !record.HasTitle() {
		return grading.SourceResult{}, s.fail(cert, grading.StageClassify, grading.ErrNotFound)
	}

	result := grading.SourceResult{
		Success:    true,
		Source:     key,
		CertNumber: cert,
		Data:       record,
	}
	if s.snapshots != nil {
		uri, err := s.snapshots.Snapshot(ctx, key, cert, []byte(html))
		if err != nil {
			s.logger.Warn("archive result page failed", zap.String("cert_number", cert.String()), zap.Error(err))
		} else {
			result.SnapshotURI = uri
		}
	}
	return result, nil
}

// submit fills the search form and clicks submit. The response watcher is
// armed before the click so a fast reply is not missed.
func (s *Scraper) submit(ctx context.Context, page grading.Page, cert grading.CertificationNumber) (func(context.Context) error, error) {
	sel := s.site.Selectors
	submitCtx, cancel := withTimeout(ctx, s.site.Timeouts.Selector)
	defer cancel()

	if err := page.WaitPresent(submitCtx, sel.Input); err != nil {
		return nil, err
	}
	if err := page.Type(submitCtx, sel.Input, cert.String()); err != nil {
		return nil, err
	}
	var waitResponse func(context.Context) error
	if s.site.ResponsePattern != "" {
		waitResponse = page.ArmResponse(s.site.ResponsePattern)
	}
	if err := page.Click(submitCtx, sel.Submit); err != nil {
		if waitResponse != nil {
			done, cancel := context.WithCancel(ctx)
			cancel()
			_ = waitResponse(done)
		}
		return nil, err
	}
	return waitResponse, nil
}

// awaitResult waits for whichever comes first: the result container or the
// lookup response. Neither arriving is logged, not failed; only cancellation
// of the caller's context is an error.
func (s *Scraper) awaitResult(
	ctx context.Context,
	page grading.Page,
	waitResponse func(context.Context) error,
	cert grading.CertificationNumber,
) error {
	raceCtx, cancel := withTimeout(ctx, s.site.Timeouts.Result)
	defer cancel()

	signals := make(chan string, 2)
	pending := 1
	go func() {
		if err := page.WaitPresent(raceCtx, s.site.Selectors.Result); err != nil {
			signals <- ""
			return
		}
		signals <- "selector"
	}()
	if waitResponse != nil {
		pending++
		go func() {
			if err := waitResponse(raceCtx); err != nil {
				signals <- ""
				return
			}
			signals <- "response"
		}()
	}

	for ; pending > 0; pending-- {
		if signal := <-signals; signal != "" {
			s.logger.Debug("result signalled", zap.String("cert_number", cert.String()), zap.String("signal", signal))
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("await result: %w", err)
	}
	s.logger.Warn("no result signal before timeout; extracting current page",
		zap.String("cert_number", cert.String()),
		zap.Duration("timeout", s.site.Timeouts.Result),
	)
	return nil
}

func (s *Scraper) closePage(ctx context.Context, page grading.Page, cert grading.CertificationNumber) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pageCloseTimeout)
	defer cancel()
	if err := page.Close(closeCtx); err != nil {
		s.logger.Warn("close page failed", zap.String("cert_number", cert.String()), zap.Error(err))
	}
}

// invalidate drops session, which can no longer open pages.
func (s *Scraper) invalidate(key grading.ServiceKey, session grading.Session, cause error) {
	inv, ok := s.sessions.(invalidator)
	if !ok {
		return
	}
	s.logger.Warn("session cannot open pages; invalidating", zap.Error(cause))
	ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()
	if err := inv.Invalidate(ctx, key, session); err != nil {
		s.logger.Warn("invalidate session failed", zap.Error(err))
	}
}

// classify marks a stage deadline with sentinel. Cancellation of the parent
// context is passed through unchanged.
func classify(parent context.Context, err error, sentinel error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
