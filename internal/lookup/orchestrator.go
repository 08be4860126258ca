// Package lookup fans a certification number out to every registered grading
// service and aggregates the successful results.
package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/certlookup/internal/clock/system"
	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/id/uuid"
	"github.com/JakeFAU/certlookup/internal/metrics"
)

const sideEffectTimeout = 5 * time.Second

// Config controls orchestrator side effects.
type Config struct {
	// Topic receives a LookupEvent after every lookup. Empty disables publishing.
	Topic string
}

// Orchestrator runs every registered scraper for a lookup.
type Orchestrator struct {
	scrapers  []grading.Scraper
	recorder  grading.LookupRecorder
	publisher grading.Publisher
	clock     grading.Clock
	ids       grading.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. recorder and publisher may be nil; a nil
// clock or ids falls back to the system clock and UUIDv7 IDs.
func New(
	scrapers []grading.Scraper,
	recorder grading.LookupRecorder,
	publisher grading.Publisher,
	clock grading.Clock,
	ids grading.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Orchestrator{
		scrapers:  append([]grading.Scraper(nil), scrapers...),
		recorder:  recorder,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.Named("lookup"),
	}
}

// Sources lists the registered services in registration order.
func (o *Orchestrator) Sources() []grading.ServiceKey {
	keys := make([]grading.ServiceKey, 0, len(o.scrapers))
	for _, s := range o.scrapers {
		keys = append(keys, s.Source())
	}
	return keys
}

// Lookup queries every source concurrently and waits for all of them. One
// source failing or stalling never cancels another. Results are in
// completion order. When no source succeeds the result is empty and the error
// is an *grading.AggregateNotFoundError.
func (o *Orchestrator) Lookup(ctx context.Context, cert grading.CertificationNumber) (grading.LookupResult, error) {
	start := time.Now()
	lookedUpAt := o.clock.Now()

	var (
		mu       sync.Mutex
		results  = make([]grading.SourceResult, 0, len(o.scrapers))
		failures = make(map[grading.ServiceKey]error)
	)
	var g errgroup.Group
	for _, s := range o.scrapers {
		g.Go(func() error {
			res, err := o.run(ctx, s, cert)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[s.Source()] = err
				o.logger.Warn("source lookup failed",
					zap.String("service", s.Source().String()),
					zap.String("cert_number", cert.String()),
					zap.String("reason", grading.Reason(err)),
					zap.Error(err),
				)
				return nil
			}
			results = append(results, res)
			return nil
		})
	}
	_ = g.Wait()

	found := len(results) > 0
	elapsed := time.Since(start)
	metrics.ObserveLookup(found, elapsed)
	o.logger.Info("lookup settled",
		zap.String("cert_number", cert.String()),
		zap.Int("successes", len(results)),
		zap.Int("failures", len(failures)),
		zap.Duration("duration", elapsed),
	)

	o.record(ctx, cert, results, found, lookedUpAt, elapsed)

	if !found {
		return grading.LookupResult{}, &grading.AggregateNotFoundError{
			CertNumber: cert,
			Failures:   failures,
		}
	}
	return grading.LookupResult{CertNumber: cert, Results: results}, nil
}

// run isolates a scraper panic into an error for that source alone.
func (o *Orchestrator) run(ctx context.Context, s grading.Scraper, cert grading.CertificationNumber) (res grading.SourceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s scraper panicked: %v", s.Source(), r)
		}
	}()
	return s.Scrape(ctx, cert)
}

func (o *Orchestrator) record(
	ctx context.Context,
	cert grading.CertificationNumber,
	results []grading.SourceResult,
	found bool,
	lookedUpAt time.Time,
	elapsed time.Duration,
) {
	if o.recorder == nil && (o.publisher == nil || o.cfg.Topic == "") {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Error("generate lookup id failed", zap.Error(err))
		return
	}
	sources := o.Sources()

	if o.recorder != nil {
		record := grading.LookupRecord{
			ID:         id,
			CertNumber: cert,
			Sources:    sources,
			Results:    append([]grading.SourceResult{}, results...),
			Found:      found,
			LookedUpAt: lookedUpAt,
			DurationMs: elapsed.Milliseconds(),
		}
		if err := o.recorder.RecordLookup(ctx, record); err != nil {
			o.logger.Error("record lookup failed", zap.String("lookup_id", id), zap.Error(err))
		}
	}

	if o.publisher != nil && o.cfg.Topic != "" {
		event := grading.LookupEvent{
			LookupID:   id,
			CertNumber: cert,
			Found:      found,
			Sources:    sources,
			LookedUpAt: lookedUpAt,
		}
		if _, err := o.publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
			o.logger.Error("publish lookup event failed", zap.String("lookup_id", id), zap.Error(err))
		}
	}
}
