package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/certlookup/internal/browser"
	"github.com/JakeFAU/certlookup/internal/browser/browsertest"
	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/scraper"
)

type stubScraper struct {
	key   grading.ServiceKey
	delay time.Duration
	title string
	err   error
	panic bool
}

func (s stubScraper) Source() grading.ServiceKey { return s.key }

func (s stubScraper) Scrape(ctx context.Context, cert grading.CertificationNumber) (grading.SourceResult, error) {
	if s.panic {
		panic("boom")
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return grading.SourceResult{}, ctx.Err()
	}
	if s.err != nil {
		return grading.SourceResult{}, &grading.ScrapeError{Source: s.key, CertNumber: cert, Stage: grading.StageNavigate, Err: s.err}
	}
	return grading.SourceResult{
		Success:    true,
		Source:     s.key,
		CertNumber: cert,
		Data:       grading.GameRecord{Title: grading.StringPtr(s.title)},
	}, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "lookup-" + strconv.Itoa(g.n), nil
}

type memRecorder struct {
	mu      sync.Mutex
	records []grading.LookupRecord
	err     error
}

func (r *memRecorder) RecordLookup(_ context.Context, record grading.LookupRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

type memPublisher struct {
	mu     sync.Mutex
	topics []string
	events []grading.LookupEvent
	err    error
}

func (p *memPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if ev, ok := payload.(grading.LookupEvent); ok {
		p.events = append(p.events, ev)
	}
	return "msg-1", p.err
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newOrchestrator(scrapers []grading.Scraper, rec grading.LookupRecorder, pub grading.Publisher) *Orchestrator {
	return New(scrapers, rec, pub, fixedClock{now: epoch}, &seqIDs{}, Config{Topic: "lookup.completed"}, nil)
}

func cgcHarness(t *testing.T) (*browsertest.Factory, *browser.Pool, grading.Scraper) {
	t.Helper()
	site := scraper.CGC()
	site.Timeouts = scraper.Timeouts{
		Launch:     time.Second,
		Navigation: 50 * time.Millisecond,
		Selector:   50 * time.Millisecond,
		Result:     50 * time.Millisecond,
	}
	factory := browsertest.NewFactory()
	factory.SetScript(grading.ServiceCGC, browsertest.Script{
		HTML:            `<div class="certlookup-result"><h2 class="game-title">EarthBound</h2><span class="grade-value">9.4</span></div>`,
		Present:         []string{site.Selectors.Input, site.Selectors.Result},
		ResponseArrives: true,
	})
	pool := browser.NewPool(factory, nil, nil)
	t.Cleanup(func() { _ = pool.ReleaseAll(context.Background()) })
	return factory, pool, scraper.New(site, pool, nil, nil, nil)
}

func TestLookupOneSourceSucceeds(t *testing.T) {
	t.Parallel()

	factory, _, cgc := cgcHarness(t)
	rec := &memRecorder{}
	pub := &memPublisher{}
	o := newOrchestrator([]grading.Scraper{cgc, scraper.NotImplemented{Key: grading.ServiceWATA}}, rec, pub)

	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Equal(t, grading.CertificationNumber("1234567"), result.CertNumber)
	require.Len(t, result.Results, 1)
	require.Equal(t, grading.ServiceCGC, result.Results[0].Source)
	require.Equal(t, grading.CertificationNumber("1234567"), result.Results[0].CertNumber)
	require.Equal(t, "EarthBound", *result.Results[0].Data.Title)
	require.Zero(t, factory.Created(grading.ServiceWATA))

	require.Len(t, rec.records, 1)
	record := rec.records[0]
	require.True(t, record.Found)
	require.Equal(t, "lookup-1", record.ID)
	require.Equal(t, epoch, record.LookedUpAt)
	require.Equal(t, []grading.ServiceKey{grading.ServiceCGC, grading.ServiceWATA}, record.Sources)

	require.Equal(t, []string{"lookup.completed"}, pub.topics)
	require.Equal(t, "lookup-1", pub.events[0].LookupID)
	require.True(t, pub.events[0].Found)
}

func TestLookupAllSourcesFail(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	o := newOrchestrator([]grading.Scraper{
		stubScraper{key: grading.ServiceCGC, err: grading.ErrNotFound},
		scraper.NotImplemented{Key: grading.ServiceWATA},
	}, rec, nil)

	result, err := o.Lookup(context.Background(), "7654321")
	require.ErrorIs(t, err, grading.ErrAggregateNotFound)
	require.Equal(t, grading.LookupResult{}, result)

	var aggErr *grading.AggregateNotFoundError
	require.ErrorAs(t, err, &aggErr)
	require.Equal(t, grading.CertificationNumber("7654321"), aggErr.CertNumber)
	require.ErrorIs(t, aggErr.Failures[grading.ServiceCGC], grading.ErrNotFound)
	require.ErrorIs(t, aggErr.Failures[grading.ServiceWATA], grading.ErrNotImplemented)

	require.Len(t, rec.records, 1)
	require.False(t, rec.records[0].Found)
}

func TestLookupSlowSourceDoesNotBlockOrCancelFast(t *testing.T) {
	t.Parallel()

	o := newOrchestrator([]grading.Scraper{
		stubScraper{key: grading.ServiceWATA, delay: 150 * time.Millisecond, err: context.DeadlineExceeded},
		stubScraper{key: grading.ServiceCGC, delay: 5 * time.Millisecond, title: "Metroid"},
	}, nil, nil)

	start := time.Now()
	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Len(t, result.Results, 1)
	require.Equal(t, "Metroid", *result.Results[0].Data.Title)
}

func TestLookupCompletionOrder(t *testing.T) {
	t.Parallel()

	o := newOrchestrator([]grading.Scraper{
		stubScraper{key: grading.ServiceCGC, delay: 80 * time.Millisecond, title: "slow"},
		stubScraper{key: grading.ServiceWATA, delay: 5 * time.Millisecond, title: "fast"},
	}, nil, nil)

	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	require.Equal(t, grading.ServiceWATA, result.Results[0].Source)
	require.Equal(t, grading.ServiceCGC, result.Results[1].Source)
}

func TestLookupReusesBrowserSessionAcrossLookups(t *testing.T) {
	t.Parallel()

	factory, pool, cgc := cgcHarness(t)
	o := newOrchestrator([]grading.Scraper{cgc}, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := o.Lookup(context.Background(), "1234567")
		require.NoError(t, err)
	}
	require.Equal(t, 1, factory.Created(grading.ServiceCGC))
	require.Equal(t, 1, pool.Len())
}

func TestLookupSideEffectFailuresAreIgnored(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{err: errors.New("db down")}
	pub := &memPublisher{err: errors.New("topic missing")}
	o := newOrchestrator([]grading.Scraper{
		stubScraper{key: grading.ServiceCGC, title: "Contra"},
	}, rec, pub)

	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Len(t, rec.records, 1)
	require.Len(t, pub.events, 1)
}

func TestLookupPanickingSourceIsIsolated(t *testing.T) {
	t.Parallel()

	o := newOrchestrator([]grading.Scraper{
		stubScraper{key: grading.ServiceWATA, panic: true},
		stubScraper{key: grading.ServiceCGC, title: "Castlevania"},
	}, nil, nil)

	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, grading.ServiceCGC, result.Results[0].Source)
}

func TestSourcesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	o := newOrchestrator([]grading.Scraper{
		scraper.NotImplemented{Key: grading.ServiceWATA},
		stubScraper{key: grading.ServiceCGC},
	}, nil, nil)
	require.Equal(t, []grading.ServiceKey{grading.ServiceWATA, grading.ServiceCGC}, o.Sources())
}

// capturingScraper records the error its wrapped scraper returned.
type capturingScraper struct {
	grading.Scraper

	mu  sync.Mutex
	err error
}

func (c *capturingScraper) Scrape(ctx context.Context, cert grading.CertificationNumber) (grading.SourceResult, error) {
	res, err := c.Scraper.Scrape(ctx, cert)
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	return res, err
}

func (c *capturingScraper) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func TestLookupEndToEndExample(t *testing.T) {
	t.Parallel()

	site := scraper.CGC()
	site.Timeouts = scraper.Timeouts{
		Launch:     time.Second,
		Navigation: 50 * time.Millisecond,
		Selector:   50 * time.Millisecond,
		Result:     50 * time.Millisecond,
	}
	factory := browsertest.NewFactory()
	factory.SetScript(grading.ServiceCGC, browsertest.Script{
		HTML:            `<div class="certlookup-result"><h2 class="game-title">Super Mario Bros.</h2></div>`,
		Present:         []string{site.Selectors.Input, site.Selectors.Result},
		ResponseArrives: true,
	})
	pool := browser.NewPool(factory, nil, nil)
	t.Cleanup(func() { _ = pool.ReleaseAll(context.Background()) })

	o := New([]grading.Scraper{
		scraper.New(site, pool, nil, nil, nil),
		scraper.NotImplemented{Key: grading.ServiceWATA},
	}, nil, nil, nil, nil, Config{}, nil)

	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	body, err := json.Marshal(result)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"certNumber": "1234567",
		"results": [{
			"success": true,
			"source": "CGC",
			"certNumber": "1234567",
			"data": {
				"title": "Super Mario Bros.",
				"grade": null,
				"platform": null,
				"certificationDate": null,
				"populationReport": {"available": false, "data": null}
			}
		}]
	}`, string(body))
	require.Zero(t, factory.Created(grading.ServiceWATA))
}

func TestLookupSelectorTimeoutDoesNotBlockOtherSource(t *testing.T) {
	t.Parallel()

	fast := scraper.Timeouts{
		Launch:     time.Second,
		Navigation: 50 * time.Millisecond,
		Selector:   50 * time.Millisecond,
		Result:     50 * time.Millisecond,
	}
	cgcSite := scraper.CGC()
	cgcSite.Timeouts = fast
	wataSite := scraper.WATA()
	wataSite.Timeouts = fast
	wataSite.Timeouts.Selector = 150 * time.Millisecond

	factory := browsertest.NewFactory()
	factory.SetScript(grading.ServiceCGC, browsertest.Script{
		HTML:            `<div class="certlookup-result"><h2 class="game-title">Metroid</h2></div>`,
		Present:         []string{cgcSite.Selectors.Input, cgcSite.Selectors.Result},
		ResponseArrives: true,
	})
	factory.SetScript(grading.ServiceWATA, browsertest.Script{})
	pool := browser.NewPool(factory, nil, nil)
	t.Cleanup(func() { _ = pool.ReleaseAll(context.Background()) })

	wata := &capturingScraper{Scraper: scraper.New(wataSite, pool, nil, nil, nil)}
	o := newOrchestrator([]grading.Scraper{wata, scraper.New(cgcSite, pool, nil, nil, nil)}, nil, nil)

	start := time.Now()
	result, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Len(t, result.Results, 1)
	require.Equal(t, grading.ServiceCGC, result.Results[0].Source)
	require.Equal(t, "Metroid", *result.Results[0].Data.Title)

	require.ErrorIs(t, wata.Err(), grading.ErrSelectorTimeout)
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, wata.Err(), &scrapeErr)
	require.Equal(t, grading.StageSubmit, scrapeErr.Stage)
	require.Equal(t, 2, pool.Len())
}

func TestNewDefaultsClockAndIDs(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	o := New([]grading.Scraper{stubScraper{key: grading.ServiceCGC, title: "Zelda"}}, rec, nil, nil, nil, Config{}, nil)

	_, err := o.Lookup(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, rec.records, 1)
	require.NotEmpty(t, rec.records[0].ID)
	require.False(t, rec.records[0].LookedUpAt.IsZero())
}
