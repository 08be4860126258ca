package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/certlookup/internal/browser"
	"github.com/JakeFAU/certlookup/internal/browser/browsertest"
	"github.com/JakeFAU/certlookup/internal/grading"
)

const cgcResultHTML = `<html><body>
<div class="certlookup-result">
  <h2 class="game-title"> Super Mario 64 </h2>
  <span class="grade-value">9.8</span>
  <span class="platform">Nintendo 64</span>
  <span class="cert-date">2023-04-01</span>
  <div class="population-data">
    <span class="total-graded">120</span>
    <span class="higher-grades">2</span>
    <span class="same-grade">10</span>
    <span class="lower-grades">108</span>
  </div>
</div>
</body></html>`

const cgcEmptyHTML = `<html><body><div class="certlookup-result"><p>No results</p></div></body></html>`

func fastCGC() Site {
	site := CGC()
	site.Timeouts = Timeouts{
		Launch:     time.Second,
		Navigation: 50 * time.Millisecond,
		Selector:   50 * time.Millisecond,
		Result:     50 * time.Millisecond,
	}
	return site
}

func cgcScript(html string) browsertest.Script {
	sel := CGC().Selectors
	return browsertest.Script{
		HTML:            html,
		Present:         []string{sel.Input, sel.Result},
		ResponseArrives: true,
	}
}

type stubSnapshotter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSnapshotter) Snapshot(_ context.Context, source grading.ServiceKey, cert grading.CertificationNumber, html []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "memory://snapshots/" + source.String() + "/" + cert.String() + ".html", nil
}

type countingPacer struct {
	mu    sync.Mutex
	calls map[grading.ServiceKey]int
}

func (p *countingPacer) Wait(_ context.Context, key grading.ServiceKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[grading.ServiceKey]int)
	}
	p.calls[key]++
	return nil
}

func newHarness(t *testing.T, script browsertest.Script) (*browsertest.Factory, *browser.Pool) {
	t.Helper()
	factory := browsertest.NewFactory()
	factory.SetScript(grading.ServiceCGC, script)
	pool := browser.NewPool(factory, nil, nil)
	t.Cleanup(func() { _ = pool.ReleaseAll(context.Background()) })
	return factory, pool
}

func TestScrapeSuccess(t *testing.T) {
	t.Parallel()

	factory, pool := newHarness(t, cgcScript(cgcResultHTML))
	snaps := &stubSnapshotter{}
	pacer := &countingPacer{}
	s := New(fastCGC(), pool, pacer, snaps, nil)

	result, err := s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, grading.ServiceCGC, result.Source)
	require.Equal(t, grading.CertificationNumber("1234567"), result.CertNumber)
	require.Equal(t, "Super Mario 64", *result.Data.Title)
	require.Equal(t, "9.8", *result.Data.Grade)
	require.Equal(t, "Nintendo 64", *result.Data.Platform)
	require.Equal(t, "2023-04-01", *result.Data.CertificationDate)
	require.True(t, result.Data.PopulationReport.Available)
	require.Equal(t, "120", *result.Data.PopulationReport.Data.TotalGraded)
	require.Equal(t, "108", *result.Data.PopulationReport.Data.LowerGrades)
	require.Equal(t, "memory://snapshots/CGC/1234567.html", result.SnapshotURI)
	require.Equal(t, 1, pacer.calls[grading.ServiceCGC])

	require.Len(t, factory.Sessions, 1)
	session := factory.Sessions[0]
	require.Equal(t, 1, session.PagesOpened())
	require.Equal(t, 1, session.PagesClosed())
	require.False(t, session.Closed())
}

func TestScrapeReusesSession(t *testing.T) {
	t.Parallel()

	factory, pool := newHarness(t, cgcScript(cgcResultHTML))
	s := New(fastCGC(), pool, nil, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := s.Scrape(context.Background(), "1234567")
		require.NoError(t, err)
	}
	require.Equal(t, 1, factory.Created(grading.ServiceCGC))
	require.Equal(t, 3, factory.Sessions[0].PagesClosed())
}

func TestScrapeMissingTitleIsNotFound(t *testing.T) {
	t.Parallel()

	factory, pool := newHarness(t, cgcScript(cgcEmptyHTML))
	snaps := &stubSnapshotter{}
	s := New(fastCGC(), pool, nil, snaps, nil)

	_, err := s.Scrape(context.Background(), "7654321")
	require.ErrorIs(t, err, grading.ErrNotFound)

	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.StageClassify, scrapeErr.Stage)
	require.Equal(t, grading.ServiceCGC, scrapeErr.Source)
	require.Zero(t, snaps.calls)

	session := factory.Sessions[0]
	require.Equal(t, 1, session.PagesClosed())
	require.False(t, session.Closed())
}

func TestScrapeInputNeverAppears(t *testing.T) {
	t.Parallel()

	script := cgcScript(cgcResultHTML)
	script.Present = nil
	factory, pool := newHarness(t, script)
	s := New(fastCGC(), pool, nil, nil, nil)

	_, err := s.Scrape(context.Background(), "1234567")
	require.ErrorIs(t, err, grading.ErrSelectorTimeout)
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.StageSubmit, scrapeErr.Stage)
	require.Equal(t, 1, factory.Sessions[0].PagesClosed())
}

func TestScrapeNavigationTimeout(t *testing.T) {
	t.Parallel()

	script := cgcScript(cgcResultHTML)
	script.HangNavigate = true
	factory, pool := newHarness(t, script)
	s := New(fastCGC(), pool, nil, nil, nil)

	_, err := s.Scrape(context.Background(), "1234567")
	require.ErrorIs(t, err, grading.ErrNavigationTimeout)
	require.Equal(t, 1, factory.Sessions[0].PagesClosed())
	require.Equal(t, 1, pool.Len())
}

func TestScrapeWithoutResultSignalStillExtracts(t *testing.T) {
	t.Parallel()

	sel := CGC().Selectors
	_, pool := newHarness(t, browsertest.Script{
		HTML:    cgcResultHTML,
		Present: []string{sel.Input},
	})
	s := New(fastCGC(), pool, nil, nil, nil)

	result, err := s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
	require.Equal(t, "Super Mario 64", *result.Data.Title)
}

func TestScrapeSnapshotFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	_, pool := newHarness(t, cgcScript(cgcResultHTML))
	snaps := &stubSnapshotter{err: errors.New("bucket unavailable")}
	s := New(fastCGC(), pool, nil, snaps, nil)

	result, err := s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
	require.Empty(t, result.SnapshotURI)
	require.Equal(t, 1, snaps.calls)
}

func TestScrapeClickFailure(t *testing.T) {
	t.Parallel()

	script := cgcScript(cgcResultHTML)
	script.ClickErr = errors.New("element not clickable")
	factory, pool := newHarness(t, script)
	s := New(fastCGC(), pool, nil, nil, nil)

	_, err := s.Scrape(context.Background(), "1234567")
	require.Error(t, err)
	require.NotErrorIs(t, err, grading.ErrSelectorTimeout)
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.StageSubmit, scrapeErr.Stage)
	require.Equal(t, 1, factory.Sessions[0].PagesClosed())
}

func TestScrapeBrowserInitFailure(t *testing.T) {
	t.Parallel()

	factory, pool := newHarness(t, cgcScript(cgcResultHTML))
	factory.FailNext(grading.ServiceCGC, errors.New("chrome missing"))
	s := New(fastCGC(), pool, nil, nil, nil)

	_, err := s.Scrape(context.Background(), "1234567")
	require.ErrorIs(t, err, grading.ErrBrowserInit)
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.StageAcquire, scrapeErr.Stage)

	_, err = s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
}

func TestScrapeDeadSessionIsReplaced(t *testing.T) {
	t.Parallel()

	factory, pool := newHarness(t, cgcScript(cgcResultHTML))
	s := New(fastCGC(), pool, nil, nil, nil)

	_, err := s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
	require.Len(t, factory.Sessions, 1)
	factory.Sessions[0].Crash()

	_, err = s.Scrape(context.Background(), "1234567")
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.StageNavigate, scrapeErr.Stage)
	require.Equal(t, 0, pool.Len())

	result, err := s.Scrape(context.Background(), "1234567")
	require.NoError(t, err)
	require.Equal(t, "Super Mario 64", *result.Data.Title)
	require.Equal(t, 2, factory.Created(grading.ServiceCGC))
	require.False(t, factory.Sessions[1].Closed())
}

func TestNotImplementedSkipsPool(t *testing.T) {
	t.Parallel()

	s := NotImplemented{Key: grading.ServiceWATA}
	require.Equal(t, grading.ServiceWATA, s.Source())

	_, err := s.Scrape(context.Background(), "1234567")
	require.ErrorIs(t, err, grading.ErrNotImplemented)
	var scrapeErr *grading.ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, grading.ServiceWATA, scrapeErr.Source)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	record, err := Extract(cgcResultHTML, CGC().Selectors)
	require.NoError(t, err)
	require.True(t, record.HasTitle())
	require.Equal(t, "Super Mario 64", *record.Title)
	require.Equal(t, "2", *record.PopulationReport.Data.HigherGrades)
	require.Equal(t, "10", *record.PopulationReport.Data.SameGrade)

	record, err = Extract(`<div class="game-title">Zelda</div><span class="grade-value">  </span>`, CGC().Selectors)
	require.NoError(t, err)
	require.Equal(t, "Zelda", *record.Title)
	require.Equal(t, "", *record.Grade)
	require.Nil(t, record.Platform)
	require.False(t, record.PopulationReport.Available)
	require.Nil(t, record.PopulationReport.Data)

	record, err = Extract(`<div class="game-title">   </div>`, CGC().Selectors)
	require.NoError(t, err)
	require.False(t, record.HasTitle())
}

func TestBuiltin(t *testing.T) {
	t.Parallel()

	site, ok := Builtin(grading.ServiceCGC)
	require.True(t, ok)
	require.Equal(t, "https://www.cgcvideogames.com/en-US/cert-lookup", site.URL)
	require.Equal(t, "cert-lookup", site.ResponsePattern)

	site, ok = Builtin(grading.ServiceWATA)
	require.True(t, ok)
	require.Empty(t, site.ResponsePattern)
	require.Equal(t, 5*time.Second, site.Timeouts.Result)

	_, ok = Builtin("PSA")
	require.False(t, ok)
}
