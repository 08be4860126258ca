package scraper

import (
	"context"

	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/metrics"
)

// NotImplemented stands in for a registered service whose scraper is not
// available. It fails every lookup without touching the browser pool.
type NotImplemented struct {
	Key grading.ServiceKey
}

// Source implements grading.Scraper.
func (n NotImplemented) Source() grading.ServiceKey {
	return n.Key
}

// Scrape implements grading.Scraper.
func (n NotImplemented) Scrape(_ context.Context, cert grading.CertificationNumber) (grading.SourceResult, error) {
	metrics.ObserveScrape(n.Key.String(), grading.Reason(grading.ErrNotImplemented))
	return grading.SourceResult{}, &grading.ScrapeError{
		Source:     n.Key,
		CertNumber: cert,
		Stage:      grading.StageAcquire,
		Err:        grading.ErrNotImplemented,
	}
}
