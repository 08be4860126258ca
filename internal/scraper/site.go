// Package scraper drives a browser page through a grading site's
// certification search form and extracts the rendered result.
package scraper

import (
	"time"

	"github.com/JakeFAU/certlookup/internal/grading"
)

// DefaultTimeout applies to every stage not configured otherwise.
const DefaultTimeout = 10 * time.Second

// Selectors locate the search form and result fields on a site. Field
// selectors are evaluated against the whole document.
type Selectors struct {
	Input  string
	Submit string
	Result string

	Title    string
	Grade    string
	Platform string
	CertDate string

	Population       string
	PopulationTotal  string
	PopulationHigher string
	PopulationSame   string
	PopulationLower  string
}

// Timeouts bound each stage of a scrape. Zero leaves the stage bounded only
// by the caller's context.
type Timeouts struct {
	Launch     time.Duration
	Navigation time.Duration
	Selector   time.Duration
	Result     time.Duration
}

// DefaultTimeouts returns DefaultTimeout for every stage.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Launch:     DefaultTimeout,
		Navigation: DefaultTimeout,
		Selector:   DefaultTimeout,
		Result:     DefaultTimeout,
	}
}

// Site describes one grading authority's lookup page.
type Site struct {
	Key grading.ServiceKey
	URL string
	// ResponsePattern is a substring of the URL of the XHR that carries the
	// lookup result. Empty means only the result selector is awaited.
	ResponsePattern string
	Selectors       Selectors
	Timeouts        Timeouts
}

// CGC is the Certified Guaranty Company video game cert lookup.
func CGC() Site {
	return Site{
		Key:             grading.ServiceCGC,
		URL:             "https://www.cgcvideogames.com/en-US/cert-lookup",
		ResponsePattern: "cert-lookup",
		Selectors: Selectors{
			Input:            `fieldset.certlookup-search__inputs input[name="certNumber"]`,
			Submit:           `fieldset.certlookup-search__inputs button.button--small.button--secondary`,
			Result:           ".certlookup-result",
			Title:            ".game-title",
			Grade:            ".grade-value",
			Platform:         ".platform",
			CertDate:         ".cert-date",
			Population:       ".population-data",
			PopulationTotal:  ".total-graded",
			PopulationHigher: ".higher-grades",
			PopulationSame:   ".same-grade",
			PopulationLower:  ".lower-grades",
		},
		Timeouts: DefaultTimeouts(),
	}
}

// WATA is the Wata Games verification page. Its selectors have not been
// verified against the live site, so it stays disabled unless configured.
func WATA() Site {
	return Site{
		Key: grading.ServiceWATA,
		URL: "https://www.watagames.com/verify",
		Selectors: Selectors{
			Input:            `input[name="certification"]`,
			Submit:           `button[type="submit"]`,
			Result:           ".verification-results",
			Title:            ".game-name",
			Grade:            ".grade",
			Platform:         ".platform",
			CertDate:         ".cert-date",
			Population:       ".population-stats",
			PopulationTotal:  ".total-population",
			PopulationHigher: ".higher",
			PopulationSame:   ".same",
			PopulationLower:  ".lower",
		},
		Timeouts: Timeouts{
			Launch:     DefaultTimeout,
			Navigation: DefaultTimeout,
			Selector:   DefaultTimeout,
			Result:     5 * time.Second,
		},
	}
}

// Builtin returns the built-in definition for key.
func Builtin(key grading.ServiceKey) (Site, bool) {
	switch key {
	case grading.ServiceCGC:
		return CGC(), true
	case grading.ServiceWATA:
		return WATA(), true
	default:
		return Site{}, false
	}
}
