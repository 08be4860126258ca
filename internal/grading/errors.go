package grading

import (
	"errors"
	"fmt"
)

// Sentinel errors for the lookup taxonomy. Typed errors below wrap these so
// callers can branch with errors.Is.
var (
	ErrBrowserInit       = errors.New("browser init failed")
	ErrNavigationTimeout = errors.New("navigation timeout")
	ErrSelectorTimeout   = errors.New("selector timeout")
	ErrNotFound          = errors.New("certification not found")
	ErrNotImplemented    = errors.New("scraper not implemented")
	ErrAggregateNotFound = errors.New("certificate not found in any supported grading service")
	ErrInvalidCertNumber = errors.New("invalid certification number")
	ErrPoolClosed        = errors.New("browser pool closed")
)

// Stage names one step of the scrape protocol.
type Stage string

// Scrape protocol stages.
const (
	StageAcquire  Stage = "acquire"
	StageNavigate Stage = "navigate"
	StageSubmit   Stage = "submit"
	StageAwait    Stage = "await_result"
	StageExtract  Stage = "extract"
	StageClassify Stage = "classify"
)

// BrowserInitError reports a session that could not be created for Key.
type BrowserInitError struct {
	Key ServiceKey
	Err error
}

func (e *BrowserInitError) Error() string {
	return fmt.Sprintf("init browser for %s: %v", e.Key, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *BrowserInitError) Unwrap() error {
	return e.Err
}

// Is matches ErrBrowserInit.
func (e *BrowserInitError) Is(target error) bool {
	return target == ErrBrowserInit
}

// ScrapeError is the single classified error a Source Scraper returns.
type ScrapeError struct {
	Source     ServiceKey
	CertNumber CertificationNumber
	Stage      Stage
	Err        error
}

func (e *ScrapeError) Error() string {
	if e.CertNumber == "" {
		return fmt.Sprintf("%s scrape failed at %s: %v", e.Source, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s scrape of %s failed at %s: %v", e.Source, e.CertNumber, e.Stage, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// AggregateNotFoundError is returned by the orchestrator when every source failed.
type AggregateNotFoundError struct {
	CertNumber CertificationNumber
	Failures   map[ServiceKey]error
}

func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAggregateNotFound.Error(), e.CertNumber)
}

// Is matches ErrAggregateNotFound.
func (e *AggregateNotFoundError) Is(target error) bool {
	return target == ErrAggregateNotFound
}

// Reason maps an error to a short metrics/log label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotImplemented):
		return "not_implemented"
	case errors.Is(err, ErrBrowserInit):
		return "browser_init"
	case errors.Is(err, ErrNavigationTimeout):
		return "navigation_timeout"
	case errors.Is(err, ErrSelectorTimeout):
		return "selector_timeout"
	case errors.Is(err, ErrPoolClosed):
		return "pool_closed"
	default:
		return "error"
	}
}
