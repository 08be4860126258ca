package grading

import (
	"context"
	"time"
)

// Session is a long-lived browser automation handle reused across lookups
// for one ServiceKey.
type Session interface {
	// NewPage opens a fresh tab with the configured viewport.
	NewPage(ctx context.Context) (Page, error)
	// Close tears down the browser process.
	Close(ctx context.Context) error
}

// SessionFactory creates a new Session for key.
type SessionFactory interface {
	NewSession(ctx context.Context, key ServiceKey) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context, key ServiceKey) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context, key ServiceKey) (Session, error) {
	return f(ctx, key)
}

// Page is one tab within a Session. Every method blocks until its condition
// holds or ctx is done.
type Page interface {
	// Navigate loads url and waits for network activity to settle.
	Navigate(ctx context.Context, url string) error
	// WaitPresent waits for selector to be present in the DOM.
	WaitPresent(ctx context.Context, selector string) error
	// Type writes text into the element matching selector.
	Type(ctx context.Context, selector, text string) error
	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string) error
	// ArmResponse starts watching for a 200 response whose URL contains
	// urlPattern. The returned func blocks until one arrives or ctx is done.
	ArmResponse(urlPattern string) func(ctx context.Context) error
	// HTML returns the rendered document's outer HTML.
	HTML(ctx context.Context) (string, error)
	// Close closes the tab.
	Close(ctx context.Context) error
}

// SessionProvider hands out the shared session for a service.
type SessionProvider interface {
	Acquire(ctx context.Context, key ServiceKey) (Session, error)
}

// Scraper executes the lookup protocol against one grading service.
type Scraper interface {
	Source() ServiceKey
	Scrape(ctx context.Context, cert CertificationNumber) (SourceResult, error)
}

// Snapshotter archives the rendered result page of a successful scrape.
type Snapshotter interface {
	Snapshot(ctx context.Context, source ServiceKey, cert CertificationNumber, html []byte) (string, error)
}

// LookupRecorder persists lookup history.
type LookupRecorder interface {
	RecordLookup(ctx context.Context, record LookupRecord) error
}

// LookupHistory reads lookup history for a certification number, most recent first.
type LookupHistory interface {
	ListLookups(ctx context.Context, cert CertificationNumber, limit int) ([]LookupRecord, error)
}

// Blob is one archived artifact.
type Blob struct {
	Path        string
	ContentType string
	Data        []byte
	// Metadata is attached to the object where the backend supports it.
	Metadata map[string]string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, blob Blob) (string, error)
}

// Publisher pushes lookup events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lookup IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// CleanupRegistrar accepts cleanup handlers from resource owners.
type CleanupRegistrar interface {
	AddCleanupHandler(name string, handler func(ctx context.Context) error)
}
