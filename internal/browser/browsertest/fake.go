// Package browsertest provides scriptable in-memory sessions and pages for
// exercising the pool, scrapers, and orchestrator without a browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/certlookup/internal/grading"
)

// Script describes how every page opened by a Session behaves.
//   - HTML: document returned by Page.HTML.
//   - Present: selectors that WaitPresent finds immediately; others block
//     until ctx is done.
//   - ResponseArrives: whether armed response waits succeed.
//   - NavigateErr / TypeErr / ClickErr / HTMLErr: injected failures.
//   - HangNavigate: Navigate blocks until ctx is done.
type Script struct {
	HTML            string
	Present         []string
	ResponseArrives bool
	NavigateErr     error
	TypeErr         error
	ClickErr        error
	HTMLErr         error
	HangNavigate    bool
}

// Factory is a counting grading.SessionFactory.
type Factory struct {
	mu      sync.Mutex
	scripts map[grading.ServiceKey]Script
	errs    map[grading.ServiceKey]error
	created map[grading.ServiceKey]int
	gate    chan struct{}

	Sessions []*Session
}

// NewFactory returns a Factory where every key uses script unless overridden.
func NewFactory() *Factory {
	return &Factory{
		scripts: make(map[grading.ServiceKey]Script),
		errs:    make(map[grading.ServiceKey]error),
		created: make(map[grading.ServiceKey]int),
	}
}

// SetScript sets the page script for key.
func (f *Factory) SetScript(key grading.ServiceKey, script Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[key] = script
}

// FailNext makes the next NewSession call for key return err.
func (f *Factory) FailNext(key grading.ServiceKey, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

// Gate makes NewSession block until the returned release func is called.
func (f *Factory) Gate() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	gate := f.gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// NewSession implements grading.SessionFactory.
func (f *Factory) NewSession(ctx context.Context, key grading.ServiceKey) (grading.Session, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait gate: %w", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[key]++
	if err, ok := f.errs[key]; ok {
		delete(f.errs, key)
		return nil, err
	}
	s := &Session{Key: key, script: f.scripts[key]}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

// Created reports how many sessions were launched for key.
func (f *Factory) Created(key grading.ServiceKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[key]
}

// Session is a fake grading.Session.
type Session struct {
	Key      grading.ServiceKey
	CloseErr error

	script      Script
	pagesOpened atomic.Int32
	pagesClosed atomic.Int32
	closed      atomic.Bool
}

// NewPage implements grading.Session.
func (s *Session) NewPage(_ context.Context) (grading.Page, error) {
	if s.closed.Load() {
		return nil, errors.New("session closed")
	}
	s.pagesOpened.Add(1)
	return &Page{session: s, script: s.script}, nil
}

// Close implements grading.Session.
func (s *Session) Close(_ context.Context) error {
	s.closed.Store(true)
	return s.CloseErr
}

// Crash makes every later NewPage fail, as if the browser process died.
func (s *Session) Crash() {
	s.closed.Store(true)
}

// Closed reports whether Close or Crash was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// PagesOpened reports how many pages were opened.
func (s *Session) PagesOpened() int {
	return int(s.pagesOpened.Load())
}

// PagesClosed reports how many pages were closed.
func (s *Session) PagesClosed() int {
	return int(s.pagesClosed.Load())
}

// Page is a fake grading.Page driven by a Script.
type Page struct {
	session *Session
	script  Script

	mu    sync.Mutex
	typed map[string]string
	url   string
}

// Navigate implements grading.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.script.HangNavigate {
		<-ctx.Done()
		return fmt.Errorf("navigate %s: %w", url, ctx.Err())
	}
	if p.script.NavigateErr != nil {
		return p.script.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

// WaitPresent implements grading.Page.
func (p *Page) WaitPresent(ctx context.Context, selector string) error {
	for _, s := range p.script.Present {
		if s == selector {
			return nil
		}
	}
	<-ctx.Done()
	return fmt.Errorf("wait %q: %w", selector, ctx.Err())
}

// Type implements grading.Page.
func (p *Page) Type(_ context.Context, selector, text string) error {
	if p.script.TypeErr != nil {
		return p.script.TypeErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typed == nil {
		p.typed = make(map[string]string)
	}
	p.typed[selector] += text
	return nil
}

// Click implements grading.Page.
func (p *Page) Click(_ context.Context, _ string) error {
	return p.script.ClickErr
}

// ArmResponse implements grading.Page.
func (p *Page) ArmResponse(_ string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p.script.ResponseArrives {
			return nil
		}
		<-ctx.Done()
		return fmt.Errorf("wait response: %w", ctx.Err())
	}
}

// HTML implements grading.Page.
func (p *Page) HTML(_ context.Context) (string, error) {
	if p.script.HTMLErr != nil {
		return "", p.script.HTMLErr
	}
	return p.script.HTML, nil
}

// Close implements grading.Page.
func (p *Page) Close(_ context.Context) error {
	p.session.pagesClosed.Add(1)
	return nil
}

// Typed returns the text typed into selector.
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}
