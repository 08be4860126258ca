// Package browser manages long-lived browser automation sessions, holding at
// most one live session per grading service.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/metrics"
)

// Pool owns one Session per ServiceKey. Sessions are created lazily on first
// Acquire and live until Invalidate or ReleaseAll. It is safe for concurrent use.
type Pool struct {
	factory grading.SessionFactory
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[grading.ServiceKey]grading.Session
	closed   bool

	inflight singleflight.Group
}

// NewPool builds a Pool backed by factory. When registrar is non-nil the pool
// registers ReleaseAll with it.
func NewPool(factory grading.SessionFactory, registrar grading.CleanupRegistrar, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		factory:  factory,
		logger:   logger,
		sessions: make(map[grading.ServiceKey]grading.Session),
	}
	if registrar != nil {
		registrar.AddCleanupHandler("browser-pool", p.ReleaseAll)
	}
	return p
}

// Acquire returns the live session for key, launching one if needed.
// Concurrent callers for an uninitialized key share a single launch. A failed
// launch is not cached; the next Acquire retries.
func (p *Pool) Acquire(ctx context.Context, key grading.ServiceKey) (grading.Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, grading.ErrPoolClosed
	}
	if session, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	ch := p.inflight.DoChan(string(key), func() (any, error) {
		return p.launch(key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		session, ok := res.Val.(grading.Session)
		if !ok {
			return nil, fmt.Errorf("unexpected session type %T", res.Val)
		}
		return session, nil
	case <-ctx.Done():
		return nil, &grading.BrowserInitError{Key: key, Err: ctx.Err()}
	}
}

// launch runs detached from any single caller's context so that one caller
// giving up does not abort a launch other callers are waiting on.
func (p *Pool) launch(key grading.ServiceKey) (grading.Session, error) {
	p.mu.Lock()
	if session, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	p.logger.Info("launching browser session", zap.String("service", key.String()))
	session, err := p.factory.NewSession(context.Background(), key)
	metrics.ObserveSessionInit(key.String(), err)
	if err != nil {
		p.logger.Error("browser session launch failed", zap.String("service", key.String()), zap.Error(err))
		var initErr *grading.BrowserInitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &grading.BrowserInitError{Key: key, Err: err}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if closeErr := session.Close(context.Background()); closeErr != nil {
			p.logger.Warn("close session launched during shutdown", zap.String("service", key.String()), zap.Error(closeErr))
		}
		return nil, grading.ErrPoolClosed
	}
	p.sessions[key] = session
	n := len(p.sessions)
	p.mu.Unlock()

	metrics.SetBrowserSessions(n)
	p.logger.Info("browser session ready", zap.String("service", key.String()))
	return session, nil
}

// Invalidate closes and forgets stale if it is still the live session for
// key. A session launched after stale was handed out is left alone. The next
// Acquire launches a fresh one.
func (p *Pool) Invalidate(ctx context.Context, key grading.ServiceKey, stale grading.Session) error {
	p.mu.Lock()
	session, ok := p.sessions[key]
	if !ok || stale == nil || session != stale {
		p.mu.Unlock()
		return nil
	}
	delete(p.sessions, key)
	n := len(p.sessions)
	p.mu.Unlock()

	metrics.SetBrowserSessions(n)
	if err := session.Close(ctx); err != nil {
		return fmt.Errorf("close %s session: %w", key, err)
	}
	p.logger.Info("browser session invalidated", zap.String("service", key.String()))
	return nil
}

// ReleaseAll closes every tracked session. A failure to close one session is
// logged and does not stop the others; the joined errors are returned.
func (p *Pool) ReleaseAll(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[grading.ServiceKey]grading.Session)
	p.mu.Unlock()
	metrics.SetBrowserSessions(0)

	var errs []error
	for key, session := range sessions {
		if err := session.Close(ctx); err != nil {
			p.logger.Error("error closing browser session", zap.String("service", key.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s session: %w", key, err))
			continue
		}
		p.logger.Info("browser session closed", zap.String("service", key.String()))
	}
	return errors.Join(errs...)
}

// Len reports the number of live sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Closed reports whether ReleaseAll has run.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
