// Package lifecycle owns process shutdown: it collects cleanup handlers from
// long-lived resource owners and runs them exactly once when the process is
// asked to stop, whether by signal, a fatal error, or a recovered panic.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Exit codes returned by Run.
const (
	ExitGraceful = 0
	ExitFault    = 1
)

const defaultCleanupTimeout = 30 * time.Second

// Handler releases one long-lived resource.
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

type trigger struct {
	reason string
	code   int
	err    error
}

// Config controls the coordinator.
//   - Signals: OS signals treated as graceful termination (default SIGINT, SIGTERM).
//   - CleanupTimeout: bound for the whole cleanup pass (default 30s).
type Config struct {
	Signals        []os.Signal
	CleanupTimeout time.Duration
}

// Coordinator runs registered cleanup handlers once on shutdown.
type Coordinator struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	handlers []namedHandler
	started  bool

	cleanupOnce sync.Once
	cleanupDone chan struct{}

	triggerOnce sync.Once
	triggers    chan trigger
}

// New builds a Coordinator. A nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) *Coordinator {
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:         cfg,
		logger:      logger,
		cleanupDone: make(chan struct{}),
		triggers:    make(chan trigger, 1),
	}
}

// AddCleanupHandler registers fn under name. Handlers run in registration order.
func (c *Coordinator) AddCleanupHandler(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.logger.Warn("cleanup already started; handler ignored", zap.String("handler", name))
		return
	}
	c.handlers = append(c.handlers, namedHandler{name: name, fn: fn})
}

// ExecuteCleanup runs every registered handler once. Concurrent and later
// callers wait for the first run to finish and never re-run handlers.
func (c *Coordinator) ExecuteCleanup(ctx context.Context) {
	c.cleanupOnce.Do(func() {
		defer close(c.cleanupDone)

		c.mu.Lock()
		c.started = true
		handlers := append([]namedHandler(nil), c.handlers...)
		c.mu.Unlock()

		c.logger.Info("executing cleanup handlers", zap.Int("count", len(handlers)))
		for _, h := range handlers {
			if err := c.runHandler(ctx, h); err != nil {
				c.logger.Error("cleanup handler failed", zap.String("handler", h.name), zap.Error(err))
				continue
			}
			c.logger.Debug("cleanup handler finished", zap.String("handler", h.name))
		}
	})
	select {
	case <-c.cleanupDone:
	case <-ctx.Done():
	}
}

func (c *Coordinator) runHandler(ctx context.Context, h namedHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.fn(ctx)
}

// Shutdown requests a graceful stop.
func (c *Coordinator) Shutdown() {
	c.fire(trigger{reason: "shutdown requested", code: ExitGraceful})
}

// Fatal requests a fault-triggered stop.
func (c *Coordinator) Fatal(err error) {
	c.fire(trigger{reason: "fatal error", code: ExitFault, err: err})
}

// Recover converts a panic in the calling goroutine into a fault-triggered
// stop. It must be deferred directly.
func (c *Coordinator) Recover() {
	if rec := recover(); rec != nil {
		c.fire(trigger{reason: "recovered panic", code: ExitFault, err: fmt.Errorf("panic: %v", rec)})
	}
}

// Go runs fn in a goroutine guarded by Recover; a returned error is fatal.
func (c *Coordinator) Go(fn func() error) {
	go func() {
		defer c.Recover()
		if err := fn(); err != nil {
			c.Fatal(err)
		}
	}()
}

// fire records the first trigger only; later ones are coalesced.
func (c *Coordinator) fire(t trigger) {
	fired := false
	c.triggerOnce.Do(func() {
		c.triggers <- t
		fired = true
	})
	if !fired {
		c.logger.Debug("shutdown already triggered", zap.String("reason", t.reason))
	}
}

// Run blocks until a signal, Shutdown, Fatal, a recovered panic, or ctx
// cancellation, then runs cleanup once and returns the process exit code.
func (c *Coordinator) Run(ctx context.Context) int {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, c.cfg.Signals...)
	defer signal.Stop(sigCh)

	var t trigger
	select {
	case sig := <-sigCh:
		t = trigger{reason: "received " + sig.String(), code: ExitGraceful}
		c.fire(t)
	case t = <-c.triggers:
	case <-ctx.Done():
		t = trigger{reason: "context done", code: ExitGraceful}
		c.fire(t)
	}

	fields := []zap.Field{zap.String("reason", t.reason), zap.Int("exit_code", t.code)}
	if t.err != nil {
		c.logger.Error("shutting down after fault", append(fields, zap.Error(t.err))...)
	} else {
		c.logger.Info("shutting down", fields...)
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), c.cfg.CleanupTimeout)
	defer cancel()
	c.ExecuteCleanup(cleanupCtx)
	return t.code
}
