package rod

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

type page struct {
	page   *rod.Page
	idle   time.Duration
	logger *zap.Logger
}

// wrap prefers ctx's error so callers can classify deadlines.
func wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func (p *page) Navigate(ctx context.Context, url string) error {
	scoped := p.page.Context(ctx)
	waitIdle := scoped.WaitRequestIdle(p.idle, nil, nil, nil)
	if err := scoped.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, wrap(ctx, err))
	}
	waitIdle()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait network idle: %w", err)
	}
	return nil
}

func (p *page) WaitPresent(ctx context.Context, selector string) error {
	if _, err := p.page.Context(ctx).Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, wrap(ctx, err))
	}
	return nil
}

func (p *page) Type(ctx context.Context, selector, text string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, wrap(ctx, err))
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %q: %w", selector, wrap(ctx, err))
	}
	return nil
}

func (p *page) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("find %q: %w", selector, wrap(ctx, err))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, wrap(ctx, err))
	}
	return nil
}

// ArmResponse subscribes immediately; the subscription ends when the returned
// func returns.
func (p *page) ArmResponse(urlPattern string) func(ctx context.Context) error {
	armCtx, cancel := context.WithCancel(context.Background())
	matched := make(chan struct{})
	wait := p.page.Context(armCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		return matchesResponse(e, urlPattern)
	})
	go func() {
		wait()
		if armCtx.Err() == nil {
			close(matched)
		}
	}()
	return func(ctx context.Context) error {
		defer cancel()
		select {
		case <-matched:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for response matching %q: %w", urlPattern, ctx.Err())
		}
	}
}

func matchesResponse(e *proto.NetworkResponseReceived, urlPattern string) bool {
	if e == nil || e.Response == nil {
		return false
	}
	return e.Response.Status == 200 && strings.Contains(e.Response.URL, urlPattern)
}

func (p *page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read outer html: %w", wrap(ctx, err))
	}
	return html, nil
}

func (p *page) Close(_ context.Context) error {
	if err := p.page.Close(); err != nil {
		p.logger.Debug("tab close", zap.Error(err))
		return fmt.Errorf("close tab: %w", err)
	}
	return nil
}
