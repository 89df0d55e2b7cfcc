package probe

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"crucible/internal/logging"
)

const defaultBrowserTimeout = 45 * time.Second

// BrowserProbe loads the worker's page in a headless browser and scores it
// on load success, console errors and the presence of expected selectors.
// Scoring starts at 100, loses 15 per missing selector and 10 per console
// error, floored at 0. A page that fails to load at all scores 0.
type BrowserProbe struct {
	Dimension string
	URL       string
	Selectors []string
	Timeout   time.Duration

	// ControlURL attaches to an already-running browser instead of
	// launching one. Used by tests and shared-browser deployments.
	ControlURL string
}

func (p *BrowserProbe) Name() string { return p.Dimension }

func (p *BrowserProbe) Run(ctx context.Context, workerID string) (*Score, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("browser probe %s has no url", p.Dimension)
	}

	tctx, cancel := context.WithTimeout(ctx, timeoutOr(p.Timeout, defaultBrowserTimeout))
	defer cancel()

	controlURL := p.ControlURL
	if controlURL == "" {
		launched, err := launcher.New().Headless(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser probe %s: launch failed: %w", p.Dimension, err)
		}
		controlURL = launched
	}

	browser := rod.New().ControlURL(controlURL).Context(tctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser probe %s: connect failed: %w", p.Dimension, err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("browser probe %s: page creation failed: %w", p.Dimension, err)
	}
	defer page.Close()

	var consoleErrors atomic.Int64
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		if e.Type == proto.RuntimeConsoleAPICalledTypeError {
			consoleErrors.Add(1)
		}
	})()

	if err := page.Timeout(timeoutOr(p.Timeout, defaultBrowserTimeout)).Navigate(p.URL); err != nil {
		logging.ProbeWarn("Browser probe %s navigation failed for worker=%s: %v", p.Dimension, workerID, err)
		return &Score{Value: 0, Details: map[string]string{"error": err.Error()}}, nil
	}
	if err := page.WaitLoad(); err != nil {
		return &Score{Value: 0, Details: map[string]string{"error": err.Error()}}, nil
	}

	missing := 0
	for _, selector := range p.Selectors {
		has, _, err := page.Has(selector)
		if err != nil || !has {
			missing++
			logging.ProbeDebug("Browser probe %s: selector %q missing for worker=%s", p.Dimension, selector, workerID)
		}
	}

	errCount := consoleErrors.Load()
	value := clampScore(100 - float64(missing)*15 - float64(errCount)*10)
	return &Score{
		Value: value,
		Details: map[string]string{
			"missing_selectors": fmt.Sprintf("%d", missing),
			"console_errors":    fmt.Sprintf("%d", errCount),
		},
	}, nil
}
