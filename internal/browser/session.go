package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/config"
)

// Session owns one Chrome instance with a single tab and exposes the DOM and
// navigation operations the harness needs. Everything runs sequentially on
// the caller's control flow; chromedp's own I/O concurrency stays internal.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	// stabilize is called after navigation to let the page settle (DOM ready
	// plus network quiet). Wired by the caller once the observer exists.
	stabilize func(ctx context.Context) error

	mu       sync.Mutex
	isClosed bool
}

// NewSession launches the browser and connects a tab. The caller must Close
// the session on every exit path.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          sessionID,
		logger:      logger.Named("session").With(zap.String("session_id", sessionID)),
		cfg:         cfg,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
	}

	// Force target creation now so a launch failure surfaces here, not on
	// the first interaction.
	launchCtx, launchCancel := context.WithTimeout(tabCtx, 60*time.Second)
	defer launchCancel()
	if err := chromedp.Run(launchCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight))); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	s.logger.Info("Browser session started.",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Context exposes the tab context so the observer can attach its listener.
func (s *Session) Context() context.Context { return s.ctx }

// SetStabilizer installs the post navigation settle hook.
func (s *Session) SetStabilizer(fn func(ctx context.Context) error) { s.stabilize = fn }

// Navigate loads the URL and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(s.ctx, navTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	readyCtx, readyCancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer readyCancel()
	if err := chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		s.logger.Warn("Page body never became ready (non-critical).", zap.Error(err))
	}

	if s.stabilize != nil {
		if err := s.stabilize(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("Post navigation stabilization incomplete.", zap.Error(err))
		}
	}
	return nil
}

// CurrentPath returns the path portion of the current page URL.
func (s *Session) CurrentPath(ctx context.Context) (string, error) {
	var path string
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(`window.location.pathname`, &path)); err != nil {
		return "", fmt.Errorf("failed to read current path: %w", err)
	}
	return path, nil
}

// Click scrolls the element into view and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking element.", zap.String("selector", selector))

	tasks := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	if err := s.run(ctx, 30*time.Second, tasks); err != nil {
		return fmt.Errorf("click failed for selector %q: %w", selector, err)
	}
	return nil
}

// Count returns how many elements match the selector. Zero is not an error;
// optional UI like consent banners is routinely absent.
func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	var count int
	script := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, &count)); err != nil {
		return 0, fmt.Errorf("failed to count %q: %w", selector, err)
	}
	return count, nil
}

// Type sends literal keystrokes to the element.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	s.logger.Debug("Typing into element.", zap.String("selector", selector), zap.Int("text_length", len(text)))

	tasks := chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	}
	if err := s.run(ctx, 30*time.Second, tasks); err != nil {
		return fmt.Errorf("type failed for selector %q: %w", selector, err)
	}
	return nil
}

// SetValue assigns the element's value and dispatches the input and change
// events a real keystroke sequence would produce; analytics field listeners
// hang off those events.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.value = %q;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector, value)

	var ok bool
	if err := s.run(ctx, 15*time.Second, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("set value failed for selector %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("set value: no element matches selector %q", selector)
	}
	return nil
}

// SetChecked toggles a checkbox or radio to the desired state, dispatching a
// change event when the state flips.
func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		if (el.checked !== %t) {
			el.checked = %t;
			el.dispatchEvent(new Event('change', {bubbles: true}));
		}
		return true;
	})()`, selector, checked, checked)

	var ok bool
	if err := s.run(ctx, 15*time.Second, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("set checked failed for selector %q: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("set checked: no element matches selector %q", selector)
	}
	return nil
}

// Blur defocuses the element so blur-bound validation and analytics fire.
func (s *Session) Blur(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (el) el.blur();
		return true;
	})()`, selector)

	var ok bool
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("blur failed for selector %q: %w", selector, err)
	}
	return nil
}

// Visible reports whether the selector matches a rendered element.
func (s *Session) Visible(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		return !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	})()`, selector)

	var visible bool
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, &visible)); err != nil {
		return false, fmt.Errorf("visibility check failed for selector %q: %w", selector, err)
	}
	return visible, nil
}

// ContainsText reports whether the visible page body contains the text.
func (s *Session) ContainsText(ctx context.Context, text string) (bool, error) {
	script := fmt.Sprintf(`document.body.innerText.includes(%q)`, text)
	var found bool
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, &found)); err != nil {
		return false, fmt.Errorf("text check failed: %w", err)
	}
	return found, nil
}

// FieldValue reads the current value of a form element.
func (s *Session) FieldValue(ctx context.Context, selector string) (string, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return "";
		if (el.type === 'checkbox' || el.type === 'radio') {
			if (el.type === 'radio' && el.name) {
				const sel = document.querySelector('input[name="' + el.name + '"]:checked');
				return sel ? sel.value : "";
			}
			return el.checked ? (el.value || "on") : "";
		}
		return el.value || "";
	})()`, selector)

	var value string
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, &value)); err != nil {
		return "", fmt.Errorf("failed to read value of %q: %w", selector, err)
	}
	return value, nil
}

// OuterHTML returns the element's outer HTML, used by form auto-detection.
func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := s.run(ctx, 15*time.Second, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read outer HTML of %q: %w", selector, err)
	}
	return html, nil
}

// Evaluate runs an arbitrary page scoped script. Escape hatch for custom
// steps; res may be nil when the result is not needed.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := s.run(ctx, 30*time.Second, chromedp.Evaluate(script, res)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// ScrollTo scrolls the window to the given fraction of the page height.
func (s *Session) ScrollTo(ctx context.Context, fraction float64) error {
	script := fmt.Sprintf(`window.scrollTo({top: document.body.scrollHeight * %g, behavior: 'smooth'});`, fraction)
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// Screenshot captures the viewport to the given path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, 30*time.Second, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("screenshot capture failed: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot %q: %w", path, err)
	}
	s.logger.Info("Screenshot written.", zap.String("path", path))
	return nil
}

// Close releases the tab and browser process. Safe to call more than once
// and on partially constructed sessions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return
	}
	s.isClosed = true

	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Info("Browser session closed.")
}

// run executes chromedp actions under both the caller's context and a per
// operation timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := mergeContext(s.ctx, ctx)
	defer cancel()
	opCtx, timeoutCancel := context.WithTimeout(opCtx, timeout)
	defer timeoutCancel()
	return chromedp.Run(opCtx, actions...)
}

// mergeContext derives a context from the session that is also canceled when
// the operational context ends.
func mergeContext(session, op context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(session)
	if op == nil {
		return merged, cancel
	}
	stop := context.AfterFunc(op, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
