package actions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/analytics"
	"github.com/codedbyjessica/ga4audit/internal/config"
)

// Driver is the slice of the browser session the runner drives. Kept small
// so tests can substitute a fake.
type Driver interface {
	Click(ctx context.Context, selector string) error
	Count(ctx context.Context, selector string) (int, error)
	Type(ctx context.Context, selector, text string) error
}

// StepKind tags the step variants.
type StepKind int

const (
	StepWait StepKind = iota
	StepClick
	StepType
	StepCustom
	StepRemoveCookieBanner
)

func (k StepKind) String() string {
	switch k {
	case StepWait:
		return "wait"
	case StepClick:
		return "click"
	case StepType:
		return "type"
	case StepCustom:
		return "custom"
	case StepRemoveCookieBanner:
		return "remove_cookie_banner"
	}
	return "unknown"
}

// Step is one declarative action. Each kind carries only the data it needs;
// the custom variant holds an opaque callback as the escape hatch for site
// quirks no declarative step covers.
type Step struct {
	Kind     StepKind
	Duration time.Duration // wait: zero means the configured default
	Selector string        // click, type
	Text     string        // type
	Required bool          // click: missing selector aborts instead of warns
	Name     string        // custom: label for logging
	Fn       func(ctx context.Context) error
}

// Wait pauses for the given duration.
func Wait(d time.Duration) Step { return Step{Kind: StepWait, Duration: d} }

// WaitDefault pauses for the configured default (the bare wait marker).
func WaitDefault() Step { return Step{Kind: StepWait} }

// Click clicks the selector, tolerating its absence with a warning.
func Click(selector string) Step { return Step{Kind: StepClick, Selector: selector} }

// ClickRequired clicks the selector and aborts the sequence if it is missing.
func ClickRequired(selector string) Step {
	return Step{Kind: StepClick, Selector: selector, Required: true}
}

// Type enters literal text into the selector.
func Type(selector, text string) Step {
	return Step{Kind: StepType, Selector: selector, Text: text}
}

// Custom wraps an arbitrary callback.
func Custom(name string, fn func(ctx context.Context) error) Step {
	return Step{Kind: StepCustom, Name: name, Fn: fn}
}

// RemoveCookieBanner tries the configured consent banner selectors in order.
func RemoveCookieBanner() Step { return Step{Kind: StepRemoveCookieBanner} }

// FromConfig converts declarative hook steps into runner steps.
func FromConfig(steps []config.StepConfig) ([]Step, error) {
	out := make([]Step, 0, len(steps))
	for i, sc := range steps {
		switch sc.Kind {
		case "wait":
			out = append(out, Wait(time.Duration(sc.WaitMs)*time.Millisecond))
		case "click":
			if sc.Selector == "" {
				return nil, fmt.Errorf("steps[%d]: click needs a selector", i)
			}
			step := Click(sc.Selector)
			step.Required = sc.Required
			out = append(out, step)
		case "type":
			if sc.Selector == "" {
				return nil, fmt.Errorf("steps[%d]: type needs a selector", i)
			}
			out = append(out, Type(sc.Selector, sc.Text))
		case "remove_cookie_banner":
			out = append(out, RemoveCookieBanner())
		default:
			return nil, fmt.Errorf("steps[%d]: unsupported step kind %q", i, sc.Kind)
		}
	}
	return out, nil
}

// Runner executes step sequences strictly in order. A failing step aborts
// the remainder, except the kinds defined to tolerate absent elements.
type Runner struct {
	logger      *zap.Logger
	driver      Driver
	correlator  *analytics.Correlator
	banners     []string
	defaultWait time.Duration
}

// NewRunner builds a runner. The correlator may be nil when triggering
// timestamps are not needed (pure setup sequences).
func NewRunner(driver Driver, correlator *analytics.Correlator, banners []string, defaultWait time.Duration, logger *zap.Logger) *Runner {
	if defaultWait <= 0 {
		defaultWait = time.Second
	}
	return &Runner{
		logger:      logger.Named("runner"),
		driver:      driver,
		correlator:  correlator,
		banners:     banners,
		defaultWait: defaultWait,
	}
}

// Run executes the steps sequentially. The first hard error aborts the
// remaining sequence and is surfaced with step context.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runStep(ctx, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Kind, err)
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, step Step) error {
	switch step.Kind {
	case StepWait:
		d := step.Duration
		if d <= 0 {
			d = r.defaultWait
		}
		r.logger.Debug("Waiting.", zap.Duration("duration", d))
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case StepClick:
		count, err := r.driver.Count(ctx, step.Selector)
		if err != nil {
			return fmt.Errorf("failed to resolve selector %q: %w", step.Selector, err)
		}
		if count == 0 {
			if step.Required {
				return fmt.Errorf("required selector %q matched no elements", step.Selector)
			}
			// Optional UI like banners and decorative buttons may be absent.
			r.logger.Warn("Selector matched no elements; skipping click.", zap.String("selector", step.Selector))
			return nil
		}
		if r.correlator != nil {
			r.correlator.RecordAction(analytics.ActionClick, step.Selector)
		}
		return r.driver.Click(ctx, step.Selector)

	case StepType:
		return r.driver.Type(ctx, step.Selector, step.Text)

	case StepCustom:
		if step.Fn == nil {
			return fmt.Errorf("custom step %q has no callback", step.Name)
		}
		r.logger.Debug("Running custom step.", zap.String("name", step.Name))
		return step.Fn(ctx)

	case StepRemoveCookieBanner:
		return r.removeCookieBanner(ctx)
	}
	return fmt.Errorf("unsupported step kind %d", step.Kind)
}

// removeCookieBanner tries each known consent framework selector in order.
// All of them being absent is normal; a click error on a present banner is
// logged and tolerated.
func (r *Runner) removeCookieBanner(ctx context.Context) error {
	for _, selector := range r.banners {
		count, err := r.driver.Count(ctx, selector)
		if err != nil {
			return fmt.Errorf("failed to probe banner selector %q: %w", selector, err)
		}
		if count == 0 {
			continue
		}
		if err := r.driver.Click(ctx, selector); err != nil {
			r.logger.Info("Cookie banner present but dismissal failed.",
				zap.String("selector", selector), zap.Error(err))
			continue
		}
		r.logger.Info("Cookie banner dismissed.", zap.String("selector", selector))
		return nil
	}
	r.logger.Info("No known cookie banner found.")
	return nil
}
