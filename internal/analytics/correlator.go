package analytics

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventSource is the slice of the observer the correlator reads.
type EventSource interface {
	Events() []CapturedEvent
}

// Correlator pairs triggering actions with captured analytics events. It is
// owned by the test run session; call ResetPending between scenarios so a
// stale action from one scenario can never claim an event from the next.
type Correlator struct {
	logger     *zap.Logger
	source     EventSource
	classifier *Classifier

	minDelay     time.Duration
	pollInterval time.Duration

	// now is swappable for tests.
	now func() time.Time

	mu      sync.Mutex
	pending map[ActionKind]TriggeringAction
}

// NewCorrelator wires the correlator to an event source and classifier.
func NewCorrelator(source EventSource, classifier *Classifier, minDelay, pollInterval time.Duration, logger *zap.Logger) *Correlator {
	return &Correlator{
		logger:       logger.Named("correlator"),
		source:       source,
		classifier:   classifier,
		minDelay:     minDelay,
		pollInterval: pollInterval,
		now:          time.Now,
		pending:      make(map[ActionKind]TriggeringAction),
	}
}

// RecordAction stamps the current time as the pending action for the kind.
// Only the most recent action of a kind matters; earlier ones are overwritten.
func (c *Correlator) RecordAction(kind ActionKind, descriptor string) TriggeringAction {
	action := TriggeringAction{Time: c.now(), Kind: kind, Descriptor: descriptor}
	c.mu.Lock()
	c.pending[kind] = action
	c.mu.Unlock()

	c.logger.Debug("Recorded triggering action.",
		zap.String("kind", string(kind)),
		zap.String("descriptor", descriptor),
	)
	return action
}

// ResetPending drops all pending actions. Call between scenarios.
func (c *Correlator) ResetPending() {
	c.mu.Lock()
	c.pending = make(map[ActionKind]TriggeringAction)
	c.mu.Unlock()
}

// AwaitEvent polls the event log for the earliest event that classifies under
// the pending action's kind and lies inside the correlation window
// [actionTime+minDelay, actionTime+timeout]. The earliest such event decides
// the verdict: expectations all holding is a pass, any failing is a mismatch.
// No event before the window closes is a timeout verdict, never a pass.
//
// Returns an error only for harness misuse (no pending action of the kind).
func (c *Correlator) AwaitEvent(ctx context.Context, kind ActionKind, expects []Expectation, timeout time.Duration) (CorrelationResult, error) {
	c.mu.Lock()
	action, ok := c.pending[kind]
	c.mu.Unlock()
	if !ok {
		return CorrelationResult{}, fmt.Errorf("no pending %s action to correlate", kind)
	}

	windowStart := action.Time.Add(c.minDelay)
	deadline := action.Time.Add(timeout)

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if ev, found := c.earliestMatch(kind, windowStart, deadline); found {
			return c.judge(action, ev, expects), nil
		}

		if c.now().After(deadline) {
			elapsed := c.now().Sub(action.Time)
			c.logger.Debug("Correlation window closed without a matching event.",
				zap.String("kind", string(kind)),
				zap.String("descriptor", action.Descriptor),
				zap.Duration("elapsed", elapsed),
			)
			return CorrelationResult{
				Action:  action,
				Verdict: VerdictTimeout,
				Detail:  fmt.Sprintf("no %s event within %s of %q", kind, timeout, action.Descriptor),
				Elapsed: elapsed,
			}, nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return CorrelationResult{
				Action:  action,
				Verdict: VerdictTimeout,
				Detail:  fmt.Sprintf("wait aborted: %v", err),
				Elapsed: c.now().Sub(action.Time),
			}, nil
		}
	}
}

// earliestMatch scans the log in capture order; events are expected to fire
// once per threshold crossing, so the first one in the window wins.
func (c *Correlator) earliestMatch(kind ActionKind, windowStart, deadline time.Time) (CapturedEvent, bool) {
	for _, ev := range c.source.Events() {
		if ev.Time.Before(windowStart) || ev.Time.After(deadline) {
			continue
		}
		if c.classifier.Matches(kind, ev) {
			return ev, true
		}
	}
	return CapturedEvent{}, false
}

func (c *Correlator) judge(action TriggeringAction, ev CapturedEvent, expects []Expectation) CorrelationResult {
	elapsed := ev.Time.Sub(action.Time)
	result := CorrelationResult{
		Action:  action,
		Event:   &ev,
		Verdict: VerdictPass,
		Elapsed: elapsed,
	}

	var failures []string
	for _, x := range expects {
		if ok, detail := x.Check(ev); !ok {
			failures = append(failures, detail)
		}
	}
	if len(failures) > 0 {
		result.Verdict = VerdictMismatch
		result.Detail = strings.Join(failures, "; ")
		c.logger.Debug("Correlated event mismatched expectations.",
			zap.String("kind", string(action.Kind)),
			zap.String("detail", result.Detail),
		)
	}
	return result
}
