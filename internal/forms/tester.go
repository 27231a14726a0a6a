package forms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codedbyjessica/ga4audit/internal/analytics"
	"github.com/codedbyjessica/ga4audit/internal/config"
)

// State names the form tester's per scenario state machine positions.
type State string

const (
	StateIdle            State = "idle"
	StateFieldsFilled    State = "fields_filled"
	StateSubmitted       State = "submitted"
	StateSuccessObserved State = "success_observed"
	StateErrorsObserved  State = "errors_observed"
	// StatePartialErrors: some expected error selectors appeared but the set
	// never completed within the bound. MissingErrors lists the gap.
	StatePartialErrors State = "partial_errors"
	// StateTimeout: neither success nor any expected error appeared in the
	// bound. Reported distinctly from a partial error set.
	StateTimeout State = "timeout"
)

// Scenario selects which test value bucket fills the form.
type Scenario string

const (
	ScenarioValid       Scenario = "valid"
	ScenarioEmpty       Scenario = "empty"
	ScenarioInvalid     Scenario = "invalid"
	ScenarioAlternative Scenario = "alternative"
)

// Outcome is the result of one scenario run against one form.
type Outcome struct {
	FormPage     string
	Scenario     Scenario
	InvalidField string
	State        State

	// MissingErrors enumerates expected error selectors that never became
	// visible; a partial match is a failure, not an ErrorsObserved pass.
	MissingErrors []string

	// UnexpectedErrors lists error selectors that appeared although the
	// scenario did not expect them (e.g. a clean field flagged invalid).
	UnexpectedErrors []string

	// FieldEvents holds field completion correlation results when field
	// tracking is on.
	FieldEvents []analytics.CorrelationResult

	// SubmitEvent is the form_submit correlation result, when tracked.
	SubmitEvent *analytics.CorrelationResult

	AutoDetected bool
	Elapsed      time.Duration
}

// Passed reports whether the observed state matches what the scenario
// demands. Analytics mismatches on tracked events also fail the outcome.
func (o *Outcome) Passed() bool {
	var stateOK bool
	switch o.Scenario {
	case ScenarioEmpty, ScenarioInvalid:
		stateOK = o.State == StateErrorsObserved &&
			len(o.MissingErrors) == 0 && len(o.UnexpectedErrors) == 0
	default:
		stateOK = o.State == StateSuccessObserved
	}
	if !stateOK {
		return false
	}
	for _, fe := range o.FieldEvents {
		if fe.Verdict != analytics.VerdictPass {
			return false
		}
	}
	if o.SubmitEvent != nil && o.SubmitEvent.Verdict != analytics.VerdictPass {
		return false
	}
	return true
}

// Tester runs form scenarios. One Tester serves a whole run; per scenario
// state lives on the stack of RunScenario.
type Tester struct {
	logger     *zap.Logger
	driver     Driver
	correlator *analytics.Correlator
	timing     config.TimingConfig

	// TrackFieldEvents turns on per field form_field correlation. Needs a
	// form with a tracking form code.
	TrackFieldEvents bool
}

// NewTester wires the form tester. The correlator may be nil when analytics
// correlation is not wanted (pure form validation audits).
func NewTester(driver Driver, correlator *analytics.Correlator, timing config.TimingConfig, logger *zap.Logger) *Tester {
	return &Tester{
		logger:     logger.Named("forms"),
		driver:     driver,
		correlator: correlator,
		timing:     timing,
	}
}

// RunScenario drives one scenario against one form. A returned error is an
// interaction or configuration failure that aborted the scenario; assertion
// failures live in the Outcome instead.
func (t *Tester) RunScenario(ctx context.Context, form *config.FormConfig, scenario Scenario, invalidField string) (*Outcome, error) {
	started := time.Now()
	outcome := &Outcome{
		FormPage:     form.Page,
		Scenario:     scenario,
		InvalidField: invalidField,
		State:        StateIdle,
	}
	defer func() { outcome.Elapsed = time.Since(started) }()

	if scenario == ScenarioInvalid {
		field, ok := form.Field(invalidField)
		if !ok {
			return outcome, fmt.Errorf("invalid scenario: unknown field %q", invalidField)
		}
		if field.ErrorSelector == "" {
			return outcome, fmt.Errorf("invalid scenario: field %q has no error_selector", invalidField)
		}
	}

	if t.correlator != nil {
		// A pending action from a previous scenario must never claim this
		// scenario's events.
		t.correlator.ResetPending()
	}

	t.logger.Info("Running form scenario.",
		zap.String("form", form.Page),
		zap.String("scenario", string(scenario)),
		zap.String("invalid_field", invalidField),
	)

	if err := t.fillFields(ctx, form, scenario, invalidField, outcome); err != nil {
		return outcome, err
	}
	outcome.State = StateFieldsFilled

	if err := t.submit(ctx, form, outcome); err != nil {
		return outcome, err
	}
	outcome.State = StateSubmitted

	t.observeOutcome(ctx, form, scenario, invalidField, outcome)

	if t.correlator != nil && form.Tracking.FormCode != "" && outcome.State == StateSuccessObserved {
		res, err := t.correlator.AwaitEvent(ctx, analytics.ActionFormSubmit,
			[]analytics.Expectation{{Param: "formCode", Value: form.Tracking.FormCode}},
			t.timing.SubmitWaitTimeout)
		if err == nil {
			outcome.SubmitEvent = &res
		}
	}

	return outcome, nil
}

// fillFields walks the configured fields in declaration order, honoring
// conditional visibility and the inter field delay.
func (t *Tester) fillFields(ctx context.Context, form *config.FormConfig, scenario Scenario, invalidField string, outcome *Outcome) error {
	set := make(map[string]string, len(form.Fields))

	for i := range form.Fields {
		field := &form.Fields[i]

		if !t.conditionMet(ctx, form, field.Conditional, set) {
			// The dependency is unmet so the field is assumed hidden; its
			// selector must not be touched at all.
			t.logger.Debug("Skipping conditional field.",
				zap.String("field", field.Name),
				zap.String("depends_on", field.Conditional.DependsOn),
			)
			continue
		}

		value := scenarioValue(field, scenario, invalidField)
		if scenario == ScenarioEmpty && field.Type != config.FieldText &&
			field.Type != config.FieldEmail && field.Type != config.FieldTel {
			// Enumerable fields have no empty interaction; leaving them
			// untouched is what an empty submission means.
			continue
		}

		if t.correlator != nil && t.TrackFieldEvents {
			t.correlator.RecordAction(analytics.ActionFormField, field.Name)
		}

		actual, err := t.fillField(ctx, field, value)
		if err != nil {
			return fmt.Errorf("field %q: %w", field.Name, err)
		}
		set[field.Name] = actual

		if err := t.driver.Blur(ctx, field.Selector); err != nil {
			t.logger.Debug("Blur failed (non-critical).", zap.String("field", field.Name), zap.Error(err))
		}

		if t.correlator != nil && t.TrackFieldEvents && actual != "" {
			expects := []analytics.Expectation{}
			if form.Tracking.FormCode != "" {
				expects = append(expects, analytics.Expectation{Param: "formCode", Value: form.Tracking.FormCode})
			}
			res, err := t.correlator.AwaitEvent(ctx, analytics.ActionFormField, expects, form.FieldDelay(t.timing.FieldDelay))
			if err == nil {
				outcome.FieldEvents = append(outcome.FieldEvents, res)
			}
		} else {
			// The inter field delay is part of correctness: field completion
			// events need time to fire and land in the observer's log.
			if err := sleepCtx(ctx, form.FieldDelay(t.timing.FieldDelay)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tester) submit(ctx context.Context, form *config.FormConfig, outcome *Outcome) error {
	if err := sleepCtx(ctx, form.PreSubmitDelay(t.timing.PreSubmitDelay)); err != nil {
		return err
	}

	count, err := t.driver.Count(ctx, form.SubmitSelector)
	if err != nil {
		return fmt.Errorf("failed to resolve submit selector %q: %w", form.SubmitSelector, err)
	}
	if count == 0 {
		return fmt.Errorf("submit selector %q matched no elements", form.SubmitSelector)
	}

	if t.correlator != nil {
		t.correlator.RecordAction(analytics.ActionFormSubmit, form.SubmitSelector)
	}
	if err := t.driver.Click(ctx, form.SubmitSelector); err != nil {
		return fmt.Errorf("submit click failed: %w", err)
	}
	return nil
}

// observeOutcome polls, within the submit wait bound, for either a success
// indicator or the scenario's full expected error set.
func (t *Tester) observeOutcome(ctx context.Context, form *config.FormConfig, scenario Scenario, invalidField string, outcome *Outcome) {
	expectedErrors := expectedErrorSet(form, scenario, invalidField)
	deadline := time.Now().Add(form.SubmitWaitTimeout(t.timing.SubmitWaitTimeout))

	var lastMissing []string
	for {
		if success, err := t.successVisible(ctx, form); err == nil && success {
			outcome.State = StateSuccessObserved
			return
		}

		if len(expectedErrors) > 0 {
			missing := t.missingSelectors(ctx, expectedErrors)
			lastMissing = missing
			if len(missing) == 0 {
				outcome.State = StateErrorsObserved
				outcome.UnexpectedErrors = t.unexpectedErrors(ctx, form, expectedErrors)
				return
			}
		}

		if time.Now().After(deadline) {
			outcome.State = timeoutState(expectedErrors, lastMissing)
			outcome.MissingErrors = lastMissing
			return
		}
		if err := sleepCtx(ctx, t.timing.PollInterval); err != nil {
			outcome.State = timeoutState(expectedErrors, lastMissing)
			outcome.MissingErrors = lastMissing
			return
		}
	}
}

// timeoutState separates an incomplete error set from nothing appearing at
// all; the two point at different defects and are reported distinctly.
func timeoutState(expected, missing []string) State {
	if len(expected) > 0 && len(missing) < len(expected) {
		return StatePartialErrors
	}
	return StateTimeout
}

// successVisible reports whether any configured success indicator is present.
func (t *Tester) successVisible(ctx context.Context, form *config.FormConfig) (bool, error) {
	for _, sel := range form.SuccessSelectors {
		visible, err := t.driver.Visible(ctx, sel)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}
	for _, text := range form.SuccessTexts {
		found, err := t.driver.ContainsText(ctx, text)
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// missingSelectors checks the expected error selectors concurrently and
// returns the ones not currently visible, preserving configured order.
func (t *Tester) missingSelectors(ctx context.Context, selectors []string) []string {
	visible := make([]bool, len(selectors))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, sel := range selectors {
		g.Go(func() error {
			v, err := t.driver.Visible(gctx, sel)
			if err != nil {
				return err
			}
			mu.Lock()
			visible[i] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.logger.Debug("Error selector probe failed.", zap.Error(err))
	}

	var missing []string
	for i, sel := range selectors {
		if !visible[i] {
			missing = append(missing, sel)
		}
	}
	return missing
}

// unexpectedErrors reports configured error selectors outside the expected
// set that are visible anyway.
func (t *Tester) unexpectedErrors(ctx context.Context, form *config.FormConfig, expected []string) []string {
	expectedSet := make(map[string]bool, len(expected))
	for _, sel := range expected {
		expectedSet[sel] = true
	}

	var unexpected []string
	for _, sel := range form.ExpectedEmptyErrors {
		if expectedSet[sel] {
			continue
		}
		if visible, err := t.driver.Visible(ctx, sel); err == nil && visible {
			unexpected = append(unexpected, sel)
		}
	}
	return unexpected
}

// scenarioValue picks the test value bucket for a field under a scenario.
func scenarioValue(field *config.FormFieldConfig, scenario Scenario, invalidField string) string {
	switch scenario {
	case ScenarioEmpty:
		return field.TestValues.Empty
	case ScenarioInvalid:
		if field.Name == invalidField {
			return field.TestValues.Invalid
		}
		return field.TestValues.Valid
	case ScenarioAlternative:
		if v := field.TestValues.Alternative; v != "" {
			return v
		}
		return field.TestValues.Valid
	default:
		return field.TestValues.Valid
	}
}

// expectedErrorSet resolves which error selectors a scenario must observe.
func expectedErrorSet(form *config.FormConfig, scenario Scenario, invalidField string) []string {
	switch scenario {
	case ScenarioEmpty:
		return form.ExpectedEmptyErrors
	case ScenarioInvalid:
		if field, ok := form.Field(invalidField); ok && field.ErrorSelector != "" {
			return []string{field.ErrorSelector}
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
