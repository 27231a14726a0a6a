package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/actions"
	"github.com/codedbyjessica/ga4audit/internal/analytics"
	"github.com/codedbyjessica/ga4audit/internal/browser"
	"github.com/codedbyjessica/ga4audit/internal/config"
	"github.com/codedbyjessica/ga4audit/internal/forms"
	"github.com/codedbyjessica/ga4audit/internal/observability"
	"github.com/codedbyjessica/ga4audit/internal/reporting"
)

// exitIntentJS nudges the page's exit intent listeners the way a cursor
// leaving the viewport does.
const exitIntentJS = `document.documentElement.dispatchEvent(new MouseEvent("mouseleave", {bubbles: true, clientY: -10}));`

// newAuditCmd creates and configures the `audit` command.
func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:          "audit [targets...]",
		Short:        "Audits analytics event firing and form behavior on the specified pages",
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			applyFlagOverrides(cmd, cfg)

			targets := make([]string, len(args))
			for i, t := range args {
				if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
					t = "https://" + t
				}
				targets[i] = t
			}

			auditID := uuid.New().String()
			logger.Info("Starting new audit",
				zap.String("auditID", auditID),
				zap.Strings("targets", targets),
				zap.Bool("headless", cfg.Browser.Headless),
				zap.String("format", cfg.Report.Format),
			)

			components, err := initializeAuditComponents(ctx, cfg, targets[0], logger)
			if err != nil {
				if components != nil {
					components.Shutdown(logger)
				}
				return fmt.Errorf("failed to initialize audit components: %w", err)
			}
			defer components.Shutdown(logger)

			components.skipForms, _ = cmd.Flags().GetBool("skip-forms")
			components.Tester.TrackFieldEvents, _ = cmd.Flags().GetBool("track-field-events")

			for _, target := range targets {
				if err := auditTarget(ctx, cfg, components, target, logger); err != nil {
					if errors.Is(err, context.Canceled) {
						logger.Warn("Audit aborted gracefully", zap.String("auditID", auditID))
						return fmt.Errorf("audit aborted by user signal")
					}
					logger.Error("Audit failed", zap.Error(err), zap.String("target", target))
					return err
				}
			}

			failed := components.Reporter.Failed()
			if failed > 0 && cfg.Browser.ScreenshotPath != "" {
				if err := components.Session.Screenshot(ctx, cfg.Browser.ScreenshotPath); err != nil {
					logger.Warn("Failed to capture failure screenshot", zap.Error(err))
				} else {
					logger.Info("Captured failure screenshot", zap.String("path", cfg.Browser.ScreenshotPath))
				}
			}

			if err := components.Reporter.Close(); err != nil {
				return fmt.Errorf("failed to finalize report: %w", err)
			}
			components.reporterClosed = true

			if failed > 0 {
				return fmt.Errorf("audit finished with %d failed checks", failed)
			}
			logger.Info("Audit completed; all checks passed", zap.String("auditID", auditID))
			return nil
		},
	}

	auditCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	auditCmd.Flags().StringP("format", "f", "", "Format for the output report ('text' or 'json').")
	auditCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	auditCmd.Flags().Int("viewport-width", 0, "Browser viewport width. (Overrides config/env)")
	auditCmd.Flags().Int("viewport-height", 0, "Browser viewport height. (Overrides config/env)")
	auditCmd.Flags().Bool("skip-forms", false, "Only run analytics event checks, no form scenarios.")
	auditCmd.Flags().Bool("track-field-events", false, "Correlate a field completion event after each form field.")

	return auditCmd
}

func init() {
	rootCmd.AddCommand(newAuditCmd())
}

// applyFlagOverrides layers explicitly set flags over the resolved config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
	if flags.Changed("viewport-width") {
		cfg.Browser.ViewportWidth, _ = flags.GetInt("viewport-width")
	}
	if flags.Changed("viewport-height") {
		cfg.Browser.ViewportHeight, _ = flags.GetInt("viewport-height")
	}
	if flags.Changed("format") {
		cfg.Report.Format, _ = flags.GetString("format")
	}
	if flags.Changed("output") {
		cfg.Report.Output, _ = flags.GetString("output")
	}
}

// auditComponents holds the initialized pipeline.
type auditComponents struct {
	Session    *browser.Session
	Observer   *analytics.Observer
	Correlator *analytics.Correlator
	Runner     *actions.Runner
	Tester     *forms.Tester
	Reporter   reporting.Reporter

	skipForms      bool
	reporterClosed bool
}

// Shutdown releases the browser and, when the run aborted early, the report
// writer.
func (ac *auditComponents) Shutdown(logger *zap.Logger) {
	if ac.Observer != nil {
		ac.Observer.Stop()
	}
	if ac.Session != nil {
		ac.Session.Close()
	}
	if ac.Reporter != nil && !ac.reporterClosed {
		if err := ac.Reporter.Close(); err != nil {
			logger.Warn("Error closing reporter", zap.Error(err))
		}
	}
}

// initializeAuditComponents handles dependency injection.
func initializeAuditComponents(ctx context.Context, cfg *config.Config, target string, logger *zap.Logger) (*auditComponents, error) {
	components := &auditComponents{}

	// 1. Browser session
	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	components.Session = session

	// 2. Network observer, attached before any navigation so the first
	// page_view hit is never missed.
	dict := analytics.NewParamDictionary(cfg.Analytics.Params)
	observer := analytics.NewObserver(cfg.Analytics.EndpointSubstrings, dict, logger)
	if err := observer.Attach(session.Context()); err != nil {
		return components, fmt.Errorf("failed to attach network observer: %w", err)
	}
	components.Observer = observer

	// Navigation settles once the network has gone quiet. Bounded so a page
	// with a chatty background poller cannot stall the audit.
	session.SetStabilizer(func(ctx context.Context) error {
		idleCtx, cancel := context.WithTimeout(ctx, cfg.Browser.NavigationTimeout)
		defer cancel()
		return observer.WaitIdle(idleCtx, cfg.Timing.QuietPeriod)
	})

	// 3. Correlator
	classifier := analytics.NewClassifier(cfg.Analytics.ClickExclusionKeywords, cfg.Analytics.ScrollKeywords)
	components.Correlator = analytics.NewCorrelator(observer, classifier,
		cfg.Analytics.MinEventDelay, cfg.Timing.PollInterval, logger)

	// 4. Interaction layers
	components.Runner = actions.NewRunner(session, components.Correlator,
		cfg.Site.CookieBannerSelectors, cfg.Timing.DefaultWait, logger)
	components.Tester = forms.NewTester(session, components.Correlator, cfg.Timing, logger)

	// 5. Reporter
	reporter, err := reporting.New(cfg.Report.Format, cfg.Report.Output, target, Version)
	if err != nil {
		return components, fmt.Errorf("failed to initialize reporter: %w", err)
	}
	components.Reporter = reporter

	return components, nil
}

// auditTarget runs the full check suite against one page.
func auditTarget(ctx context.Context, cfg *config.Config, ac *auditComponents, target string, logger *zap.Logger) error {
	logger.Info("Auditing target", zap.String("target", target))

	// 1. page_view: the action is recorded before navigation so the window
	// opens at the moment the user "arrived".
	ac.Correlator.RecordAction(analytics.ActionPageView, target)
	if err := ac.Session.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}

	path, err := ac.Session.CurrentPath(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current path: %w", err)
	}

	res, err := ac.Correlator.AwaitEvent(ctx, analytics.ActionPageView,
		[]analytics.Expectation{{Param: "pageLocation", Value: path, Mode: analytics.MatchContains}},
		cfg.Analytics.CorrelationTimeout)
	if err != nil {
		return err
	}
	if err := ac.Reporter.Write(reporting.CorrelationRecord(path, res)); err != nil {
		return err
	}

	// 2. Pre-test hooks. The cookie banner is dismissed first so it cannot
	// swallow clicks or block scrolling.
	steps, err := actions.FromConfig(cfg.Site.Hooks["pre_test"])
	if err != nil {
		return fmt.Errorf("invalid pre_test hooks: %w", err)
	}
	steps = append([]actions.Step{actions.RemoveCookieBanner()}, steps...)
	if err := ac.Runner.Run(ctx, steps); err != nil {
		return fmt.Errorf("pre_test hooks failed: %w", err)
	}
	if hasClickStep(steps) {
		res, err := ac.Correlator.AwaitEvent(ctx, analytics.ActionClick, nil, cfg.Analytics.CorrelationTimeout)
		if err == nil {
			if err := ac.Reporter.Write(reporting.CorrelationRecord(path, res)); err != nil {
				return err
			}
		}
	}

	// 3. Scroll depth
	ac.Correlator.RecordAction(analytics.ActionScroll, "90%")
	if err := ac.Session.ScrollTo(ctx, 0.9); err != nil {
		logger.Warn("Scroll failed; skipping scroll event check", zap.Error(err))
	} else {
		res, err := ac.Correlator.AwaitEvent(ctx, analytics.ActionScroll, nil, cfg.Analytics.CorrelationTimeout)
		if err != nil {
			return err
		}
		if err := ac.Reporter.Write(reporting.CorrelationRecord(path, res)); err != nil {
			return err
		}
	}

	// 4. Exit intent modal
	if cfg.Site.ExitModalSelector != "" {
		ac.Correlator.RecordAction(analytics.ActionExitModal, cfg.Site.ExitModalSelector)
		if err := ac.Session.Evaluate(ctx, exitIntentJS, nil); err != nil {
			logger.Warn("Exit intent dispatch failed", zap.Error(err))
		} else {
			res, err := ac.Correlator.AwaitEvent(ctx, analytics.ActionExitModal, nil, cfg.Analytics.CorrelationTimeout)
			if err != nil {
				return err
			}
			if err := ac.Reporter.Write(reporting.CorrelationRecord(path, res)); err != nil {
				return err
			}
		}
	}

	// 5. Form scenarios
	if ac.skipForms {
		return nil
	}
	return auditForms(ctx, cfg, ac, target, path, logger)
}

// formScenario pairs a scenario with its focus field (invalid runs only).
type formScenario struct {
	scenario forms.Scenario
	field    string
}

// auditForms resolves the form for the current page and drives every
// applicable scenario against it, refreshing the page between scenarios.
func auditForms(ctx context.Context, cfg *config.Config, ac *auditComponents, target, path string, logger *zap.Logger) error {
	form, ok := cfg.Site.FormForPage(path)
	autoDetected := false
	if !ok {
		detected, err := ac.Tester.AutoDetect(ctx, path)
		if err != nil {
			logger.Info("No form to test on this page", zap.String("path", path), zap.Error(err))
			return nil
		}
		form = detected
		autoDetected = true
	}

	for _, sc := range scenariosFor(form) {
		if err := refreshForScenario(ctx, cfg, ac, target); err != nil {
			return err
		}

		outcome, err := ac.Tester.RunScenario(ctx, form, sc.scenario, sc.field)
		if err != nil {
			return fmt.Errorf("form scenario %s failed: %w", sc.scenario, err)
		}
		outcome.AutoDetected = autoDetected
		if err := ac.Reporter.Write(reporting.FormRecord(outcome)); err != nil {
			return err
		}
	}
	return nil
}

// scenariosFor derives the scenario list from the form's configuration: an
// empty submission when error selectors are configured, one invalid run per
// field with its own error selector, an alternative path when any field
// carries an alternative value, and the valid submission last because it may
// navigate away.
func scenariosFor(form *config.FormConfig) []formScenario {
	var list []formScenario
	if len(form.ExpectedEmptyErrors) > 0 {
		list = append(list, formScenario{scenario: forms.ScenarioEmpty})
	}
	for i := range form.Fields {
		f := &form.Fields[i]
		if f.ErrorSelector != "" && f.TestValues.Invalid != "" {
			list = append(list, formScenario{scenario: forms.ScenarioInvalid, field: f.Name})
		}
	}
	for i := range form.Fields {
		if form.Fields[i].TestValues.Alternative != "" {
			list = append(list, formScenario{scenario: forms.ScenarioAlternative})
			break
		}
	}
	list = append(list, formScenario{scenario: forms.ScenarioValid})
	return list
}

// refreshForScenario reloads the page so scenarios never contaminate each
// other, then replays the post-refresh hooks and clears the event log.
func refreshForScenario(ctx context.Context, cfg *config.Config, ac *auditComponents, target string) error {
	if err := ac.Session.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to reload %s: %w", target, err)
	}

	steps, err := actions.FromConfig(cfg.Site.Hooks["post_refresh"])
	if err != nil {
		return fmt.Errorf("invalid post_refresh hooks: %w", err)
	}
	steps = append([]actions.Step{actions.RemoveCookieBanner()}, steps...)
	if err := ac.Runner.Run(ctx, steps); err != nil {
		return fmt.Errorf("post_refresh hooks failed: %w", err)
	}

	preForm, err := actions.FromConfig(cfg.Site.Hooks["pre_form"])
	if err != nil {
		return fmt.Errorf("invalid pre_form hooks: %w", err)
	}
	if err := ac.Runner.Run(ctx, preForm); err != nil {
		return fmt.Errorf("pre_form hooks failed: %w", err)
	}

	ac.Observer.Reset()
	return nil
}

func hasClickStep(steps []actions.Step) bool {
	for _, s := range steps {
		if s.Kind == actions.StepClick {
			return true
		}
	}
	return false
}
