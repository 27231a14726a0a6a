package actions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codedbyjessica/ga4audit/internal/config"
)

// fakeDriver records calls and serves canned selector counts.
type fakeDriver struct {
	counts   map[string]int
	clickErr map[string]error
	calls    []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{counts: make(map[string]int), clickErr: make(map[string]error)}
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.calls = append(d.calls, "click "+selector)
	return d.clickErr[selector]
}

func (d *fakeDriver) Count(_ context.Context, selector string) (int, error) {
	d.calls = append(d.calls, "count "+selector)
	return d.counts[selector], nil
}

func (d *fakeDriver) Type(_ context.Context, selector, text string) error {
	d.calls = append(d.calls, fmt.Sprintf("type %s %s", selector, text))
	return nil
}

func newTestRunner(d Driver, banners []string) *Runner {
	return NewRunner(d, nil, banners, 10*time.Millisecond, zap.NewNop())
}

func TestRunSequential(t *testing.T) {
	d := newFakeDriver()
	d.counts["#cta"] = 1
	r := newTestRunner(d, nil)

	err := r.Run(context.Background(), []Step{
		Type("#q", "hello"),
		ClickRequired("#cta"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"type #q hello", "count #cta", "click #cta"}, d.calls)
}

func TestOptionalClickToleratesMissingSelector(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, nil)

	err := r.Run(context.Background(), []Step{
		Click("#maybe-banner"),
		Type("#q", "after"),
	})
	require.NoError(t, err)
	// The click is skipped but the sequence continues.
	assert.Contains(t, d.calls, "type #q after")
	assert.NotContains(t, d.calls, "click #maybe-banner")
}

func TestRequiredClickAbortsOnMissingSelector(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, nil)

	err := r.Run(context.Background(), []Step{
		ClickRequired("#must-exist"),
		Type("#q", "never"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#must-exist")
	assert.Contains(t, err.Error(), "step 0 (click)")
	assert.NotContains(t, d.calls, "type #q never")
}

func TestStepErrorCarriesContext(t *testing.T) {
	d := newFakeDriver()
	d.counts["#cta"] = 1
	d.clickErr["#cta"] = errors.New("node detached")
	r := newTestRunner(d, nil)

	err := r.Run(context.Background(), []Step{WaitDefault(), ClickRequired("#cta")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 (click)")
	assert.Contains(t, err.Error(), "node detached")
}

func TestWaitDefaultDuration(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, nil)

	start := time.Now()
	require.NoError(t, r.Run(context.Background(), []Step{WaitDefault()}))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, []Step{Wait(10 * time.Second)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCustomStep(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, nil)

	ran := false
	err := r.Run(context.Background(), []Step{
		Custom("accept-geo-prompt", func(ctx context.Context) error {
			ran = true
			return nil
		}),
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCustomStepWithoutCallback(t *testing.T) {
	r := newTestRunner(newFakeDriver(), nil)
	err := r.Run(context.Background(), []Step{{Kind: StepCustom, Name: "empty"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no callback")
}

func TestRemoveCookieBannerTriesFrameworksInOrder(t *testing.T) {
	d := newFakeDriver()
	d.counts["#second-framework"] = 1
	r := newTestRunner(d, []string{"#first-framework", "#second-framework", "#third-framework"})

	require.NoError(t, r.Run(context.Background(), []Step{RemoveCookieBanner()}))
	assert.Equal(t, []string{
		"count #first-framework",
		"count #second-framework",
		"click #second-framework",
	}, d.calls)
}

func TestRemoveCookieBannerAllAbsent(t *testing.T) {
	d := newFakeDriver()
	r := newTestRunner(d, []string{"#a", "#b"})

	// Absence of every framework is not an error.
	assert.NoError(t, r.Run(context.Background(), []Step{RemoveCookieBanner()}))
}

func TestRemoveCookieBannerDismissalFailureTolerated(t *testing.T) {
	d := newFakeDriver()
	d.counts["#a"] = 1
	d.counts["#b"] = 1
	d.clickErr["#a"] = errors.New("covered by overlay")
	r := newTestRunner(d, []string{"#a", "#b"})

	require.NoError(t, r.Run(context.Background(), []Step{RemoveCookieBanner()}))
	assert.Contains(t, d.calls, "click #b")
}

func TestFromConfig(t *testing.T) {
	steps, err := FromConfig([]config.StepConfig{
		{Kind: "wait", WaitMs: 500},
		{Kind: "click", Selector: "#cta", Required: true},
		{Kind: "type", Selector: "#q", Text: "hi"},
		{Kind: "remove_cookie_banner"},
	})
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, StepWait, steps[0].Kind)
	assert.Equal(t, 500*time.Millisecond, steps[0].Duration)
	assert.True(t, steps[1].Required)
	assert.Equal(t, StepType, steps[2].Kind)
	assert.Equal(t, StepRemoveCookieBanner, steps[3].Kind)
}

func TestFromConfigRejectsBadSteps(t *testing.T) {
	_, err := FromConfig([]config.StepConfig{{Kind: "click"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a selector")

	_, err = FromConfig([]config.StepConfig{{Kind: "teleport"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported step kind")
}
