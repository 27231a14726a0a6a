package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource is a hand fed event log.
type fakeSource struct {
	events []CapturedEvent
}

func (f *fakeSource) Events() []CapturedEvent { return f.events }

func newTestCorrelator(source EventSource) *Correlator {
	return NewCorrelator(source, testClassifier(), 10*time.Millisecond, time.Millisecond, zap.NewNop())
}

func TestAwaitEventPass(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#signup-cta")
	src.events = append(src.events, CapturedEvent{
		Time:   time.Now().Add(50 * time.Millisecond),
		Params: map[string]string{"eventName": "click", "eventCategory": "nav"},
	})

	res, err := c.AwaitEvent(context.Background(), ActionClick,
		[]Expectation{{Param: "eventCategory", Value: "nav"}}, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
	require.NotNil(t, res.Event)
	assert.Equal(t, "nav", res.Event.Param("eventCategory"))
	assert.Equal(t, "#signup-cta", res.Action.Descriptor)
}

func TestAwaitEventTimeoutIsNeverAPass(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#dead-button")

	res, err := c.AwaitEvent(context.Background(), ActionClick, nil, 60*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimeout, res.Verdict)
	assert.Nil(t, res.Event)
	assert.Contains(t, res.Detail, "#dead-button")
}

func TestAwaitEventMismatchDistinctFromTimeout(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#cta")
	src.events = append(src.events, CapturedEvent{
		Time:   time.Now().Add(20 * time.Millisecond),
		Params: map[string]string{"eventName": "click", "eventLabel": "wrong-label"},
	})

	res, err := c.AwaitEvent(context.Background(), ActionClick,
		[]Expectation{{Param: "eventLabel", Value: "cta-label"}}, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictMismatch, res.Verdict)
	require.NotNil(t, res.Event)
	assert.Contains(t, res.Detail, `expected "cta-label"`)
	assert.Contains(t, res.Detail, `observed "wrong-label"`)
}

func TestAwaitEventIgnoresAmbientEvents(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#cta")
	now := time.Now()
	src.events = []CapturedEvent{
		// Ambient hits inside the window must not be attributed to the click.
		{Time: now.Add(20 * time.Millisecond), Params: map[string]string{"eventName": "scroll"}},
		{Time: now.Add(25 * time.Millisecond), Params: map[string]string{"eventName": "timer_10s"}},
		{Time: now.Add(30 * time.Millisecond), Params: map[string]string{"eventName": "click", "eventLabel": "cta"}},
	}

	res, err := c.AwaitEvent(context.Background(), ActionClick,
		[]Expectation{{Param: "eventLabel", Value: "cta"}}, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictPass, res.Verdict)
}

func TestAwaitEventFirstTriggerWins(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionScroll, "window")
	now := time.Now()
	src.events = []CapturedEvent{
		{Time: now.Add(20 * time.Millisecond), Params: map[string]string{"eventName": "scroll", "percentScroll": "25"}},
		{Time: now.Add(40 * time.Millisecond), Params: map[string]string{"eventName": "scroll", "percentScroll": "50"}},
	}

	res, err := c.AwaitEvent(context.Background(), ActionScroll, nil, 300*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, "25", res.Event.Param("percentScroll"), "earliest event in window must win")
}

func TestAwaitEventRespectsMinDelay(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	action := c.RecordAction(ActionClick, "#cta")
	// An event before actionTime+minDelay is too early to be a consequence of
	// this click; it must not be claimed.
	src.events = []CapturedEvent{
		{Time: action.Time.Add(2 * time.Millisecond), Params: map[string]string{"eventName": "click"}},
	}

	res, err := c.AwaitEvent(context.Background(), ActionClick, nil, 60*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimeout, res.Verdict)
}

func TestRecordActionOverwritesSameKind(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#first")
	time.Sleep(30 * time.Millisecond)
	second := c.RecordAction(ActionClick, "#second")

	// An event timed for the first action only is now outside the second
	// action's window start.
	src.events = []CapturedEvent{
		{Time: second.Time.Add(-20 * time.Millisecond), Params: map[string]string{"eventName": "click"}},
	}

	res, err := c.AwaitEvent(context.Background(), ActionClick, nil, 60*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimeout, res.Verdict)
	assert.Equal(t, "#second", res.Action.Descriptor)
}

func TestAwaitEventWithoutPendingAction(t *testing.T) {
	c := newTestCorrelator(&fakeSource{})

	_, err := c.AwaitEvent(context.Background(), ActionClick, nil, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending click action")
}

func TestResetPending(t *testing.T) {
	c := newTestCorrelator(&fakeSource{})

	c.RecordAction(ActionClick, "#cta")
	c.RecordAction(ActionScroll, "window")
	c.ResetPending()

	_, err := c.AwaitEvent(context.Background(), ActionClick, nil, 20*time.Millisecond)
	assert.Error(t, err)
	_, err = c.AwaitEvent(context.Background(), ActionScroll, nil, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestAwaitEventContextCancellation(t *testing.T) {
	src := &fakeSource{}
	c := newTestCorrelator(src)

	c.RecordAction(ActionClick, "#cta")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.AwaitEvent(ctx, ActionClick, nil, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, VerdictTimeout, res.Verdict)
	assert.Contains(t, res.Detail, "aborted")
}
