package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testClassifier() *Classifier {
	return NewClassifier(
		[]string{"scroll", "timer", "page_view", "user_engagement"},
		[]string{"scroll", "percent_scrolled"},
	)
}

func TestClassifyClick(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name   string
		params map[string]string
		want   bool
	}{
		{"plain click event", map[string]string{"eventName": "click", "eventCategory": "nav"}, true},
		{"cta event via action", map[string]string{"eventAction": "cta_banner"}, true},
		{"ambient scroll excluded", map[string]string{"eventName": "scroll"}, false},
		{"timer excluded", map[string]string{"eventName": "timer_30s"}, false},
		{"page view excluded", map[string]string{"eventName": "page_view"}, false},
		{"engagement ping excluded", map[string]string{"eventName": "user_engagement"}, false},
		{"no name or action", map[string]string{"eventLabel": "x"}, false},
		{"exclusion keyword in action", map[string]string{"eventName": "cta", "eventAction": "auto_scroll"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Matches(ActionClick, CapturedEvent{Params: tc.params}))
		})
	}
}

func TestClassifyScroll(t *testing.T) {
	c := testClassifier()

	assert.True(t, c.Matches(ActionScroll, CapturedEvent{Params: map[string]string{"eventName": "scroll"}}))
	assert.True(t, c.Matches(ActionScroll, CapturedEvent{Params: map[string]string{"eventAction": "percent_scrolled_75"}}))
	assert.False(t, c.Matches(ActionScroll, CapturedEvent{Params: map[string]string{"eventName": "click"}}))
	assert.False(t, c.Matches(ActionScroll, CapturedEvent{Params: map[string]string{}}))
}

func TestClassifyPageView(t *testing.T) {
	c := testClassifier()

	assert.True(t, c.Matches(ActionPageView, CapturedEvent{Params: map[string]string{"eventName": "page_view"}}))
	assert.True(t, c.Matches(ActionPageView, CapturedEvent{Params: map[string]string{"eventName": "Page_View"}}))
	assert.False(t, c.Matches(ActionPageView, CapturedEvent{Params: map[string]string{"eventName": "click"}}))
}

func TestClassifyFormKinds(t *testing.T) {
	c := testClassifier()

	assert.True(t, c.Matches(ActionFormSubmit, CapturedEvent{Params: map[string]string{"eventName": "form_submit"}}))
	assert.True(t, c.Matches(ActionFormField, CapturedEvent{Params: map[string]string{"eventName": "form_field_completion"}}))
	assert.True(t, c.Matches(ActionFormStart, CapturedEvent{Params: map[string]string{"eventName": "form_start"}}))
	assert.False(t, c.Matches(ActionFormSubmit, CapturedEvent{Params: map[string]string{"eventName": "click"}}))
}

func TestClassifyFormKindsNeverCrossMatch(t *testing.T) {
	c := testClassifier()

	// A stray form_start must not satisfy an awaited form_submit, and vice
	// versa; only names outside the known kinds fall back to the prefix rule.
	assert.False(t, c.Matches(ActionFormSubmit, CapturedEvent{Params: map[string]string{"eventName": "form_start"}}))
	assert.False(t, c.Matches(ActionFormStart, CapturedEvent{Params: map[string]string{"eventName": "form_submit"}}))
	assert.False(t, c.Matches(ActionFormField, CapturedEvent{Params: map[string]string{"eventName": "form_submit"}}))
	assert.True(t, c.Matches(ActionFormSubmit, CapturedEvent{Params: map[string]string{"eventName": "form_submission_success"}}))
}

func TestClassifyExitModalUsesClickRules(t *testing.T) {
	c := testClassifier()

	assert.True(t, c.Matches(ActionExitModal, CapturedEvent{Params: map[string]string{"eventName": "exit_modal_shown"}}))
	assert.False(t, c.Matches(ActionExitModal, CapturedEvent{Params: map[string]string{"eventName": "scroll"}}))
}

func TestExpectationModes(t *testing.T) {
	ev := CapturedEvent{Params: map[string]string{
		"eventLabel":   "Signup-CTA",
		"pageLocation": "https://example.com/en/signup",
	}}

	t.Run("exact", func(t *testing.T) {
		ok, _ := Expectation{Param: "eventLabel", Value: "Signup-CTA"}.Check(ev)
		assert.True(t, ok)
		ok, detail := Expectation{Param: "eventLabel", Value: "signup-cta"}.Check(ev)
		assert.False(t, ok)
		assert.Contains(t, detail, `expected "signup-cta"`)
		assert.Contains(t, detail, `observed "Signup-CTA"`)
	})

	t.Run("ignore case", func(t *testing.T) {
		ok, _ := Expectation{Param: "eventLabel", Value: "signup-cta", Mode: MatchIgnoreCase}.Check(ev)
		assert.True(t, ok)
	})

	t.Run("contains for relative vs absolute URLs", func(t *testing.T) {
		ok, _ := Expectation{Param: "pageLocation", Value: "/en/signup", Mode: MatchContains}.Check(ev)
		assert.True(t, ok)
	})

	t.Run("absent parameter", func(t *testing.T) {
		ok, detail := Expectation{Param: "formCode", Value: "SU-1"}.Check(ev)
		assert.False(t, ok)
		assert.Contains(t, detail, "parameter absent")
	})
}
