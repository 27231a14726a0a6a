package analytics

import "strings"

// Classifier decides which action kind a captured event belongs to, using the
// configured keyword sets.
type Classifier struct {
	clickExclusions []string
	scrollKeywords  []string
}

// NewClassifier builds a classifier from the configured keyword lists.
func NewClassifier(clickExclusions, scrollKeywords []string) *Classifier {
	return &Classifier{
		clickExclusions: lowerAll(clickExclusions),
		scrollKeywords:  lowerAll(scrollKeywords),
	}
}

// Matches reports whether the event classifies under the given kind.
//
// Click style kinds (click, exit_modal) accept any event carrying a name or
// action, except when the decoded text contains an exclusion keyword. The
// exclusions keep ambient scroll/timer/page_view hits from being attributed
// to a click that happened to precede them.
//
// Scroll requires a scroll keyword; page_view and the form_* kinds match on
// the event name itself.
func (c *Classifier) Matches(kind ActionKind, ev CapturedEvent) bool {
	text := strings.ToLower(strings.TrimSpace(ev.Param("eventName") + " " + ev.Param("eventAction")))

	switch kind {
	case ActionClick, ActionExitModal:
		if text == "" {
			return false
		}
		for _, kw := range c.clickExclusions {
			if strings.Contains(text, kw) {
				return false
			}
		}
		return true

	case ActionScroll:
		for _, kw := range c.scrollKeywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false

	case ActionPageView:
		return strings.EqualFold(ev.Param("eventName"), "page_view")

	case ActionFormStart, ActionFormField, ActionFormSubmit:
		name := strings.ToLower(ev.Param("eventName"))
		if name == string(kind) {
			return true
		}
		// Tag versions disagree on exact form event names, so unknown form_
		// prefixed names are accepted and the parameter expectations do the
		// precise matching. A name that belongs to another form kind never
		// cross-matches; a stray form_start must not satisfy an awaited
		// form_submit.
		if !strings.HasPrefix(name, "form_") {
			return false
		}
		for _, other := range formKinds {
			if other != kind && name == string(other) {
				return false
			}
		}
		return true
	}
	return false
}

var formKinds = []ActionKind{ActionFormStart, ActionFormField, ActionFormSubmit}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
