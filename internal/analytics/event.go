package analytics

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind names the category of a triggering user action. Captured events
// are classified into the same namespace so the correlator can pair them.
type ActionKind string

const (
	ActionClick      ActionKind = "click"
	ActionScroll     ActionKind = "scroll"
	ActionPageView   ActionKind = "page_view"
	ActionExitModal  ActionKind = "exit_modal"
	ActionFormStart  ActionKind = "form_start"
	ActionFormField  ActionKind = "form_field"
	ActionFormSubmit ActionKind = "form_submit"
)

// CapturedEvent is one decoded analytics hit. Immutable once appended to the
// observer's log; Params holds canonical names resolved via the dictionary.
type CapturedEvent struct {
	Time   time.Time
	RawURL string
	Method string
	Params map[string]string
}

// Param returns the decoded canonical parameter, empty when absent.
func (e CapturedEvent) Param(name string) string {
	return e.Params[name]
}

// TriggeringAction records the moment an interaction was performed. At most
// one pending action per kind is live at a time; the newest one wins.
type TriggeringAction struct {
	Time       time.Time
	Kind       ActionKind
	Descriptor string
}

// Verdict is the outcome of correlating one triggering action.
type Verdict string

const (
	// VerdictPass: an event classified under the action's kind arrived in the
	// correlation window and every expectation held.
	VerdictPass Verdict = "pass"
	// VerdictMismatch: an event arrived in the window but its decoded
	// parameters did not satisfy the expectations.
	VerdictMismatch Verdict = "mismatch"
	// VerdictTimeout: no event of the action's kind arrived before the
	// window closed. Distinct from mismatch; never reported as a pass.
	VerdictTimeout Verdict = "timeout"
)

// CorrelationResult pairs a triggering action with the event attributed to it.
// Event is nil on a timeout verdict.
type CorrelationResult struct {
	Action  TriggeringAction
	Event   *CapturedEvent
	Verdict Verdict
	Detail  string
	Elapsed time.Duration
}

// MatchMode selects how an expected parameter value is compared.
type MatchMode int

const (
	// MatchExact compares with string equality.
	MatchExact MatchMode = iota
	// MatchIgnoreCase compares case insensitively.
	MatchIgnoreCase
	// MatchContains checks substring containment, e.g. full URL checks where
	// the tag may report a relative or absolute form.
	MatchContains
)

// Expectation asserts one canonical parameter of the correlated event.
type Expectation struct {
	Param string
	Value string
	Mode  MatchMode
}

// Check reports whether the event satisfies the expectation, with a
// human readable explanation on failure.
func (x Expectation) Check(ev CapturedEvent) (bool, string) {
	got, present := ev.Params[x.Param]
	if !present {
		return false, fmt.Sprintf("%s: expected %q, parameter absent", x.Param, x.Value)
	}

	var ok bool
	switch x.Mode {
	case MatchIgnoreCase:
		ok = strings.EqualFold(got, x.Value)
	case MatchContains:
		ok = strings.Contains(got, x.Value)
	default:
		ok = got == x.Value
	}
	if ok {
		return true, ""
	}
	return false, fmt.Sprintf("%s: expected %q, observed %q", x.Param, x.Value, got)
}
