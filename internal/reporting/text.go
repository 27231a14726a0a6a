package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/codedbyjessica/ga4audit/internal/analytics"
)

// resolution rounds durations for display.
const resolution = time.Millisecond

// TextReporter streams one human readable line per record and a summary on
// Close. It is thread safe.
type TextReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	total  int
	failed int
}

// NewTextReporter creates a reporter producing plain text output. It takes
// ownership of the writer.
func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	if !record.Passed {
		r.failed++
	}

	var line string
	switch record.Kind {
	case KindAnalyticsEvent:
		line = formatCorrelation(record)
	case KindFormScenario:
		line = formatForm(record)
	default:
		return fmt.Errorf("unknown record kind %q", record.Kind)
	}

	_, err := fmt.Fprintln(r.writer, line)
	return err
}

// Close writes the summary and releases the writer.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := fmt.Fprintf(r.writer, "\n%d checks, %d passed, %d failed\n",
		r.total, r.total-r.failed, r.failed)
	if err != nil {
		r.writer.Close()
		return err
	}
	return r.writer.Close()
}

func (r *TextReporter) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

func statusWord(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func formatCorrelation(record *Record) string {
	res := record.Correlation
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-11s %s", statusWord(record.Passed), res.Action.Kind, res.Action.Descriptor)
	if record.Page != "" {
		fmt.Fprintf(&b, " on %s", record.Page)
	}

	switch res.Verdict {
	case analytics.VerdictPass:
		fmt.Fprintf(&b, " -> %s after %s", res.Event.Param("eventName"), res.Elapsed.Round(resolution))
	case analytics.VerdictTimeout:
		fmt.Fprintf(&b, " -> no matching event within %s", res.Elapsed.Round(resolution))
	case analytics.VerdictMismatch:
		fmt.Fprintf(&b, " -> event mismatched: %s", res.Detail)
	}
	return b.String()
}

func formatForm(record *Record) string {
	out := record.Form
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] form %s scenario=%s", statusWord(record.Passed), out.FormPage, out.Scenario)
	if out.InvalidField != "" {
		fmt.Fprintf(&b, " field=%s", out.InvalidField)
	}
	fmt.Fprintf(&b, " state=%s elapsed=%s", out.State, out.Elapsed.Round(resolution))
	if out.AutoDetected {
		b.WriteString(" (auto-detected form)")
	}
	if len(out.MissingErrors) > 0 {
		fmt.Fprintf(&b, "\n       missing error selectors: %s", strings.Join(out.MissingErrors, ", "))
	}
	if len(out.UnexpectedErrors) > 0 {
		fmt.Fprintf(&b, "\n       unexpected error selectors: %s", strings.Join(out.UnexpectedErrors, ", "))
	}
	if out.SubmitEvent != nil && out.SubmitEvent.Verdict != analytics.VerdictPass {
		fmt.Fprintf(&b, "\n       form_submit event: %s %s", out.SubmitEvent.Verdict, out.SubmitEvent.Detail)
	}
	for _, fe := range out.FieldEvents {
		if fe.Verdict != analytics.VerdictPass {
			fmt.Fprintf(&b, "\n       field event %s: %s %s", fe.Action.Descriptor, fe.Verdict, fe.Detail)
		}
	}
	return b.String()
}
