package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/codedbyjessica/ga4audit/internal/analytics"
	"github.com/codedbyjessica/ga4audit/internal/forms"
)

// RecordKind distinguishes the two check families an audit produces.
type RecordKind string

const (
	// KindAnalyticsEvent covers one triggering action correlated against the
	// captured analytics log.
	KindAnalyticsEvent RecordKind = "analytics_event"
	// KindFormScenario covers one form scenario run end to end.
	KindFormScenario RecordKind = "form_scenario"
)

// Record is one audited check. Exactly one of Correlation or Form is set,
// matching the Kind.
type Record struct {
	Kind        RecordKind                   `json:"kind"`
	Page        string                       `json:"page,omitempty"`
	Passed      bool                         `json:"passed"`
	Correlation *analytics.CorrelationResult `json:"correlation,omitempty"`
	Form        *forms.Outcome               `json:"form,omitempty"`
	Time        time.Time                    `json:"time"`
}

// CorrelationRecord wraps a correlation result as a report record.
func CorrelationRecord(page string, res analytics.CorrelationResult) *Record {
	return &Record{
		Kind:        KindAnalyticsEvent,
		Page:        page,
		Passed:      res.Verdict == analytics.VerdictPass,
		Correlation: &res,
		Time:        time.Now(),
	}
}

// FormRecord wraps a form scenario outcome as a report record.
func FormRecord(outcome *forms.Outcome) *Record {
	return &Record{
		Kind:   KindFormScenario,
		Page:   outcome.FormPage,
		Passed: outcome.Passed(),
		Form:   outcome,
		Time:   time.Now(),
	}
}

// Reporter writes audit records to an output.
type Reporter interface {
	// Write processes a single record.
	Write(record *Record) error
	// Close finalizes the report and closes any underlying resources.
	Close() error
	// Failed reports how many written records did not pass. Drives the
	// process exit code.
	Failed() int
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format writing to outputPath, with
// "" or "stdout" meaning standard output.
func New(format, outputPath, target, toolVersion string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "text", "":
		return NewTextReporter(writer), nil
	case "json":
		return NewJSONReporter(writer, target, toolVersion), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
