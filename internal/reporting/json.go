package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONReport is the document the JSON reporter emits on Close.
type JSONReport struct {
	Target      string    `json:"target"`
	ToolVersion string    `json:"tool_version"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Records     []*Record `json:"records"`
	Summary     Summary   `json:"summary"`
}

// Summary tallies the run for machine consumers.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// JSONReporter accumulates records and writes a single document on Close.
// It is thread safe.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	report JSONReport
}

// NewJSONReporter creates a reporter producing one JSON document. It takes
// ownership of the writer.
func NewJSONReporter(writer io.WriteCloser, target, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		report: JSONReport{
			Target:      target,
			ToolVersion: toolVersion,
			StartedAt:   time.Now(),
			Records:     []*Record{},
		},
	}
}

func (r *JSONReporter) Write(record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Records = append(r.report.Records, record)
	r.report.Summary.Total++
	if record.Passed {
		r.report.Summary.Passed++
	} else {
		r.report.Summary.Failed++
	}
	return nil
}

// Close marshals the accumulated report and releases the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.FinishedAt = time.Now()

	data, err := json.MarshalIndent(&r.report, "", "  ")
	if err != nil {
		r.writer.Close()
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		r.writer.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return r.writer.Close()
}

func (r *JSONReporter) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report.Summary.Failed
}
