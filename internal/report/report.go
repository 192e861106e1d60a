// Package report turns the state left by an association run into flat tables
// and a JSON document that downstream LVS tooling can diff and classify.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/robert-at-pretension-io/lvsdual/internal/dual"
	"github.com/robert-at-pretension-io/lvsdual/internal/model"
	"github.com/robert-at-pretension-io/lvsdual/internal/validator"
)

// Violation is a residual classified by the policy engine.
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Cell     string `json:"cell"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Message  string `json:"message"`
}

// Summary counts violations by severity.
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// Report is the document written by one association run.
type Report struct {
	RunID      string      `json:"run_id"`
	Top        string      `json:"top"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Tables     Tables      `json:"tables"`
	Violations []Violation `json:"violations"`
	Summary    Summary     `json:"summary"`
}

// New builds a report for top. runErr is the error returned by the driver,
// if any; violations are attached later by the policy engine.
func New(top *model.Descriptor, runErr error, elapsed time.Duration) *Report {
	r := &Report{
		RunID:      uuid.NewString(),
		Status:     dual.StatusOf(runErr).String(),
		DurationMS: elapsed.Milliseconds(),
		Tables:     BuildTables(top),
		Violations: []Violation{},
	}
	if top != nil {
		r.Top = top.Cell
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// SetViolations attaches classified violations and recounts the summary.
func (r *Report) SetViolations(vs []Violation) {
	if vs == nil {
		vs = []Violation{}
	}
	r.Violations = vs
	r.Summary = Summarize(vs)
}

// Summarize counts violations by severity.
func Summarize(vs []Violation) Summary {
	s := Summary{TotalViolations: len(vs)}
	for _, v := range vs {
		switch v.Severity {
		case "error":
			s.Errors++
		case "warning":
			s.Warnings++
		case "info":
			s.Info++
		}
	}
	return s
}

// Validate checks the report against the embedded CUE contract.
func (r *Report) Validate() error {
	v, err := validator.NewReportValidator()
	if err != nil {
		return err
	}
	return v.Validate(r)
}

// Write encodes the report to path, validating it first when validate is set.
func (r *Report) Write(path string, validate bool) error {
	if validate {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}

// Load reads a report written by Write.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}
