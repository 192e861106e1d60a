// Package policy classifies association residuals into LVS violations using
// rego rules.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/lvsdual/internal/report"
)

//go:embed lvs.rego
var embeddedPolicy string

const (
	violationsQuery = "data.lvs.report.all_violations"
	summaryQuery    = "data.lvs.report.summary"
)

// Engine evaluates rego policies against report tables
type Engine struct {
	queries map[string]rego.PreparedEvalQuery
}

// Result contains the evaluation results
type Result struct {
	Violations []report.Violation
	Summary    report.Summary
}

// Input is the data structure passed to OPA
type Input struct {
	Tables report.Tables `json:"tables"`

	// Severities overrides the default severity of a rule; "off" disables it
	Severities map[string]string `json:"severities,omitempty"`
}

// New creates a policy engine. An empty policyDir selects the embedded
// policy; otherwise every *.rego file in the directory is loaded.
func New(ctx context.Context, policyDir string) (*Engine, error) {
	var modules []func(*rego.Rego)
	if policyDir == "" {
		modules = append(modules, rego.Module("lvs.rego", embeddedPolicy))
	} else {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("no policy files found in %s", policyDir)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	engine := &Engine{queries: make(map[string]rego.PreparedEvalQuery)}
	for name, q := range map[string]string{"violations": violationsQuery, "summary": summaryQuery} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}
	return engine, nil
}

// Evaluate runs the policies against the input data. Violations are ordered
// by cell, rule and name.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{Violations: []report.Violation{}}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, report.Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					Cell:     getString(vmap, "cell"),
					Kind:     getString(vmap, "kind"),
					Name:     getString(vmap, "name"),
					Message:  getString(vmap, "message"),
				})
			}
		}
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Cell != b.Cell {
			return a.Cell < b.Cell
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Name < b.Name
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = report.Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Apply evaluates the policies over r's tables and attaches the result.
func (e *Engine) Apply(ctx context.Context, r *report.Report, severities map[string]string) error {
	res, err := e.Evaluate(ctx, Input{Tables: r.Tables, Severities: severities})
	if err != nil {
		return err
	}
	r.Violations = res.Violations
	r.Summary = res.Summary
	return nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
