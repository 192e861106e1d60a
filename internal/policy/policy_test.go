package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/robert-at-pretension-io/lvsdual/internal/report"
)

func sampleTables() report.Tables {
	return report.Tables{
		Cells: []report.CellRow{
			{Cell: "inv", UnresolvedDevices: 1, Associated: true},
			{Cell: "top", UnresolvedDevices: 2, UnresolvedEDevices: 1, Associated: true, Inconsistent: true},
		},
		Residuals: []report.ResidualRow{
			{Cell: "inv", Kind: report.KindDevice, Side: report.SideLayout, Name: "mp"},
			{Cell: "inv", Kind: report.KindNet, Side: report.SideSchematic, Name: "out"},
			{Cell: "top", Kind: report.KindGroup, Side: report.SideLayout, Name: "#7"},
		},
		Duals: []report.DualRow{},
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("loading embedded policy: %v", err)
	}
	return engine
}

func TestEmbeddedPolicyClassifiesResiduals(t *testing.T) {
	res, err := newEngine(t).Evaluate(context.Background(), Input{Tables: sampleTables()})
	if err != nil {
		t.Fatal(err)
	}

	want := []struct{ cell, rule, severity string }{
		{"inv", "unassociated_device", "error"},
		{"inv", "unassociated_net", "warning"},
		{"top", "inconsistent_counts", "error"},
		{"top", "unassociated_group", "warning"},
	}
	if len(res.Violations) != len(want) {
		t.Fatalf("expected %d violations, got %#v", len(want), res.Violations)
	}
	for i, w := range want {
		v := res.Violations[i]
		if v.Cell != w.cell || v.Rule != w.rule || v.Severity != w.severity {
			t.Errorf("violation %d: expected %v, got %#v", i, w, v)
		}
	}
	if msg := res.Violations[0].Message; !strings.Contains(msg, "layout device mp") || !strings.Contains(msg, "schematic") {
		t.Errorf("unexpected message %q", msg)
	}
	if res.Summary != (report.Summary{TotalViolations: 4, Errors: 2, Warnings: 2}) {
		t.Errorf("unexpected summary %+v", res.Summary)
	}
}

func TestSeverityOverrides(t *testing.T) {
	res, err := newEngine(t).Evaluate(context.Background(), Input{
		Tables: sampleTables(),
		Severities: map[string]string{
			"unassociated_net":    "off",
			"inconsistent_counts": "info",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range res.Violations {
		if v.Rule == "unassociated_net" {
			t.Fatalf("disabled rule still reported: %#v", v)
		}
		if v.Rule == "inconsistent_counts" && v.Severity != "info" {
			t.Fatalf("override not applied: %#v", v)
		}
	}
	if res.Summary != (report.Summary{TotalViolations: 3, Errors: 1, Warnings: 1, Info: 1}) {
		t.Errorf("unexpected summary %+v", res.Summary)
	}
}

func TestApplyKeepsReportValid(t *testing.T) {
	r := report.New(nil, nil, 0)
	r.Top = "top"
	r.Tables = sampleTables()
	if err := newEngine(t).Apply(context.Background(), r, nil); err != nil {
		t.Fatal(err)
	}
	if r.Summary.TotalViolations != len(r.Violations) {
		t.Fatalf("summary %+v does not match %d violations", r.Summary, len(r.Violations))
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("report with violations should validate: %v", err)
	}
}

func TestPolicyDirOverride(t *testing.T) {
	dir := t.TempDir()
	custom := `package lvs.report

import rego.v1

all_violations := [v |
	some r in input.tables.residuals
	r.kind == "device"
	v := {"rule": "custom", "severity": "info", "cell": r.cell, "kind": r.kind, "name": r.name, "message": "custom"}
]

summary := {"total_violations": count(all_violations), "errors": 0, "warnings": 0, "info": count(all_violations)}
`
	if err := os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := New(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := engine.Evaluate(context.Background(), Input{Tables: sampleTables()})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != "custom" || res.Summary.Info != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := New(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory without policies")
	}
}
