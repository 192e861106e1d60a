package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

func TestCellPassAndResidual(t *testing.T) {
	m := New()
	m.CellPass(1, "ok", 5*time.Millisecond)
	m.CellPass(1, "ok", time.Millisecond)
	m.CellPass(2, "failed", time.Millisecond)

	if got := testutil.ToFloat64(m.cells.WithLabelValues("1", "ok")); got != 2 {
		t.Fatalf("expected 2 ok pass-1 cells, got %v", got)
	}
	if got := testutil.ToFloat64(m.cells.WithLabelValues("2", "failed")); got != 1 {
		t.Fatalf("expected 1 failed pass-2 cell, got %v", got)
	}

	m.Residual("nand2", model.Tally{Groups: 2, EDevices: 1})
	if got := testutil.ToFloat64(m.residual.WithLabelValues("nand2", "group")); got != 2 {
		t.Fatalf("expected 2 residual groups, got %v", got)
	}
	if got := testutil.ToFloat64(m.residual.WithLabelValues("nand2", "edevice")); got != 1 {
		t.Fatalf("expected 1 residual edevice, got %v", got)
	}
}

func TestCountersIgnoreZero(t *testing.T) {
	m := New()
	m.Flattened("physical", 0)
	m.Flattened("electrical", 3)
	m.Merged(0)
	m.Merged(2)
	m.SymmetryTrial()
	m.Inconsistent()

	if got := testutil.CollectAndCount(m.flattened); got != 1 {
		t.Fatalf("expected one flattened series, got %d", got)
	}
	if got := testutil.ToFloat64(m.merged); got != 2 {
		t.Fatalf("expected 2 merged, got %v", got)
	}
	if got := testutil.ToFloat64(m.symmetryTrials); got != 1 {
		t.Fatalf("expected 1 trial, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CellPass(1, "ok", time.Second)
	m.Residual("x", model.Tally{})
	m.SolverIterations(3)
	if err := m.WriteTextfile("ignored.prom"); err != nil {
		t.Fatalf("nil WriteTextfile: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.SolverIterations(4)
	path := filepath.Join(t.TempDir(), "lvs.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "lvs_assoc_solver_iterations_count 1") {
		t.Fatalf("missing histogram sample in:\n%s", data)
	}
}
