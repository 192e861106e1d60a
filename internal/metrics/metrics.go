// Package metrics exposes Prometheus instruments for association runs. Each
// Metrics owns its registry so that several runs (and tests) never collide
// on the default one.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robert-at-pretension-io/lvsdual/internal/model"
)

// Metrics groups the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	cells            *prometheus.CounterVec
	cellDuration     *prometheus.HistogramVec
	residual         *prometheus.GaugeVec
	solverIterations prometheus.Histogram
	symmetryTrials   prometheus.Counter
	inconsistent     prometheus.Counter
	flattened        *prometheus.CounterVec
	merged           prometheus.Counter
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		cells: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lvs_assoc_cell_passes_total",
			Help: "Cell passes by pass number and status",
		}, []string{"pass", "status"}),
		cellDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lvs_assoc_cell_pass_duration_seconds",
			Help:    "Duration of one cell pass",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
		}, []string{"pass"}),
		residual: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lvs_assoc_residual_objects",
			Help: "Unresolved objects per cell and kind after the last pass",
		}, []string{"cell", "kind"}),
		solverIterations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lvs_assoc_solver_iterations",
			Help:    "Inner loop iterations per solver invocation",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		symmetryTrials: f.NewCounter(prometheus.CounterOpts{
			Name: "lvs_assoc_symmetry_trials_total",
			Help: "Symmetry-breaking trials run",
		}),
		inconsistent: f.NewCounter(prometheus.CounterOpts{
			Name: "lvs_assoc_inconsistent_total",
			Help: "Solver invocations stopped by mismatched unresolved counts",
		}),
		flattened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lvs_assoc_flattened_instances_total",
			Help: "Instances flattened by retry maneuvers, by side",
		}, []string{"side"}),
		merged: f.NewCounter(prometheus.CounterOpts{
			Name: "lvs_assoc_merged_sections_total",
			Help: "Parallel schematic devices merged into another",
		}),
	}
}

// CellPass records one finished cell pass.
func (m *Metrics) CellPass(pass int, status string, d time.Duration) {
	if m == nil {
		return
	}
	p := fmt.Sprint(pass)
	m.cells.WithLabelValues(p, status).Inc()
	m.cellDuration.WithLabelValues(p).Observe(d.Seconds())
}

// Residual publishes a cell's unresolved tally.
func (m *Metrics) Residual(cell string, t model.Tally) {
	if m == nil {
		return
	}
	m.residual.WithLabelValues(cell, "group").Set(float64(t.Groups))
	m.residual.WithLabelValues(cell, "device").Set(float64(t.Devices))
	m.residual.WithLabelValues(cell, "subckt").Set(float64(t.Subckts))
	m.residual.WithLabelValues(cell, "net").Set(float64(t.Nodes))
	m.residual.WithLabelValues(cell, "edevice").Set(float64(t.EDevices))
	m.residual.WithLabelValues(cell, "esubckt").Set(float64(t.ESubckts))
}

func (m *Metrics) SolverIterations(n int) {
	if m == nil {
		return
	}
	m.solverIterations.Observe(float64(n))
}

func (m *Metrics) SymmetryTrial() {
	if m == nil {
		return
	}
	m.symmetryTrials.Inc()
}

func (m *Metrics) Inconsistent() {
	if m == nil {
		return
	}
	m.inconsistent.Inc()
}

// Flattened counts instances flattened on side "physical" or "electrical".
func (m *Metrics) Flattened(side string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.flattened.WithLabelValues(side).Add(float64(n))
}

func (m *Metrics) Merged(n int) {
	if m == nil || n == 0 {
		return
	}
	m.merged.Add(float64(n))
}

// WriteTextfile writes every metric in the Prometheus text format, for the
// node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
