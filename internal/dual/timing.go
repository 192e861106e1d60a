package dual

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// TimingEnv overrides the timing output path.
const TimingEnv = "LVS_TIMING_JSONL"

type timingEvent struct {
	Pass       int     `json:"pass"`
	Kind       string  `json:"kind"`
	Cell       string  `json:"cell,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

// timingRecorder appends one JSON line per cell pass and per run.
type timingRecorder struct {
	enabled bool
	start   time.Time
	mu      sync.Mutex
	events  []timingEvent
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{start: start}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enabled
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.file == nil {
		return
	}
	_ = tr.file.Close()
	tr.file = nil
	tr.enabled = false
}

func (tr *timingRecorder) record(pass int, kind, cell, status string, start time.Time, duration time.Duration) {
	if tr == nil || !tr.enabled {
		return
	}
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(duration)
	event := timingEvent{
		Pass:       pass,
		Kind:       kind,
		Cell:       cell,
		Status:     status,
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	if tr.enc != nil {
		_ = tr.enc.Encode(event)
	}
	tr.mu.Unlock()
}

func (tr *timingRecorder) RecordCell(pass int, cell, status string, start time.Time, duration time.Duration) {
	tr.record(pass, "cell", cell, status, start, duration)
}

func (tr *timingRecorder) RecordRun(status string, start time.Time, duration time.Duration) {
	tr.record(0, "run", "", status, start, duration)
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

func resolveTimingPath(path string) string {
	if envPath := os.Getenv(TimingEnv); envPath != "" {
		return envPath
	}
	return path
}
