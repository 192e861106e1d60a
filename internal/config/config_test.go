package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigAssociation(t *testing.T) {
	a := DefaultConfig().Association
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"loopLimit", a.LoopLimit, 20},
		{"iterationLimit", a.IterationLimit, 100},
		{"confidenceLevels", a.ConfidenceLevels, 5},
		{"maxDepth", a.MaxDepth, 64},
		{"acceptThreshold", a.AcceptThreshold, 500},
		{"symmetryTrials", a.SymmetryTrials, 4},
		{"flattenRetries", a.FlattenRetries, 2},
		{"checkRounds", a.CheckRounds, 2},
		{"maxPermutationStates", a.MaxPermutationStates, 720},
		{"pollIntervalMs", a.PollIntervalMS, 250},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, c.got, c.want)
		}
	}
	if !*a.PermutationFix || !*a.MergeParallel {
		t.Fatalf("expected permutationFix and mergeParallel on by default")
	}
	if a.PollInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", a.PollInterval())
	}
}

func TestLoadFileKeepsExplicitValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lvs_assoc.json")
	data := `{
  "association": {"loopLimit": 3, "permutationFix": false},
  "log": {"level": "debug"},
  "report": {"rules": {"unassociated_net": "off"}}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Association.LoopLimit != 3 {
		t.Fatalf("expected loopLimit 3, got %d", cfg.Association.LoopLimit)
	}
	if cfg.Association.IterationLimit != 100 {
		t.Fatalf("expected default iterationLimit, got %d", cfg.Association.IterationLimit)
	}
	if *cfg.Association.PermutationFix {
		t.Fatalf("expected permutationFix false")
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.IsRuleEnabled("unassociated_net") {
		t.Fatalf("expected unassociated_net disabled")
	}
	if got := cfg.GetRuleSeverity("unassociated_device", "error"); got != "error" {
		t.Fatalf("expected default severity, got %q", got)
	}
}

func TestLoadFileRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := DefaultConfig()
	cfg.Design.Top = "chip"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Design.Top != "chip" {
		t.Fatalf("expected top chip, got %q", loaded.Design.Top)
	}
}
