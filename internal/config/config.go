package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration for lvs-assoc
type Config struct {
	// Design lists the design files to load
	Design DesignConfig `json:"design,omitempty"`

	// Association holds the solver and driver tuning constants
	Association AssociationConfig `json:"association,omitempty"`

	// Log configures the association log stream
	Log LogConfig `json:"log,omitempty"`

	// Report contains violation rule configuration
	Report ReportConfig `json:"report,omitempty"`

	// Metrics controls the Prometheus text-file export
	Metrics MetricsConfig `json:"metrics,omitempty"`
}

// DesignConfig names the design inputs
type DesignConfig struct {
	// Files is a list of glob patterns for design files (JSON or YAML)
	Files []string `json:"files,omitempty"`

	// Exclude is a list of glob patterns to exclude
	Exclude []string `json:"exclude,omitempty"`

	// Top names the top cell; empty infers it
	Top string `json:"top,omitempty"`
}

// AssociationConfig holds the heuristic constants of the solver. They are
// tuned against real designs; changing them changes which of several
// symmetric answers is picked.
type AssociationConfig struct {
	// LoopLimit bounds the outer settle/break-symmetry loop
	LoopLimit int `json:"loopLimit,omitempty"`

	// IterationLimit bounds the inner fixed-point loop
	IterationLimit int `json:"iterationLimit,omitempty"`

	// ConfidenceLevels is the number of buckets devices are ranked into by
	// the fraction of their contacts already associated
	ConfidenceLevels int `json:"confidenceLevels,omitempty"`

	// MaxDepth bounds hierarchy recursion
	MaxDepth int `json:"maxDepth,omitempty"`

	// AcceptThreshold is the minimum score for a group/node identification
	AcceptThreshold int `json:"acceptThreshold,omitempty"`

	// SymmetryTrials is the number of tied candidates tried per decision
	SymmetryTrials int `json:"symmetryTrials,omitempty"`

	// FlattenRetries bounds each flatten-and-retry maneuver of pass 1
	FlattenRetries int `json:"flattenRetries,omitempty"`

	// CheckRounds bounds the check-and-relax rounds of pass 2
	CheckRounds int `json:"checkRounds,omitempty"`

	// MaxPermutationStates caps the states enumerated per instance
	MaxPermutationStates int `json:"maxPermutationStates,omitempty"`

	// PollIntervalMS is the interval between cancellation polls
	PollIntervalMS int `json:"pollIntervalMs,omitempty"`

	// PermutationFix enables the pass 2 permutation correction
	PermutationFix *bool `json:"permutationFix,omitempty"`

	// MergeParallel enables merging of parallel schematic devices
	MergeParallel *bool `json:"mergeParallel,omitempty"`
}

// LogConfig configures logrus
type LogConfig struct {
	// Level is a logrus level name: "debug", "info", "warn", "error"
	Level string `json:"level,omitempty"`

	// Format is "text" or "json"
	Format string `json:"format,omitempty"`

	// File receives the log stream; empty means stderr
	File string `json:"file,omitempty"`
}

// ReportConfig contains violation rule configuration
type ReportConfig struct {
	// Rules maps rule names to severity: "off", "info", "warning", "error"
	Rules map[string]string `json:"rules,omitempty"`

	// PolicyDir overrides the embedded rego policy
	PolicyDir string `json:"policyDir,omitempty"`

	// ValidateOutput checks reports against the CUE contract before writing
	ValidateOutput *bool `json:"validateOutput,omitempty"`
}

// MetricsConfig controls metrics export
type MetricsConfig struct {
	// Textfile receives metrics in Prometheus text format; empty disables
	Textfile string `json:"textfile,omitempty"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./lvs_assoc.json (current working directory)
//  2. ./.lvs_assoc.json (current working directory)
//  3. <designDir>/lvs_assoc.json (if different from cwd)
//  4. ~/.config/lvs_assoc/config.json
//
// Returns DefaultConfig if no config file is found
func Load(designDir string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "lvs_assoc.json"),
		filepath.Join(cwd, ".lvs_assoc.json"),
	}

	if info, err := os.Stat(designDir); err == nil && info.IsDir() {
		absDir, _ := filepath.Abs(designDir)
		if absDir != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(designDir, "lvs_assoc.json"),
				filepath.Join(designDir, ".lvs_assoc.json"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "lvs_assoc", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if c.Design.Files == nil {
		c.Design.Files = []string{"*.design.yaml", "*.design.yml", "*.design.json", "**/*.design.yaml", "**/*.design.yml", "**/*.design.json"}
	}

	a := &c.Association
	setInt(&a.LoopLimit, 20)
	setInt(&a.IterationLimit, 100)
	setInt(&a.ConfidenceLevels, 5)
	setInt(&a.MaxDepth, 64)
	setInt(&a.AcceptThreshold, 500)
	setInt(&a.SymmetryTrials, 4)
	setInt(&a.FlattenRetries, 2)
	setInt(&a.CheckRounds, 2)
	setInt(&a.MaxPermutationStates, 720)
	setInt(&a.PollIntervalMS, 250)
	if a.PermutationFix == nil {
		a.PermutationFix = boolPtr(true)
	}
	if a.MergeParallel == nil {
		a.MergeParallel = boolPtr(true)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Report.Rules == nil {
		c.Report.Rules = make(map[string]string)
	}
	if c.Report.ValidateOutput == nil {
		c.Report.ValidateOutput = boolPtr(true)
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// PollInterval is PollIntervalMS as a duration.
func (a AssociationConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMS) * time.Millisecond
}

// GetRuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) GetRuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Report.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Report.Rules[rule]; ok {
		return severity != "off"
	}
	return true
}
