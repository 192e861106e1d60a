package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/lvsdual/internal/config"
	"github.com/robert-at-pretension-io/lvsdual/internal/design"
	"github.com/robert-at-pretension-io/lvsdual/internal/dual"
	"github.com/robert-at-pretension-io/lvsdual/internal/metrics"
	"github.com/robert-at-pretension-io/lvsdual/internal/params"
	"github.com/robert-at-pretension-io/lvsdual/internal/policy"
	"github.com/robert-at-pretension-io/lvsdual/internal/report"
)

// defines collects -D name=value flags.
type defines map[string]float64

func (d defines) String() string {
	parts := make([]string, 0, len(d))
	for _, k := range design.Names(d) {
		parts = append(parts, k+"="+params.FormatNumber(d[k]))
	}
	return strings.Join(parts, ",")
}

func (d defines) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v, ok := params.ParseNumber(value)
	if !ok {
		return fmt.Errorf("parameter %s: %q is not a number", name, value)
	}
	d[name] = v
	return nil
}

type runOptions struct {
	configPath string
	top        string
	output     string
	timing     string
	verbose    bool
	defines    defines
	files      []string
}

func parseRunFlags(args []string, stderr io.Writer) (*runOptions, error) {
	opts := &runOptions{defines: defines{}}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "c", "", "configuration file")
	fs.StringVar(&opts.configPath, "config", "", "configuration file")
	fs.StringVar(&opts.top, "top", "", "top cell")
	fs.StringVar(&opts.output, "o", "", "write the JSON report to file")
	fs.StringVar(&opts.timing, "timing", "", "append per-cell timing as JSON lines")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	fs.BoolVar(&opts.verbose, "verbose", false, "debug logging")
	fs.Var(opts.defines, "D", "global parameter name=value")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.files = fs.Args()
	return opts, nil
}

func loadConfig(opts *runOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	dir := "."
	if len(opts.files) > 0 {
		dir = filepath.Dir(opts.files[0])
	}
	return config.Load(dir)
}

// newLogger builds the association log stream. The returned closer releases
// the log file, if one was opened.
func newLogger(cfg config.LogConfig, verbose bool, stderr io.Writer) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.SetOutput(stderr)
	closer := func() {}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, closer, fmt.Errorf("log level: %w", err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}

	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, closer, fmt.Errorf("opening log file: %w", err)
		}
		log.SetOutput(f)
		closer = func() { _ = f.Close() }
	}
	return log, closer, nil
}

// logProgress reports cell passes on the log stream.
type logProgress struct {
	log   logrus.FieldLogger
	start map[string]time.Time
}

func newLogProgress(log logrus.FieldLogger) *logProgress {
	return &logProgress{log: log, start: make(map[string]time.Time)}
}

func progressKey(pass int, cell string) string {
	return strconv.Itoa(pass) + "/" + cell
}

func (p *logProgress) Begin(pass int, cell string) {
	p.start[progressKey(pass, cell)] = time.Now()
	p.log.WithFields(logrus.Fields{"pass": pass, "cell": cell}).Debug("cell pass started")
}

func (p *logProgress) End(pass int, cell string, status dual.Status) {
	key := progressKey(pass, cell)
	elapsed := time.Since(p.start[key])
	delete(p.start, key)
	p.log.WithFields(logrus.Fields{
		"pass":   pass,
		"cell":   cell,
		"status": status.String(),
		"ms":     elapsed.Milliseconds(),
	}).Info("cell pass finished")
}

func runAssoc(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseRunFlags(args, stderr)
	if err != nil {
		return exitFailed
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitFailed
	}

	log, closeLog, err := newLogger(cfg.Log, opts.verbose, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer closeLog()

	files := opts.files
	if len(files) == 0 {
		files, err = cfg.ResolveDesignFiles(".")
		if err != nil {
			fmt.Fprintf(stderr, "Error resolving design files: %v\n", err)
			return exitFailed
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(stderr, "Error: no design files given or matched by the configuration")
		return exitFailed
	}

	lib, err := design.Load(ctx, files...)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(stderr, "Aborted while loading design files")
			return exitAborted
		}
		fmt.Fprintf(stderr, "Error loading design: %v\n", err)
		return exitFailed
	}
	topName := opts.top
	if topName == "" {
		topName = cfg.Design.Top
	}
	top, err := lib.TopCell(topName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	pc := params.New()
	pc.PushValues(opts.defines)

	m := metrics.New()
	drv := dual.NewDriver(cfg.Association, dual.Options{
		Log:        log,
		Params:     pc,
		Metrics:    m,
		Progress:   newLogProgress(log),
		TimingPath: opts.timing,
	})

	start := time.Now()
	status, runErr := drv.Run(ctx, top)
	elapsed := time.Since(start)

	rep := report.New(top, runErr, elapsed)

	// classification and output still happen after an interrupt
	outCtx := context.WithoutCancel(ctx)
	engine, err := policy.New(outCtx, cfg.Report.PolicyDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading policy: %v\n", err)
		return exitFailed
	}
	if err := engine.Apply(outCtx, rep, cfg.Report.Rules); err != nil {
		fmt.Fprintf(stderr, "Error evaluating policy: %v\n", err)
		return exitFailed
	}

	if opts.output != "" {
		if err := rep.Write(opts.output, *cfg.Report.ValidateOutput); err != nil {
			fmt.Fprintf(stderr, "Error writing report: %v\n", err)
			return exitFailed
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			log.WithError(err).Warn("metrics textfile not written")
		}
	}

	printSummary(stdout, rep)

	switch status {
	case dual.StatusAborted:
		return exitAborted
	case dual.StatusFailed:
		return exitFailed
	}
	return exitOK
}

func printSummary(w io.Writer, r *report.Report) {
	fmt.Fprintf(w, "%s: %s in %dms (run %s)\n", r.Top, r.Status, r.DurationMS, r.RunID)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
	for _, c := range r.Tables.Cells {
		unresolved := c.UnresolvedGroups + c.UnresolvedDevices + c.UnresolvedSubckts +
			c.UnresolvedNodes + c.UnresolvedEDevices + c.UnresolvedESubckts
		mark := "ok"
		switch {
		case !c.Associated:
			mark = "not associated"
		case c.Inconsistent:
			mark = "inconsistent"
		case unresolved > 0:
			mark = fmt.Sprintf("%d unresolved", unresolved)
		}
		fmt.Fprintf(w, "  %-24s %s\n", c.Cell, mark)
	}
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  [%s] %s: %s\n", v.Severity, v.Rule, v.Message)
	}
	s := r.Summary
	fmt.Fprintf(w, "%d violations (%d errors, %d warnings, %d info)\n", s.TotalViolations, s.Errors, s.Warnings, s.Info)
}
