package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/robert-at-pretension-io/lvsdual/internal/report"
)

func runDelta(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("delta", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cells := fs.String("cells", "", "comma-separated cells to compare (default: all)")
	output := fs.String("o", "", "write delta JSON to file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "Usage: lvs-assoc delta [-cells a,b] [-o delta.json] <prev.json> <next.json>")
		return exitFailed
	}

	prev, err := report.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	next, err := report.Load(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	prevTables, nextTables := prev.Tables, next.Tables
	if *cells != "" {
		set := make(map[string]bool)
		for _, c := range strings.Split(*cells, ",") {
			if c = strings.TrimSpace(c); c != "" {
				set[c] = true
			}
		}
		prevTables = report.FilterByCells(prevTables, set)
		nextTables = report.FilterByCells(nextTables, set)
	}

	delta := report.ComputeDelta(prevTables, nextTables)
	if *output != "" {
		if err := writeJSON(*output, delta); err != nil {
			fmt.Fprintf(stderr, "Error writing delta: %v\n", err)
			return exitFailed
		}
		fmt.Fprintf(stdout, "residuals: +%d -%d, duals: +%d -%d\n",
			len(delta.Added.Residuals), len(delta.Removed.Residuals),
			len(delta.Added.Duals), len(delta.Removed.Duals))
		return exitOK
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(delta); err != nil {
		fmt.Fprintf(stderr, "Error encoding delta: %v\n", err)
		return exitFailed
	}
	return exitOK
}

func writeJSON(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
