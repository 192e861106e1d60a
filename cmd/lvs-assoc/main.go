// =============================================================================
// lvs-assoc - Layout/Schematic Association
// =============================================================================
//
// lvs-assoc binds the extracted layout of a cell hierarchy to its schematic
// netlist: every layout net group to a schematic node, every layout device
// and instance to a schematic device and instance.
//
// THE PIPELINE:
//   1. Design files (JSON/YAML) are validated against the CUE contract
//   2. Pass 1 associates every cell bottom-up, flattening what cannot pair
//   3. Pass 2 rechecks top-down, fixes pin permutations and names nets
//   4. Residual objects become report rows, classified by the rego policy
//   5. The report is checked against the CUE contract and written out
//
// WHEN INVESTIGATING A BAD ASSOCIATION:
//   Start with the residual rows of the deepest cell. A wrong answer in a
//   leaf cell propagates into every parent through the instance pins.
// =============================================================================

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes of the run command.
const (
	exitOK      = 0
	exitFailed  = 1
	exitAborted = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitFailed
	}

	switch args[0] {
	case "init":
		return runInit(args[1:], stdin, stdout, stderr)
	case "run":
		return runAssoc(ctx, args[1:], stdout, stderr)
	case "delta":
		return runDelta(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return exitOK
	default:
		return runAssoc(ctx, args, stdout, stderr)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: lvs-assoc [run] [options] [design files...]
       lvs-assoc <command> [options]

Commands:
  init [-f]                           Create an lvs_assoc.json configuration file
  run [options] [design files...]     Associate layout with schematic
  delta [-cells a,b] [-o file] <prev.json> <next.json>
                                      Compare the tables of two reports

Run options:
  -c file        Configuration file (default: search lvs_assoc.json)
  -top cell      Top cell (default: config, design file, or inferred)
  -o file        Write the JSON report to file
  -D name=value  Set a global parameter (repeatable)
  -timing file   Append per-cell timing as JSON lines
  -v             Debug logging

Exit codes:
  0  association completed (residuals are reported, not fatal)
  1  association failed or the inputs could not be loaded
  2  association aborted

Configuration:
  lvs-assoc looks for configuration in:
    1. ./lvs_assoc.json
    2. ./.lvs_assoc.json
    3. <design dir>/lvs_assoc.json
    4. ~/.config/lvs_assoc/config.json

  Run 'lvs-assoc init' to create a default configuration file.`)
}
