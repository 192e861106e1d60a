package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/robert-at-pretension-io/lvsdual/internal/config"
)

const configFile = "lvs_assoc.json"

func runInit(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	force := fs.Bool("f", false, "overwrite an existing configuration without asking")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	if _, err := os.Stat(configFile); err == nil && !*force {
		fmt.Fprintf(stdout, "Config file %s already exists. Overwrite? [y/N]: ", configFile)
		response, _ := bufio.NewReader(stdin).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(stdout, "Aborted.")
			return exitOK
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configFile); err != nil {
		fmt.Fprintf(stderr, "Error creating config: %v\n", err)
		return exitFailed
	}

	fmt.Fprintf(stdout, "Created %s\n", configFile)
	fmt.Fprintln(stdout, "\nEdit this file to configure:")
	fmt.Fprintln(stdout, "  - Design file patterns and the top cell")
	fmt.Fprintln(stdout, "  - Solver limits and thresholds")
	fmt.Fprintln(stdout, "  - Report rule severities")
	return exitOK
}
