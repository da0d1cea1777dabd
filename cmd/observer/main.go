// Command observer is the observation-only visibility layer for an upstream
// decision gateway: a trace pipeline CLI plus an HTTP projection server.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the CLI. Exit codes: 0 success, 1 input parse failure,
// 2 canonicalization/digest or runtime failure, 3 output write failure.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runTraceCmd("diagnostic", nil, stdout, stderr)
	}

	switch args[1] {
	case "project", "diagnostic", "explain", "diff", "summary":
		return runTraceCmd(args[1], args[2:], stdout, stderr)
	case "gateway":
		return runGatewayCmd(args[2:], stdout, stderr)
	case "serve", "server":
		return runServeCmd(args[2:], stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "observer <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Trace pipeline:")
	fmt.Fprintln(w, "  project     raw items (or a snapshot envelope) -> wire trace")
	fmt.Fprintln(w, "  diagnostic  wire trace -> wire trace with diagnostics (default)")
	fmt.Fprintln(w, "  explain     wire trace -> human-readable lines")
	fmt.Fprintln(w, "  diff        wire trace vs --reference -> digest mismatches")
	fmt.Fprintln(w, "  summary     wire trace -> per-source/per-artifact counts")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Live observation:")
	fmt.Fprintln(w, "  gateway     poll the upstream gateway snapshot endpoint")
	fmt.Fprintln(w, "  serve       run the HTTP projection server")
}
