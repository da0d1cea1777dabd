package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
	"github.com/Mindburn-Labs/observer/pkg/render"
	"github.com/Mindburn-Labs/observer/pkg/trace"
)

// runTraceCmd implements the file-to-file trace modes.
//
// Exit codes:
//
//	0 = success
//	1 = input parse failure
//	2 = canonicalization/digest failure (or other runtime error)
//	3 = output write failure
func runTraceCmd(mode string, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet(mode, flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		input     string
		output    string
		reference string
	)
	cmd.StringVar(&input, "input", "-", "Input path, or - for stdin")
	cmd.StringVar(&output, "output", "-", "Output path, or - for stdout")
	cmd.StringVar(&reference, "reference", "", "Reference trace path (required for diff)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if mode == "diff" && reference == "" {
		_, _ = fmt.Fprintln(stderr, "Error: diff requires --reference")
		return 1
	}

	events, code := readInput(input, mode == "project", stderr)
	if code != 0 {
		return code
	}

	var ref *trace.Reference
	if reference != "" {
		refEvents, refCode := readInput(reference, false, stderr)
		if refCode != 0 {
			return refCode
		}
		ref = &trace.Reference{Events: refEvents}
	}

	events = trace.ApplyDiagnostics(events, ref)
	traceDiags := trace.TraceDiagnostics(events, ref)

	out, closeOut, err := openOutput(output, stdout)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	defer closeOut()

	switch mode {
	case "explain":
		err = writeLines(out, render.ExplainLines(events, traceDiags))
	case "diff":
		err = writeLines(out, render.DiffLines(events, traceDiags))
	case "summary":
		err = writeLines(out, render.SummaryLines(events))
	default:
		err = trace.WriteTrace(out, events)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	return 0
}

func readInput(path string, raw bool, stderr io.Writer) ([]trace.Event, int) {
	in, closeIn, err := openInput(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
	defer closeIn()

	var events []trace.Event
	if raw {
		events, err = trace.ReadRaw(in)
	} else {
		events, err = trace.ReadTrace(in)
	}
	switch {
	case err == nil:
		return events, 0
	case errors.Is(err, trace.ErrInvalidInput):
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	case errors.Is(err, canonicalize.ErrCanonicalization):
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 2
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "-" {
		return stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
