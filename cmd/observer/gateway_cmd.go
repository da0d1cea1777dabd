package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/Mindburn-Labs/observer/pkg/gateway"
)

// runGatewayCmd streams gateway events to the output, one rendered line per
// event. Interrupt ends a --follow run cleanly.
func runGatewayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gateway", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		gatewayURL   string
		streamID     string
		lane         string
		limit        int
		follow       bool
		pollInterval time.Duration
		format       string
		output       string
	)
	cmd.StringVar(&gatewayURL, "gateway-url", "http://127.0.0.1:8010", "Gateway base URL")
	cmd.StringVar(&streamID, "stream-id", "default", "Stream to observe")
	cmd.StringVar(&lane, "lane", "", "Optional lane filter")
	cmd.IntVar(&limit, "limit", 200, "Page size per snapshot fetch")
	cmd.BoolVar(&follow, "follow", false, "Keep polling after the stream drains")
	cmd.DurationVar(&pollInterval, "poll-interval", time.Second, "Sleep between empty polls in follow mode")
	cmd.StringVar(&format, "format", "line", "Output format: line or json")
	cmd.StringVar(&output, "output", "-", "Output path, or - for stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	out, closeOut, err := openOutput(output, stdout)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	defer closeOut()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := gateway.NewClient(gatewayURL)
	err = client.Observe(ctx, gateway.ObserveOptions{
		StreamID:     streamID,
		Lane:         lane,
		Limit:        limit,
		Follow:       follow,
		PollInterval: pollInterval,
	}, func(e map[string]any) error {
		line, renderErr := gateway.RenderEvent(e, format)
		if renderErr != nil {
			return renderErr
		}
		_, writeErr := fmt.Fprintln(out, line)
		return writeErr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
