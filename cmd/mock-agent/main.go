// Package main implements a mock agent binary that speaks the claude
// stream-json protocol over stdout. It stands in for a real provider CLI
// when exercising the subprocess runner: an init frame, a configurable
// number of text deltas, the assembled assistant turn and a result frame.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := run(os.Stdout, opts); err != nil {
		fmt.Fprintf(os.Stderr, "mock-agent: %v\n", err)
		os.Exit(1)
	}
	if opts.Fail {
		os.Exit(1)
	}
}

// options controls the shape of the simulated stream.
type options struct {
	Prompt string
	Model  string
	Chunks int
	Delay  time.Duration
	Fail   bool
}

// parseArgs understands both the mock's own knobs and the flags the runner
// catalog passes to the real CLI, so the binary is a drop-in replacement for
// the claude-cli command.
func parseArgs(args []string) (*options, error) {
	fs := flag.NewFlagSet("mock-agent", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	opts := &options{}
	fs.StringVar(&opts.Prompt, "p", "", "prompt text")
	fs.StringVar(&opts.Model, "model", "mock-default", "model name reported in frames")
	fs.IntVar(&opts.Chunks, "chunks", 3, "number of text delta frames")
	fs.DurationVar(&opts.Delay, "delay", 0, "pause before each frame")
	fs.BoolVar(&opts.Fail, "fail", false, "emit an error result and exit nonzero")

	// Accepted and ignored so the claude-cli arg template works unchanged.
	fs.String("output-format", "stream-json", "")
	fs.Bool("verbose", false, "")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.Chunks < 1 {
		opts.Chunks = 1
	}
	return opts, nil
}
