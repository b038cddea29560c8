package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `llmgate is an OpenAI-compatible gateway in front of a single LLM backend.

Usage:
  llmgate serve [flags]

Commands:
  serve    Start the HTTP server
  version  Print the build version

Flags:
  -h, --help  Show this help message`

// Version is reported by the version command.
var Version = "dev"

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout)
}

func execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return printUsage(out)
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:], out)
	case "version", "--version":
		_, err := fmt.Fprintf(out, "llmgate %s\n", Version)
		return err
	case "help", "-h", "--help":
		return printUsage(out)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage(out io.Writer) error {
	_, err := fmt.Fprintln(out, strings.TrimSpace(usage))
	return err
}
