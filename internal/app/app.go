package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "filter":
		return runFilter(args[1:])
	case "extract":
		return runExtract(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "pipeline", "run-once":
		return runPipeline(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "harvest CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  harvest <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  filter     Run the URL admission filter over a batch of URLs")
	fmt.Fprintln(os.Stderr, "  extract    Extract documents through the L0/L1/L2 tier chain")
	fmt.Fprintln(os.Stderr, "  dedup      Deduplicate a JSON document batch")
	fmt.Fprintln(os.Stderr, "  pipeline   Collect sources, then deduplicate the result")
	fmt.Fprintln(os.Stderr, "  run-once   Alias for pipeline")
	fmt.Fprintln(os.Stderr, "  validate   Validate document batch JSON files against the schema")
	fmt.Fprintln(os.Stderr, "  serve      Start Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"harvest <command> -h\" for command-specific flags.")
}
