package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/harvest/internal/admission"
	"horse.fit/harvest/internal/cli"
)

func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "File with one URL per line (- for stdin)")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	urls, err := readURLs(fs.Args(), *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read URLs: %v\n", err)
		return 1
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "at least one URL is required (positional or --file)")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("filter command failed to build components")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer deps.Close()

	result := deps.filter.EvaluateBatch(ctx, urls)

	if format == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
			return 1
		}
	} else if err := writeTable([]string{"VERDICT", "STAGE", "REASON", "URL"}, verdictRows(result.Verdicts)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}

	logger.Info().
		Int("total", result.Summary.Total).
		Int("passed", result.Summary.Passed).
		Int("filtered", result.Summary.Filtered).
		Msg("filter completed")
	fmt.Fprintf(
		os.Stderr,
		"filter total=%d passed=%d filtered=%d filter_rate=%.2f credits_saved=%d\n",
		result.Summary.Total,
		result.Summary.Passed,
		result.Summary.Filtered,
		result.Summary.FilterRate,
		result.Summary.CreditsSaved,
	)
	return 0
}

func verdictRows(verdicts []admission.Verdict) [][]string {
	rows := make([][]string, 0, len(verdicts))
	for _, v := range verdicts {
		decision := "pass"
		if !v.Passed {
			decision = "filter"
		}
		rows = append(rows, []string{
			decision,
			string(v.Stage),
			truncateForTable(v.Reason, 40),
			truncateForTable(strings.TrimSpace(v.URL), 100),
		})
	}
	return rows
}
