package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/harvest/internal/cli"
	"horse.fit/harvest/internal/hybrid"
)

func runExtract(args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "File with one URL per line (- for stdin)")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	formatRaw := fs.String("format", outputFormatJSON, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatJSON)
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
		logger.Error().Err(err).Msg("extract command failed to build components")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer deps.Close()

	results := deps.extractor.ExtractBatch(ctx, urls)

	if format == outputFormatJSON {
		err = printJSON(results)
	} else {
		err = writeTable([]string{"STATE", "TIER", "DOCS", "REASON", "URL"}, extractionRows(results))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}

	stats := deps.extractor.Stats()
	docs := len(hybrid.Documents(results))
	logger.Info().
		Int("urls", len(urls)).
		Int("documents", docs).
		Int64("managed_calls", stats.ManagedCalls()).
		Msg("extract completed")
	fmt.Fprintf(
		os.Stderr,
		"extract urls=%d documents=%d rejected=%d succeeded=%d exhausted=%d managed_calls=%d\n",
		len(urls),
		docs,
		stats.Rejected,
		stats.Succeeded,
		stats.Exhausted,
		stats.ManagedCalls(),
	)
	return 0
}

func extractionRows(results []hybrid.ExtractionResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			string(r.State),
			string(r.Tier),
			strconv.Itoa(len(r.Documents)),
			truncateForTable(r.FailureReason, 40),
			truncateForTable(r.URL, 100),
		})
	}
	return rows
}
