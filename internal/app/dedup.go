package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"horse.fit/harvest/internal/cli"
	"horse.fit/harvest/internal/schema"
)

func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	input := fs.String("input", "-", "Document batch JSON file (- for stdin)")
	threshold := fs.Float64("threshold", 0, "Similarity threshold in (0, 1]; 0 uses DEDUP_THRESHOLD or the batch value")
	quick := fs.Bool("quick", false, "Exact URL/title dedup only, no embeddings")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *threshold < 0 || *threshold > 1 {
		fmt.Fprintln(os.Stderr, "--threshold must be in (0, 1]")
		return 2
	}

	raw, err := readInput(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read input: %v\n", err)
		return 1
	}
	batch, err := schema.DecodeDocumentBatch(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid document batch: %v\n", err)
		return 1
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("dedup command failed to build components")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer deps.Close()

	effective := *threshold
	if effective == 0 {
		effective = batch.Threshold
	}
	useQuick := *quick || strings.EqualFold(batch.Mode, "quick")

	report := deps.pipeline.Deduplicate(ctx, batch.Documents, effective, useQuick)
	if err := printJSON(report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}

	logger.Info().
		Str("mode", report.Mode).
		Int("original", report.InputCount).
		Int("unique", len(report.Unique)).
		Int("groups", len(report.DuplicateGroups)).
		Msg("dedup completed")
	fmt.Fprintf(
		os.Stderr,
		"dedup mode=%s original=%d after_url_dedup=%d after_semantic_dedup=%d groups=%d embedding_failures=%d\n",
		report.Mode,
		report.InputCount,
		report.AfterURLDedup,
		report.AfterSemanticDedup,
		len(report.DuplicateGroups),
		report.EmbeddingFailures,
	)
	return 0
}

func readInput(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
