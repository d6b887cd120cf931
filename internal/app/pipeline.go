package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/harvest/internal/cli"
	"horse.fit/harvest/internal/collect"
	"horse.fit/harvest/internal/config"
	"horse.fit/harvest/internal/pipeline"
)

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("value must not be empty")
	}
	*l = append(*l, trimmed)
	return nil
}

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sourcesPath := fs.String("sources", "", "YAML file listing sources")
	var inline stringList
	fs.Var(&inline, "source", "Source URL or channel (repeatable)")
	typeRaw := fs.String("type", "auto", "Type hint for --source values: auto, feed, scrape, messaging")
	threshold := fs.Float64("threshold", 0, "Similarity threshold in (0, 1]; 0 uses the configured default")
	quick := fs.Bool("quick", false, "Exact URL/title dedup only, no embeddings")
	output := fs.String("output", "", "Write the JSON report to this file instead of stdout")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")

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

	req, err := pipelineRequest(*sourcesPath, inline, *typeRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *threshold > 0 {
		req.Threshold = *threshold
	}
	req.Quick = req.Quick || *quick

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline command failed to build components")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer deps.Close()

	report, err := deps.pipeline.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("pipeline failed")
		fmt.Fprintf(os.Stderr, "Pipeline failed: %v\n", err)
		return 1
	}

	if err := writeReport(report, strings.TrimSpace(*output)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}

	stats := deps.extractor.Stats()
	fmt.Fprintf(
		os.Stderr,
		"pipeline run_id=%s sources=%d succeeded=%d failed=%d collected=%d unique=%d groups=%d managed_calls=%d\n",
		report.RunID,
		len(report.Sources),
		report.Succeeded,
		report.Failed,
		report.Collected,
		len(report.Dedup.Unique),
		len(report.Dedup.DuplicateGroups),
		stats.ManagedCalls(),
	)
	return 0
}

// pipelineRequest builds the run request from a sources file, inline --source values, or both.
func pipelineRequest(path string, inline []string, typeRaw string) (pipeline.Request, error) {
	var req pipeline.Request

	if trimmed := strings.TrimSpace(path); trimmed != "" {
		file, err := config.LoadSources(trimmed)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.Sources = append(req.Sources, file.Sources...)
		req.Threshold = file.Threshold
		req.Quick = file.Quick
	}

	if len(inline) > 0 {
		hint, err := collect.ParseSourceType(typeRaw)
		if err != nil {
			return pipeline.Request{}, fmt.Errorf("--type: %w", err)
		}
		for _, source := range inline {
			req.Sources = append(req.Sources, collect.Source{Source: source, Type: hint})
		}
	}

	if len(req.Sources) == 0 {
		return pipeline.Request{}, fmt.Errorf("at least one source is required (--sources or --source)")
	}
	return req, nil
}

func writeReport(report pipeline.Report, path string) error {
	if path == "" {
		return printJSON(report)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
