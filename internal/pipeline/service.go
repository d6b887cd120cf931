package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/collect"
	"horse.fit/harvest/internal/dedup"
	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/globaltime"
)

type Collector interface {
	Collect(ctx context.Context, sources []collect.Source) collect.Result
}

type Deduplicator interface {
	Deduplicate(ctx context.Context, docs []document.Document, threshold float64) dedup.Report
}

type Request struct {
	Sources   []collect.Source `json:"sources"`
	Threshold float64          `json:"threshold,omitempty"`
	Quick     bool             `json:"quick,omitempty"`
}

// Report is the terminal artifact of one run. It is returned even when every source fails.
type Report struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Sources    []collect.SourceResult `json:"sources"`
	Succeeded  int                    `json:"sources_succeeded"`
	Failed     int                    `json:"sources_failed"`
	Collected  int                    `json:"collected"`
	Dedup      dedup.Report           `json:"dedup"`
}

type Service struct {
	collector Collector
	clusterer Deduplicator
	threshold float64
	logger    zerolog.Logger
}

func NewService(collector Collector, clusterer Deduplicator, threshold float64, logger zerolog.Logger) *Service {
	if threshold <= 0 {
		threshold = dedup.DefaultThreshold
	}
	return &Service{collector: collector, clusterer: clusterer, threshold: threshold, logger: logger}
}

// Run collects every source, then deduplicates the combined documents.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	if s == nil || s.collector == nil {
		return Report{}, fmt.Errorf("pipeline service is not initialized")
	}
	if len(req.Sources) == 0 {
		return Report{}, fmt.Errorf("at least one source is required")
	}

	report := Report{RunID: uuid.NewString(), StartedAt: globaltime.UTC()}
	logger := s.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Int("sources", len(req.Sources)).Msg("pipeline run started")

	collected := s.collector.Collect(ctx, req.Sources)
	report.Sources = collected.Sources
	report.Succeeded = collected.Succeeded
	report.Failed = collected.Failed
	report.Collected = len(collected.Documents)

	report.Dedup = s.Deduplicate(ctx, collected.Documents, req.Threshold, req.Quick)
	report.FinishedAt = globaltime.UTC()

	logger.Info().
		Int("collected", report.Collected).
		Int("unique", len(report.Dedup.Unique)).
		Int("sources_failed", report.Failed).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("pipeline run finished")
	return report, nil
}

// Deduplicate runs quick or semantic dedup. A non-positive threshold uses the service default.
func (s *Service) Deduplicate(ctx context.Context, docs []document.Document, threshold float64, quick bool) dedup.Report {
	if quick || s.clusterer == nil {
		return dedup.Quick(docs)
	}
	if threshold <= 0 {
		threshold = s.threshold
	}
	return s.clusterer.Deduplicate(ctx, docs, threshold)
}
