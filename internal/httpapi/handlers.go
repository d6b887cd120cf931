package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"horse.fit/harvest/internal/collect"
	"horse.fit/harvest/internal/dedup"
	"horse.fit/harvest/internal/globaltime"
	"horse.fit/harvest/internal/hybrid"
	"horse.fit/harvest/internal/metrics"
	"horse.fit/harvest/internal/pipeline"
	"horse.fit/harvest/internal/schema"
)

type urlsRequest struct {
	URLs []string `json:"urls"`
}

type pipelineRequest struct {
	Sources    []string `json:"sources"`
	SourceType string   `json:"source_type"`
	Threshold  float64  `json:"threshold"`
	Quick      bool     `json:"quick"`
}

type extractResponse struct {
	Results   []hybrid.ExtractionResult `json:"results"`
	Succeeded int                       `json:"succeeded"`
	Rejected  int                       `json:"rejected"`
	Exhausted int                       `json:"exhausted"`
	Documents int                       `json:"documents"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "harvest",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	body := metrics.Render(s.deps.Filter, s.deps.Extractor)
	return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(body))
}

func (s *Server) handleFilter(c echo.Context) error {
	var req urlsRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, "body", err.Error())
	}
	urls, fieldErr := s.cleanURLs(req.URLs)
	if fieldErr != "" {
		return failValidation(c, "urls", fieldErr)
	}

	result := s.deps.Filter.EvaluateBatch(c.Request().Context(), urls)
	return success(c, result)
}

type filterResetRequest struct {
	ClearCache bool `json:"clear_cache"`
}

func (s *Server) handleFilterStats(c echo.Context) error {
	state := s.deps.Filter.State()
	return success(c, map[string]any{
		"stats":      state.Stats(),
		"filtered":   state.Stats().Filtered(),
		"cache_size": state.CacheSize(),
	})
}

// handleFilterReset zeroes the admission counters; the verdict cache is only dropped when
// clear_cache is set. An empty body is a counters-only reset.
func (s *Server) handleFilterReset(c echo.Context) error {
	var req filterResetRequest
	if c.Request().ContentLength != 0 {
		if err := decodeJSONBody(c, &req); err != nil && !errors.Is(err, errEmptyBody) {
			return failValidation(c, "body", err.Error())
		}
	}

	state := s.deps.Filter.State()
	state.Reset()
	if req.ClearCache {
		state.ClearCache()
	}
	return success(c, map[string]any{
		"reset":       true,
		"cache_clear": req.ClearCache,
		"cache_size":  state.CacheSize(),
	})
}

func (s *Server) handleExtractStats(c echo.Context) error {
	stats := s.deps.Extractor.Stats()
	return success(c, map[string]any{
		"stats":         stats,
		"managed_calls": stats.ManagedCalls(),
	})
}

func (s *Server) handleExtract(c echo.Context) error {
	var req urlsRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, "body", err.Error())
	}
	urls, fieldErr := s.cleanURLs(req.URLs)
	if fieldErr != "" {
		return failValidation(c, "urls", fieldErr)
	}

	results := s.deps.Extractor.ExtractBatch(c.Request().Context(), urls)
	resp := extractResponse{Results: results}
	for _, r := range results {
		switch r.State {
		case hybrid.StateSucceeded:
			resp.Succeeded++
			resp.Documents += len(r.Documents)
		case hybrid.StateRejected:
			resp.Rejected++
		case hybrid.StateExhausted:
			resp.Exhausted++
		}
	}
	return success(c, resp)
}

func (s *Server) handleDeduplicate(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, "body", "could not read request body")
	}
	batch, err := schema.DecodeDocumentBatch(raw)
	if err != nil {
		return failValidation(c, "body", err.Error())
	}
	if len(batch.Documents) == 0 {
		return failValidation(c, "documents", "at least one document is required")
	}

	report := s.deps.Pipeline.Deduplicate(c.Request().Context(), batch.Documents, batch.Threshold, batch.Mode == dedup.ModeQuick)
	return success(c, report)
}

func (s *Server) handlePipeline(c echo.Context) error {
	var req pipelineRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, "body", err.Error())
	}
	if len(req.Sources) == 0 {
		return failValidation(c, "sources", "at least one source is required")
	}
	if len(req.Sources) > s.opts.MaxBatchURLs {
		return failValidation(c, "sources", fmt.Sprintf("must contain at most %d entries", s.opts.MaxBatchURLs))
	}
	kind, err := collect.ParseSourceType(req.SourceType)
	if err != nil {
		return failValidation(c, "source_type", err.Error())
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return failValidation(c, "threshold", "must be in [0, 1]")
	}

	sources := make([]collect.Source, 0, len(req.Sources))
	for _, src := range req.Sources {
		if strings.TrimSpace(src) == "" {
			return failValidation(c, "sources", "must not contain empty entries")
		}
		sources = append(sources, collect.Source{Source: strings.TrimSpace(src), Type: kind})
	}

	report, err := s.deps.Pipeline.Run(c.Request().Context(), pipeline.Request{
		Sources:   sources,
		Threshold: req.Threshold,
		Quick:     req.Quick,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("pipeline run failed")
		return internalError(c, "Pipeline run failed")
	}
	return success(c, report)
}

func (s *Server) cleanURLs(raw []string) ([]string, string) {
	if len(raw) == 0 {
		return nil, "at least one URL is required"
	}
	if len(raw) > s.opts.MaxBatchURLs {
		return nil, fmt.Sprintf("must contain at most %d entries", s.opts.MaxBatchURLs)
	}
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		trimmed := strings.TrimSpace(u)
		if trimmed == "" {
			return nil, "must not contain empty entries"
		}
		out = append(out, trimmed)
	}
	return out, ""
}

var errEmptyBody = errors.New("request body is empty")

func decodeJSONBody(c echo.Context, out any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if err == io.EOF {
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body contains trailing content")
	}
	return nil
}
