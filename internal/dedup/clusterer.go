package dedup

import (
	"context"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/harvest/internal/document"
	"horse.fit/harvest/internal/globaltime"
	"horse.fit/harvest/internal/similarity"
	"horse.fit/harvest/internal/throttle"
)

const (
	DefaultThreshold  = 0.9
	DefaultPauseEvery = 5
	DefaultPause      = 500 * time.Millisecond

	ModeSemantic = "semantic"
	ModeQuick    = "quick"
)

// Vectorizer embeds one document, returning nil when it cannot.
type Vectorizer interface {
	Embed(ctx context.Context, doc document.Document) []float64
}

type Options struct {
	PauseEvery int
	Pause      time.Duration
	Sleeper    throttle.Sleeper
}

type Member struct {
	Document   document.Document `json:"document"`
	Similarity float64           `json:"similarity"`
}

// Group is one cluster of near-duplicates. Canonical never appears among Members.
type Group struct {
	Canonical document.Document `json:"canonical"`
	Members   []Member          `json:"members"`
}

type Report struct {
	Mode               string              `json:"mode"`
	InputCount         int                 `json:"original"`
	AfterURLDedup      int                 `json:"after_url_dedup"`
	AfterSemanticDedup int                 `json:"after_semantic_dedup"`
	Unique             []document.Document `json:"unique"`
	Duplicates         []document.Document `json:"duplicates"`
	URLDuplicates      []document.Document `json:"url_duplicates"`
	DuplicateGroups    []Group             `json:"duplicate_groups"`
	Threshold          float64             `json:"threshold,omitempty"`
	EmbeddingFailures  int                 `json:"embedding_failures"`
	Duration           time.Duration       `json:"duration_ns"`
}

type Clusterer struct {
	vectorizer Vectorizer
	opts       Options
	logger     zerolog.Logger
}

func New(vectorizer Vectorizer, opts Options, logger zerolog.Logger) *Clusterer {
	normalized := opts
	if normalized.PauseEvery <= 0 {
		normalized.PauseEvery = DefaultPauseEvery
	}
	if normalized.Pause == 0 {
		normalized.Pause = DefaultPause
	}
	if normalized.Sleeper == nil {
		normalized.Sleeper = throttle.SleepContext
	}
	return &Clusterer{vectorizer: vectorizer, opts: normalized, logger: logger}
}

// Deduplicate collapses exact-key duplicates, embeds the survivors sequentially and
// greedily clusters them. A non-positive threshold means DefaultThreshold.
func (c *Clusterer) Deduplicate(ctx context.Context, docs []document.Document, threshold float64) Report {
	started := globaltime.Now()
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	survivors, urlDuplicates := exactDedup(docs)
	report := Report{
		Mode:          ModeSemantic,
		InputCount:    len(docs),
		AfterURLDedup: len(survivors),
		URLDuplicates: urlDuplicates,
		Threshold:     threshold,
	}

	if len(survivors) <= 1 || c.vectorizer == nil {
		report.Unique = survivors
		report.AfterSemanticDedup = len(survivors)
		report.Duration = globaltime.Since(started)
		return report
	}

	vectors := c.embedAll(ctx, survivors)
	for _, v := range vectors {
		if v == nil {
			report.EmbeddingFailures++
		}
	}

	for _, cluster := range greedyClusters(vectors, threshold) {
		if len(cluster) == 1 {
			report.Unique = append(report.Unique, survivors[cluster[0]])
			continue
		}

		ordered := canonicalOrder(survivors, cluster)
		canonical := ordered[0]
		group := Group{Canonical: survivors[canonical]}
		for _, idx := range ordered[1:] {
			group.Members = append(group.Members, Member{
				Document:   survivors[idx],
				Similarity: similarity.Cosine(vectors[canonical], vectors[idx]),
			})
			report.Duplicates = append(report.Duplicates, survivors[idx])
		}
		report.Unique = append(report.Unique, group.Canonical)
		report.DuplicateGroups = append(report.DuplicateGroups, group)
	}

	report.AfterSemanticDedup = len(report.Unique)
	report.Duration = globaltime.Since(started)
	c.logger.Info().
		Int("original", report.InputCount).
		Int("after_url_dedup", report.AfterURLDedup).
		Int("after_semantic_dedup", report.AfterSemanticDedup).
		Int("groups", len(report.DuplicateGroups)).
		Int("embedding_failures", report.EmbeddingFailures).
		Msg("deduplication finished")
	return report
}

// embedAll calls the vectorizer one document at a time, pausing every PauseEvery calls.
// The first usable vector fixes the dimension; any later vector of another length is
// discarded as a failure. Cancellation leaves the remaining vectors nil.
func (c *Clusterer) embedAll(ctx context.Context, docs []document.Document) [][]float64 {
	vectors := make([][]float64, len(docs))
	pacer := throttle.NewWindow(c.opts.PauseEvery, c.opts.Pause, c.opts.Sleeper)
	dims := 0
	for i, doc := range docs {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		vector := c.vectorizer.Embed(ctx, doc)
		if len(vector) == 0 {
			continue
		}
		if dims == 0 {
			dims = len(vector)
		}
		if len(vector) != dims {
			c.logger.Warn().
				Str("url", doc.URL).
				Int("expected_dims", dims).
				Int("actual_dims", len(vector)).
				Msg("embedding dimension mismatch, document kept unclustered")
			continue
		}
		vectors[i] = vector
	}
	return vectors
}

// Quick deduplicates on URL or normalized title only, without embeddings.
func Quick(docs []document.Document) Report {
	started := globaltime.Now()
	survivors, urlDuplicates := exactDedup(docs)
	return Report{
		Mode:               ModeQuick,
		InputCount:         len(docs),
		AfterURLDedup:      len(survivors),
		AfterSemanticDedup: len(survivors),
		Unique:             survivors,
		URLDuplicates:      urlDuplicates,
		Duration:           globaltime.Since(started),
	}
}

// exactDedup keeps the first document per dedup key. Documents without a key are kept.
func exactDedup(docs []document.Document) ([]document.Document, []document.Document) {
	seen := make(map[string]struct{}, len(docs))
	survivors := make([]document.Document, 0, len(docs))
	var duplicates []document.Document
	for _, doc := range docs {
		key := doc.DedupKey()
		if key == "" {
			survivors = append(survivors, doc)
			continue
		}
		if _, dup := seen[key]; dup {
			duplicates = append(duplicates, doc)
			continue
		}
		seen[key] = struct{}{}
		survivors = append(survivors, doc)
	}
	return survivors, duplicates
}

// greedyClusters seeds a cluster at each unassigned index in order and pulls in every later
// unassigned index within threshold of the seed. Nil vectors always form singletons.
// Clusters are returned in seed order.
func greedyClusters(vectors [][]float64, threshold float64) [][]int {
	assigned := make([]bool, len(vectors))
	var clusters [][]int
	for i := range vectors {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cluster := []int{i}
		if vectors[i] != nil {
			for j := i + 1; j < len(vectors); j++ {
				if assigned[j] || vectors[j] == nil {
					continue
				}
				if similarity.Cosine(vectors[i], vectors[j]) >= threshold {
					assigned[j] = true
					cluster = append(cluster, j)
				}
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// canonicalOrder sorts a cluster by source priority (highest first), then publication time
// (earliest first), then body length (longest first). Full ties keep seed order.
//
// A missing publication time counts as the Unix epoch, so undated documents beat dated
// ones of the same source. Existing consumers depend on this ordering; it is suspect and
// tracked for review.
func canonicalOrder(docs []document.Document, cluster []int) []int {
	ordered := append([]int(nil), cluster...)
	sort.SliceStable(ordered, func(a, b int) bool {
		da, db := docs[ordered[a]], docs[ordered[b]]
		if pa, pb := da.Source.Priority(), db.Source.Priority(); pa != pb {
			return pa > pb
		}
		if ta, tb := da.PublishedUnix(), db.PublishedUnix(); ta != tb {
			return ta < tb
		}
		return utf8.RuneCountInString(da.BodyText) > utf8.RuneCountInString(db.BodyText)
	})
	return ordered
}
