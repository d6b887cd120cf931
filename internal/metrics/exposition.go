package metrics

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Kind is the exposition TYPE of a sample.
type Kind string

const (
	Counter Kind = "counter"
	Gauge   Kind = "gauge"
)

// Sample is one named value in the plain-text exposition.
type Sample struct {
	Name   string
	Help   string
	Kind   Kind
	Labels map[string]string
	Value  float64
}

// Snapshotter is implemented by components that export counters.
type Snapshotter interface {
	Samples() []Sample
}

// Write renders samples in the Prometheus text format. HELP and TYPE headers are emitted
// once per metric name, in first-seen order.
func Write(w io.Writer, samples []Sample) error {
	seen := make(map[string]struct{}, len(samples))
	for _, sample := range samples {
		if _, ok := seen[sample.Name]; !ok {
			seen[sample.Name] = struct{}{}
			if sample.Help != "" {
				if _, err := fmt.Fprintf(w, "# HELP %s %s\n", sample.Name, sample.Help); err != nil {
					return err
				}
			}
			kind := sample.Kind
			if kind == "" {
				kind = Counter
			}
			if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", sample.Name, kind); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s%s %s\n", sample.Name, formatLabels(sample.Labels), formatValue(sample.Value)); err != nil {
			return err
		}
	}
	return nil
}

// Render is Write into a string.
func Render(sources ...Snapshotter) string {
	var all []Sample
	for _, source := range sources {
		if source == nil {
			continue
		}
		all = append(all, source.Samples()...)
	}
	var b strings.Builder
	_ = Write(&b, all)
	return b.String()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+strconv.Quote(labels[key]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
