// Package analysis holds the shared shapes that flow between the classifiers,
// the session aggregator, and the statistics layers.
package analysis

import (
	"context"

	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// MethodHeuristic tags results produced by the keyword classifier.
const MethodHeuristic = "heuristic"

// Analyzer classifies a batch of items. Implementations never fail: errors
// are absorbed into a fallback result.
type Analyzer interface {
	Analyze(ctx context.Context, items []Item) Result
}

// Image is an opaque image handle attached to an item. URL may be an http(s)
// URL or a data: URL carrying base64 image bytes.
type Image struct {
	URL string `json:"url"`
}

// Item is one piece of content handed to a classifier.
type Item struct {
	Key      string `json:"key"`
	Platform string `json:"platform,omitempty"`
	Caption  string `json:"captionText"`
	DwellMs  int64  `json:"dwellMs"`
	Image    *Image `json:"imageRef,omitempty"`
}

// HasImage reports whether the item carries a usable image handle.
func (it Item) HasImage() bool {
	return it.Image != nil && it.Image.URL != ""
}

// Label is the per-item classification.
type Label struct {
	Key     string           `json:"key,omitempty"`
	Topic   taxonomy.Topic   `json:"topic"`
	Emotion taxonomy.Emotion `json:"emotion"`
}

// Result is the normalized output of any classifier.
// Each distribution sums to 1.0.
type Result struct {
	Topics        map[taxonomy.Topic]float64      `json:"topics"`
	Emotions      map[taxonomy.Emotion]float64    `json:"emotions"`
	Engagement    map[taxonomy.Engagement]float64 `json:"engagement"`
	TotalDwellMs  int64                           `json:"totalDwellMs"`
	ItemsAnalyzed int                             `json:"itemsAnalyzed"`
	PerItem       []Label                         `json:"perItem"`
	Method        string                          `json:"analysisMethod"`
}

// TotalDwell sums the dwell time of items.
func TotalDwell(items []Item) int64 {
	var total int64
	for _, it := range items {
		if it.DwellMs > 0 {
			total += it.DwellMs
		}
	}
	return total
}

// Keys returns the item keys in order.
func Keys(items []Item) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Key
	}
	return keys
}

// Uniform returns a result with a uniform split over every category of every
// dimension. Used when there is nothing to weight by.
func Uniform(method string) Result {
	return Result{
		Topics:     Normalize(nil, taxonomy.Topics),
		Emotions:   Normalize(nil, taxonomy.Emotions),
		Engagement: Normalize(nil, taxonomy.Engagements),
		PerItem:    []Label{},
		Method:     method,
	}
}

// Normalize returns a copy of scores restricted to keys and scaled to sum to
// 1.0. Missing keys are filled with zero. A zero or negative total yields a
// uniform split.
func Normalize[K comparable](scores map[K]float64, keys []K) map[K]float64 {
	out := make(map[K]float64, len(keys))
	var sum float64
	for _, k := range keys {
		v := scores[k]
		if v < 0 {
			v = 0
		}
		out[k] = v
		sum += v
	}
	if sum <= 0 {
		u := 1.0 / float64(len(keys))
		for _, k := range keys {
			out[k] = u
		}
		return out
	}
	for _, k := range keys {
		out[k] /= sum
	}
	return out
}

// Sum adds up the values of a distribution.
func Sum[K comparable](m map[K]float64) float64 {
	var s float64
	for _, v := range m {
		s += v
	}
	return s
}
