package analysis

import (
	"sort"
	"strings"

	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// Merge combines two results weighted by the dwell time each one covers:
//
//	merged[c] = (a[c]*a.TotalDwellMs + b[c]*b.TotalDwellMs) / (a.TotalDwellMs + b.TotalDwellMs)
//
// Per-item labels are concatenated a then b. When neither side carries dwell
// time the items-analyzed counts are used as weights instead, so zero-dwell
// batches still contribute.
func Merge(a, b Result) Result {
	wa, wb := float64(a.TotalDwellMs), float64(b.TotalDwellMs)
	if wa+wb == 0 {
		wa, wb = float64(a.ItemsAnalyzed), float64(b.ItemsAnalyzed)
	}

	perItem := make([]Label, 0, len(a.PerItem)+len(b.PerItem))
	perItem = append(perItem, a.PerItem...)
	perItem = append(perItem, b.PerItem...)

	return Result{
		Topics:        mergeDist(a.Topics, b.Topics, wa, wb, taxonomy.Topics),
		Emotions:      mergeDist(a.Emotions, b.Emotions, wa, wb, taxonomy.Emotions),
		Engagement:    mergeDist(a.Engagement, b.Engagement, wa, wb, taxonomy.Engagements),
		TotalDwellMs:  a.TotalDwellMs + b.TotalDwellMs,
		ItemsAnalyzed: a.ItemsAnalyzed + b.ItemsAnalyzed,
		PerItem:       perItem,
		Method:        mergeMethod(a.Method, b.Method),
	}
}

func mergeDist[K comparable](a, b map[K]float64, wa, wb float64, keys []K) map[K]float64 {
	if wa+wb == 0 {
		return Normalize(nil, keys)
	}
	out := make(map[K]float64, len(keys))
	for _, k := range keys {
		out[k] = (a[k]*wa + b[k]*wb) / (wa + wb)
	}
	return Normalize(out, keys)
}

// mergeMethod joins distinct method tags with "+", keeping them sorted so the
// merged tag does not depend on merge order.
func mergeMethod(a, b string) string {
	seen := make(map[string]bool)
	var parts []string
	for _, m := range strings.Split(a+"+"+b, "+") {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		parts = append(parts, m)
	}
	sort.Strings(parts)
	return strings.Join(parts, "+")
}

// Accumulator is the running merge of every analysis batch processed during a
// session, plus the set of item keys already covered.
type Accumulator struct {
	analyzed map[string]bool
	merged   *Result
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{analyzed: make(map[string]bool)}
}

// Add folds a batch result into the accumulator and marks keys as analyzed.
func (a *Accumulator) Add(keys []string, r Result) {
	for _, k := range keys {
		a.analyzed[k] = true
	}
	if a.merged == nil {
		cp := r
		cp.PerItem = append([]Label(nil), r.PerItem...)
		a.merged = &cp
		return
	}
	m := Merge(*a.merged, r)
	a.merged = &m
}

// Contains reports whether key was covered by a previous batch.
func (a *Accumulator) Contains(key string) bool {
	return a.analyzed[key]
}

// Len returns the number of item keys covered.
func (a *Accumulator) Len() int {
	return len(a.analyzed)
}

// Result returns the merged result, or false if nothing was added yet.
func (a *Accumulator) Result() (Result, bool) {
	if a.merged == nil {
		return Result{}, false
	}
	return *a.merged, true
}
