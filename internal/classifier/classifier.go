// Package classifier is the heuristic keyword classifier. It is pure and
// deterministic: the same items always produce the same result.
package classifier

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// Engine adapts Classify to the context-aware analyzer shape used by the
// session aggregator.
type Engine struct{}

// Analyze classifies items heuristically. ctx is unused.
func (Engine) Analyze(_ context.Context, items []analysis.Item) analysis.Result {
	return Classify(items)
}

// Classify scores items by dwell-weighted topic, emotion and engagement.
// PerItem is left empty. With zero total dwell every dimension is uniform.
func Classify(items []analysis.Item) analysis.Result {
	total := analysis.TotalDwell(items)
	if total == 0 {
		r := analysis.Uniform(analysis.MethodHeuristic)
		r.ItemsAnalyzed = len(items)
		return r
	}

	topics := make(map[taxonomy.Topic]float64)
	emotions := make(map[taxonomy.Emotion]float64)
	engagement := make(map[taxonomy.Engagement]float64)

	for _, it := range items {
		if it.DwellMs <= 0 {
			continue
		}
		w := float64(it.DwellMs) / float64(total)
		topics[Topic(it.Caption)] += w
		emotions[Emotion(it.Caption)] += w
		engagement[Engagement(it.Caption, it.DwellMs)] += w
	}

	return analysis.Result{
		Topics:        analysis.Normalize(topics, taxonomy.Topics),
		Emotions:      analysis.Normalize(emotions, taxonomy.Emotions),
		Engagement:    analysis.Normalize(engagement, taxonomy.Engagements),
		TotalDwellMs:  total,
		ItemsAnalyzed: len(items),
		PerItem:       []analysis.Label{},
		Method:        analysis.MethodHeuristic,
	}
}

// Label returns the per-item topic and emotion for one item.
func Label(it analysis.Item) analysis.Label {
	return analysis.Label{Key: it.Key, Topic: Topic(it.Caption), Emotion: Emotion(it.Caption)}
}

// Labels labels every item in order.
func Labels(items []analysis.Item) []analysis.Label {
	out := make([]analysis.Label, len(items))
	for i, it := range items {
		out[i] = Label(it)
	}
	return out
}

// Topic classifies a caption. Priority rules run first, then keyword scoring,
// then the length-based default.
func Topic(caption string) taxonomy.Topic {
	for _, rule := range priorityRules {
		if rule.match(caption) {
			return rule.topic
		}
	}

	best, bestScore := taxonomy.Topic(""), 0
	for _, rule := range keywordRules {
		score := len(rule.pattern.FindAllStringIndex(caption, -1))
		// strict > keeps the earlier declared rule on ties
		if score > bestScore {
			best, bestScore = rule.topic, score
		}
	}
	if bestScore > 0 {
		return best
	}

	if utf8.RuneCountInString(strings.TrimSpace(caption)) > defaultTopicMinChars {
		return taxonomy.Entertainment
	}
	return taxonomy.Social
}

// Emotion classifies a caption by positive and negative keyword counts.
func Emotion(caption string) taxonomy.Emotion {
	pos := len(positivePattern.FindAllStringIndex(caption, -1))
	neg := len(negativePattern.FindAllStringIndex(caption, -1))
	switch {
	case pos > 0 && neg > 0 && pos == neg:
		return taxonomy.Mixed
	case pos > neg:
		return taxonomy.Positive
	case neg > pos:
		return taxonomy.Negative
	default:
		return taxonomy.Neutral
	}
}

// Engagement classifies how attentively an item was consumed.
func Engagement(caption string, dwellMs int64) taxonomy.Engagement {
	length := utf8.RuneCountInString(caption)
	reflective := reflectivePattern.MatchString(caption) || strings.Contains(caption, "?")
	if reflective && (length > mindfulMinChars || dwellMs > mindfulMinDwellMs) {
		return taxonomy.Mindful
	}
	if dwellMs < mindlessMaxDwell && length < mindlessMaxChars {
		return taxonomy.Mindless
	}
	return taxonomy.Engaging
}
