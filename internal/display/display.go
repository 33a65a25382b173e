// Package display folds the internal taxonomy into the reduced display
// taxonomy and converts fractions into exact millisecond amounts.
package display

import (
	"math"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

type topicShare struct {
	to     taxonomy.DisplayTopic
	weight float64
}

type emotionShare struct {
	to     taxonomy.DisplayEmotion
	weight float64
}

// topicFold maps each internal topic onto display topics.
var topicFold = map[taxonomy.Topic][]topicShare{
	taxonomy.Educational:       {{taxonomy.DisplayEducational, 1}},
	taxonomy.Entertainment:     {{taxonomy.DisplayEntertainment, 1}},
	taxonomy.Social:            {{taxonomy.DisplaySocial, 1}},
	taxonomy.Informative:       {{taxonomy.DisplayInformative, 1}},
	taxonomy.CreativeArts:      {{taxonomy.DisplayEntertainment, 1}},
	taxonomy.HealthWellness:    {{taxonomy.DisplaySocial, 1}},
	taxonomy.NewsCurrentEvents: {{taxonomy.DisplayInformative, 1}},
	taxonomy.Inspiration:       {{taxonomy.DisplayInformative, 1}},
	taxonomy.ShoppingCommerce:  {{taxonomy.DisplayEntertainment, 0.7}, {taxonomy.DisplayInformative, 0.3}},
}

// emotionFold maps each internal emotion onto display emotions.
var emotionFold = map[taxonomy.Emotion][]emotionShare{
	taxonomy.Positive: {{taxonomy.Light, 1}},
	taxonomy.Neutral:  {{taxonomy.NeutralTone, 1}},
	taxonomy.Negative: {{taxonomy.Heavy, 1}},
	taxonomy.Mixed:    {{taxonomy.Heavy, 0.5}, {taxonomy.NeutralTone, 0.5}},
}

// Breakdown is a session's contribution in display categories.
type Breakdown struct {
	TopicMs           map[taxonomy.DisplayTopic]int64                             `json:"topicMs"`
	EmotionMs         map[taxonomy.DisplayEmotion]int64                           `json:"emotionMs"`
	PerTopicEmotionMs map[taxonomy.DisplayTopic]map[taxonomy.DisplayEmotion]int64 `json:"perTopicEmotionMs"`
}

// Topics folds internal topic fractions into display fractions that sum to 1.
func Topics(topics map[taxonomy.Topic]float64) map[taxonomy.DisplayTopic]float64 {
	out := make(map[taxonomy.DisplayTopic]float64, len(taxonomy.DisplayTopics))
	for topic, v := range topics {
		for _, s := range topicFold[topic] {
			out[s.to] += v * s.weight
		}
	}
	return analysis.Normalize(out, taxonomy.DisplayTopics)
}

// Emotions folds internal emotion fractions into display fractions that sum to 1.
func Emotions(emotions map[taxonomy.Emotion]float64) map[taxonomy.DisplayEmotion]float64 {
	out := make(map[taxonomy.DisplayEmotion]float64, len(taxonomy.DisplayEmotions))
	for emotion, v := range emotions {
		for _, s := range emotionFold[emotion] {
			out[s.to] += v * s.weight
		}
	}
	return analysis.Normalize(out, taxonomy.DisplayEmotions)
}

// ToDisplay converts r into display-category milliseconds for a session that
// lasted durationMs. Topic and emotion amounts each sum to durationMs, and
// every matrix row sums to its topic's amount.
func ToDisplay(r analysis.Result, durationMs int64) Breakdown {
	if durationMs < 0 {
		durationMs = 0
	}
	topics := Topics(r.Topics)
	emotions := Emotions(r.Emotions)

	b := Breakdown{
		TopicMs:           SplitMs(topics, taxonomy.DisplayTopics, durationMs),
		EmotionMs:         SplitMs(emotions, taxonomy.DisplayEmotions, durationMs),
		PerTopicEmotionMs: make(map[taxonomy.DisplayTopic]map[taxonomy.DisplayEmotion]int64, len(taxonomy.DisplayTopics)),
	}
	for _, t := range taxonomy.DisplayTopics {
		b.PerTopicEmotionMs[t] = SplitMs(emotions, taxonomy.DisplayEmotions, b.TopicMs[t])
	}
	return b
}

// SplitMs distributes total across keys by fraction. Categories are visited
// in key order; each gets its rounded share capped at what is left, and the
// last absorbs the remainder, so the amounts are non-negative and sum to total.
func SplitMs[K comparable](fractions map[K]float64, keys []K, total int64) map[K]int64 {
	out := make(map[K]int64, len(keys))
	if len(keys) == 0 {
		return out
	}
	var used int64
	for i, k := range keys {
		left := total - used
		if i == len(keys)-1 {
			out[k] = left
			break
		}
		share := int64(math.Round(fractions[k] * float64(total)))
		share = max(0, min(share, left))
		out[k] = share
		used += share
	}
	return out
}
