package display

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

func sumMs[K comparable](m map[K]int64) int64 {
	var s int64
	for _, v := range m {
		s += v
	}
	return s
}

func TestTopics_Fold(t *testing.T) {
	got := Topics(map[taxonomy.Topic]float64{
		taxonomy.CreativeArts:     0.2,
		taxonomy.ShoppingCommerce: 0.5,
		taxonomy.HealthWellness:   0.1,
		taxonomy.Inspiration:      0.1,
		taxonomy.Educational:      0.1,
	})

	require.InDelta(t, 0.2+0.35, got[taxonomy.DisplayEntertainment], 1e-9)
	require.InDelta(t, 0.15+0.1, got[taxonomy.DisplayInformative], 1e-9)
	require.InDelta(t, 0.1, got[taxonomy.DisplaySocial], 1e-9)
	require.InDelta(t, 0.1, got[taxonomy.DisplayEducational], 1e-9)
	require.InDelta(t, 1, analysis.Sum(got), 1e-9)
}

func TestTopics_RenormalizesShortfall(t *testing.T) {
	// model omitted categories; raw sum is 0.5
	got := Topics(map[taxonomy.Topic]float64{taxonomy.Social: 0.25, taxonomy.Educational: 0.25})
	require.InDelta(t, 0.5, got[taxonomy.DisplaySocial], 1e-9)
	require.InDelta(t, 0.5, got[taxonomy.DisplayEducational], 1e-9)
}

func TestTopics_EmptyIsUniform(t *testing.T) {
	got := Topics(nil)
	for _, topic := range taxonomy.DisplayTopics {
		require.InDelta(t, 0.25, got[topic], 1e-9)
	}
}

func TestEmotions_Fold(t *testing.T) {
	got := Emotions(map[taxonomy.Emotion]float64{
		taxonomy.Positive: 0.4,
		taxonomy.Negative: 0.2,
		taxonomy.Mixed:    0.4,
	})
	require.InDelta(t, 0.4, got[taxonomy.Light], 1e-9)
	require.InDelta(t, 0.4, got[taxonomy.Heavy], 1e-9)
	require.InDelta(t, 0.2, got[taxonomy.NeutralTone], 1e-9)

	uniform := Emotions(map[taxonomy.Emotion]float64{})
	require.InDelta(t, 1.0/3, uniform[taxonomy.Light], 1e-9)
}

func TestSplitMs_SumsExactly(t *testing.T) {
	thirds := map[taxonomy.DisplayEmotion]float64{
		taxonomy.Light: 1.0 / 3, taxonomy.NeutralTone: 1.0 / 3, taxonomy.Heavy: 1.0 / 3,
	}
	for _, total := range []int64{0, 1, 2, 10, 100, 99_999, 1_234_567} {
		got := SplitMs(thirds, taxonomy.DisplayEmotions, total)
		require.Equal(t, total, sumMs(got), "total %d", total)
		for _, v := range got {
			require.GreaterOrEqual(t, v, int64(0))
		}
	}
}

func TestSplitMs_RoundingCappedByRemaining(t *testing.T) {
	// fractions summing slightly above 1 must not push the last share negative
	over := map[taxonomy.DisplayTopic]float64{
		taxonomy.DisplayEducational:   0.5,
		taxonomy.DisplayEntertainment: 0.6,
		taxonomy.DisplaySocial:        0,
		taxonomy.DisplayInformative:   0,
	}
	got := SplitMs(over, taxonomy.DisplayTopics, 10)
	require.Equal(t, int64(5), got[taxonomy.DisplayEducational])
	require.Equal(t, int64(5), got[taxonomy.DisplayEntertainment])
	require.Equal(t, int64(0), got[taxonomy.DisplayInformative])
	require.Equal(t, int64(10), sumMs(got))
}

func TestToDisplay(t *testing.T) {
	r := analysis.Result{
		Topics: map[taxonomy.Topic]float64{
			taxonomy.Social:            2.0 / 3,
			taxonomy.NewsCurrentEvents: 1.0 / 3,
		},
		Emotions: map[taxonomy.Emotion]float64{
			taxonomy.Positive: 2.0 / 3,
			taxonomy.Neutral:  1.0 / 3,
		},
	}

	b := ToDisplay(r, 30_001)

	require.Equal(t, int64(30_001), sumMs(b.TopicMs))
	require.Equal(t, int64(30_001), sumMs(b.EmotionMs))
	require.Equal(t, int64(20_001), b.TopicMs[taxonomy.DisplaySocial])
	require.Equal(t, int64(10_000), b.TopicMs[taxonomy.DisplayInformative])
	require.Equal(t, int64(20_001), b.EmotionMs[taxonomy.Light])

	var matrix int64
	for _, topic := range taxonomy.DisplayTopics {
		row := b.PerTopicEmotionMs[topic]
		require.Equal(t, b.TopicMs[topic], sumMs(row), "row %s", topic)
		matrix += sumMs(row)
	}
	require.Equal(t, int64(30_001), matrix)
	require.Equal(t, int64(0), b.PerTopicEmotionMs[taxonomy.DisplaySocial][taxonomy.Heavy])
}

func TestToDisplay_ZeroDuration(t *testing.T) {
	b := ToDisplay(analysis.Uniform(analysis.MethodHeuristic), 0)
	require.Zero(t, sumMs(b.TopicMs))
	require.Len(t, b.TopicMs, 4)
	require.Len(t, b.EmotionMs, 3)
	require.Len(t, b.PerTopicEmotionMs, 4)
}

func TestToDisplay_NegativeDurationClamped(t *testing.T) {
	b := ToDisplay(analysis.Uniform(analysis.MethodHeuristic), -5)
	require.Zero(t, sumMs(b.EmotionMs))
}
