package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/feedlens/internal/taxonomy"
)

const tolerance = 1e-9

func result(dwell int64, items int, topics map[taxonomy.Topic]float64, emotions map[taxonomy.Emotion]float64, labels ...Label) Result {
	return Result{
		Topics:        Normalize(topics, taxonomy.Topics),
		Emotions:      Normalize(emotions, taxonomy.Emotions),
		Engagement:    Normalize(map[taxonomy.Engagement]float64{taxonomy.Engaging: 1}, taxonomy.Engagements),
		TotalDwellMs:  dwell,
		ItemsAnalyzed: items,
		PerItem:       labels,
		Method:        MethodHeuristic,
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(map[taxonomy.Topic]float64{taxonomy.Social: 3, taxonomy.Educational: 1}, taxonomy.Topics)

	require.Len(t, got, len(taxonomy.Topics))
	require.InDelta(t, 0.75, got[taxonomy.Social], tolerance)
	require.InDelta(t, 0.25, got[taxonomy.Educational], tolerance)
	require.InDelta(t, 0, got[taxonomy.Inspiration], tolerance)
	require.InDelta(t, 1, Sum(got), tolerance)
}

func TestNormalize_ZeroSumIsUniform(t *testing.T) {
	got := Normalize[taxonomy.Topic](nil, taxonomy.Topics)
	for _, topic := range taxonomy.Topics {
		require.InDelta(t, 1.0/9, got[topic], tolerance, "topic %s", topic)
	}

	display := Normalize(map[taxonomy.DisplayTopic]float64{}, taxonomy.DisplayTopics)
	for _, topic := range taxonomy.DisplayTopics {
		require.InDelta(t, 0.25, display[topic], tolerance)
	}
}

func TestNormalize_IgnoresNegativeAndUnknownKeys(t *testing.T) {
	got := Normalize(map[taxonomy.Emotion]float64{
		taxonomy.Positive: 2,
		taxonomy.Negative: -5,
		"Furious":         9,
	}, taxonomy.Emotions)

	require.InDelta(t, 1, got[taxonomy.Positive], tolerance)
	require.InDelta(t, 0, got[taxonomy.Negative], tolerance)
	_, ok := got["Furious"]
	require.False(t, ok)
}

func TestUniform(t *testing.T) {
	u := Uniform(MethodHeuristic)
	require.InDelta(t, 1, Sum(u.Topics), tolerance)
	require.InDelta(t, 0.25, u.Emotions[taxonomy.Mixed], tolerance)
	require.InDelta(t, 1.0/3, u.Engagement[taxonomy.Mindful], tolerance)
	require.NotNil(t, u.PerItem)
}

func TestMerge_WeightedByDwell(t *testing.T) {
	a := result(1000, 1, map[taxonomy.Topic]float64{taxonomy.Social: 1}, map[taxonomy.Emotion]float64{taxonomy.Positive: 1},
		Label{Key: "a", Topic: taxonomy.Social, Emotion: taxonomy.Positive})
	b := result(3000, 2, map[taxonomy.Topic]float64{taxonomy.Educational: 1}, map[taxonomy.Emotion]float64{taxonomy.Neutral: 1},
		Label{Key: "b", Topic: taxonomy.Educational, Emotion: taxonomy.Neutral})

	m := Merge(a, b)

	require.InDelta(t, 0.25, m.Topics[taxonomy.Social], tolerance)
	require.InDelta(t, 0.75, m.Topics[taxonomy.Educational], tolerance)
	require.InDelta(t, 0.25, m.Emotions[taxonomy.Positive], tolerance)
	require.Equal(t, int64(4000), m.TotalDwellMs)
	require.Equal(t, 3, m.ItemsAnalyzed)
	require.Equal(t, []string{"a", "b"}, []string{m.PerItem[0].Key, m.PerItem[1].Key})
}

func TestMerge_Associative(t *testing.T) {
	a := result(1200, 2, map[taxonomy.Topic]float64{taxonomy.Social: 0.6, taxonomy.Informative: 0.4}, map[taxonomy.Emotion]float64{taxonomy.Positive: 1})
	b := result(800, 1, map[taxonomy.Topic]float64{taxonomy.Entertainment: 1}, map[taxonomy.Emotion]float64{taxonomy.Negative: 0.5, taxonomy.Mixed: 0.5})
	c := result(5000, 4, map[taxonomy.Topic]float64{taxonomy.CreativeArts: 0.3, taxonomy.Social: 0.7}, map[taxonomy.Emotion]float64{taxonomy.Neutral: 1})

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	for _, topic := range taxonomy.Topics {
		require.InDelta(t, left.Topics[topic], right.Topics[topic], 1e-9, "topic %s", topic)
	}
	for _, emotion := range taxonomy.Emotions {
		require.InDelta(t, left.Emotions[emotion], right.Emotions[emotion], 1e-9, "emotion %s", emotion)
	}
	require.Equal(t, left.TotalDwellMs, right.TotalDwellMs)
}

func TestMerge_Commutative(t *testing.T) {
	a := result(700, 1, map[taxonomy.Topic]float64{taxonomy.Social: 1}, nil)
	b := result(300, 1, map[taxonomy.Topic]float64{taxonomy.Inspiration: 1}, nil)

	ab := Merge(a, b)
	ba := Merge(b, a)
	for _, topic := range taxonomy.Topics {
		require.InDelta(t, ab.Topics[topic], ba.Topics[topic], tolerance)
	}
	require.Equal(t, ab.Method, ba.Method)
}

func TestMerge_ZeroDwellFallsBackToItemCounts(t *testing.T) {
	a := result(0, 1, map[taxonomy.Topic]float64{taxonomy.Social: 1}, nil)
	b := result(0, 3, map[taxonomy.Topic]float64{taxonomy.Educational: 1}, nil)

	m := Merge(a, b)
	require.InDelta(t, 0.25, m.Topics[taxonomy.Social], tolerance)
	require.InDelta(t, 0.75, m.Topics[taxonomy.Educational], tolerance)
	require.False(t, math.IsNaN(m.Topics[taxonomy.Social]))
}

func TestMerge_NothingToWeigh(t *testing.T) {
	m := Merge(Result{}, Result{})
	require.InDelta(t, 1, Sum(m.Topics), tolerance)
	require.InDelta(t, 1.0/9, m.Topics[taxonomy.Social], tolerance)
}

func TestMergeMethod(t *testing.T) {
	require.Equal(t, "heuristic", mergeMethod("heuristic", "heuristic"))
	require.Equal(t, "heuristic+openai/gpt-4o", mergeMethod("openai/gpt-4o", "heuristic"))
	require.Equal(t, "heuristic+openai/gpt-4o", mergeMethod("heuristic+openai/gpt-4o", "openai/gpt-4o"))
	require.Equal(t, "local/llama", mergeMethod("", "local/llama"))
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator()
	_, ok := acc.Result()
	require.False(t, ok)

	acc.Add([]string{"a", "b"}, result(1000, 2, map[taxonomy.Topic]float64{taxonomy.Social: 1}, nil))
	acc.Add([]string{"c"}, result(1000, 1, map[taxonomy.Topic]float64{taxonomy.Informative: 1}, nil))

	require.True(t, acc.Contains("a"))
	require.True(t, acc.Contains("c"))
	require.False(t, acc.Contains("d"))
	require.Equal(t, 3, acc.Len())

	got, ok := acc.Result()
	require.True(t, ok)
	require.InDelta(t, 0.5, got.Topics[taxonomy.Social], tolerance)
	require.InDelta(t, 0.5, got.Topics[taxonomy.Informative], tolerance)
	require.Equal(t, 3, got.ItemsAnalyzed)
}

func TestAccumulator_FirstAddDoesNotAlias(t *testing.T) {
	labels := []Label{{Key: "a", Topic: taxonomy.Social, Emotion: taxonomy.Neutral}}
	r := result(10, 1, nil, nil, labels...)

	acc := NewAccumulator()
	acc.Add([]string{"a"}, r)
	labels[0].Topic = taxonomy.Educational

	got, _ := acc.Result()
	require.Equal(t, taxonomy.Social, got.PerItem[0].Topic)
}

func TestItemHelpers(t *testing.T) {
	items := []Item{
		{Key: "a", DwellMs: 100},
		{Key: "b", DwellMs: -5},
		{Key: "c", DwellMs: 50, Image: &Image{URL: "https://cdn/x.jpg"}},
	}
	require.Equal(t, int64(150), TotalDwell(items))
	require.Equal(t, []string{"a", "b", "c"}, Keys(items))
	require.False(t, items[0].HasImage())
	require.True(t, items[2].HasImage())
	require.False(t, Item{Image: &Image{}}.HasImage())
}
