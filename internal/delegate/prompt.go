package delegate

import (
	"fmt"
	"strings"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

const schemaName = "FeedClassification"

// imagePlaceholder stands in for an image whose description failed.
const imagePlaceholder = "[image description unavailable]"

var classifyPrompt = buildClassifyPrompt()

func buildClassifyPrompt() string {
	topics := make([]string, len(taxonomy.Topics))
	for i, t := range taxonomy.Topics {
		topics[i] = string(t)
	}
	emotions := make([]string, len(taxonomy.Emotions))
	for i, e := range taxonomy.Emotions {
		emotions[i] = string(e)
	}

	return fmt.Sprintf(`You classify social media feed items a person viewed.

For every item, in the order given, choose exactly one topic and one emotion.
Topics: %s.
Emotions: %s.

Also give an aggregate distribution over topics and over emotions, weighted by
each item's view time. Each distribution's values must sum to 1.

Respond with JSON only:
{"items":[{"topic":"...","emotion":"..."}],"aggregate":{"topics":{"<topic>":0.0},"emotions":{"<emotion>":0.0}}}`,
		strings.Join(topics, ", "), strings.Join(emotions, ", "))
}

const describePrompt = `Describe this image from a social media feed in one or two plain sentences.
Mention the subject and any visible text. Do not speculate.`

// itemLine renders one item header for the classification request.
func itemLine(i int, it analysis.Item) string {
	platform := it.Platform
	if platform == "" {
		platform = "feed"
	}
	caption := strings.TrimSpace(it.Caption)
	if caption == "" {
		caption = "(no caption)"
	}
	return fmt.Sprintf("Item %d [%s, viewed %.1fs]: %s", i+1, platform, float64(it.DwellMs)/1000, caption)
}

// textParts renders a caption-only request, appending stage-one image
// descriptions when present.
func textParts(items []analysis.Item, descriptions []string) []Part {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify these %d items.\n", len(items))
	for i, it := range items {
		b.WriteString(itemLine(i, it))
		b.WriteByte('\n')
		if i < len(descriptions) && descriptions[i] != "" {
			fmt.Fprintf(&b, "  Image: %s\n", descriptions[i])
		}
	}
	return []Part{{Text: b.String()}}
}

// multimodalParts interleaves each item's text with its image.
func multimodalParts(items []analysis.Item) []Part {
	parts := []Part{{Text: fmt.Sprintf("Classify these %d items. Images follow the item they belong to.", len(items))}}
	for i, it := range items {
		parts = append(parts, Part{Text: itemLine(i, it)})
		if it.HasImage() {
			parts = append(parts, Part{ImageURL: it.Image.URL})
		}
	}
	return parts
}

// truncateRunes cuts s to at most n runes. n <= 0 means no limit.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
