package web

import (
	"fmt"
	"strings"

	"github.com/hpungsan/feedlens/internal/session"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// reportCaptionChars bounds each caption in the per-item table.
const reportCaptionChars = 80

// SessionReport renders rec as markdown: a summary, the display breakdown,
// the internal distributions, and one table row per analyzed item.
func SessionReport(rec *session.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Session %s\n\n", rec.SessionID)
	fmt.Fprintf(&b, "- **Started:** %s\n", formatTime(rec.StartedAt))
	fmt.Fprintf(&b, "- **Duration:** %s\n", formatDuration(rec.DurationMs))
	fmt.Fprintf(&b, "- **Platforms:** %s\n", strings.Join(rec.PlatformsUsed, ", "))
	fmt.Fprintf(&b, "- **Items:** %d observed, %d analyzed\n", rec.ItemsObserved, rec.ItemsAnalyzed)
	fmt.Fprintf(&b, "- **Analysis:** %s\n\n", rec.AnalysisMethod)

	b.WriteString("### Time by topic\n\n| Topic | Time | Share |\n|---|---|---|\n")
	for _, t := range taxonomy.DisplayTopics {
		ms := rec.Display.TopicMs[t]
		fmt.Fprintf(&b, "| %s | %s | %s |\n", t, formatDuration(ms), pct(ms, rec.DurationMs))
	}

	b.WriteString("\n### Time by tone\n\n| Tone | Time | Share |\n|---|---|---|\n")
	for _, e := range taxonomy.DisplayEmotions {
		ms := rec.Display.EmotionMs[e]
		fmt.Fprintf(&b, "| %s | %s | %s |\n", e, formatDuration(ms), pct(ms, rec.DurationMs))
	}

	b.WriteString("\n### Detailed distribution\n\n")
	for _, t := range taxonomy.Topics {
		if f := rec.Topics[t]; f > 0 {
			fmt.Fprintf(&b, "- %s: %.1f%%\n", t, f*100)
		}
	}
	for _, e := range taxonomy.Engagements {
		if f := rec.Engagement[e]; f > 0 {
			fmt.Fprintf(&b, "- %s viewing: %.1f%%\n", e, f*100)
		}
	}

	if len(rec.PerItem) > 0 {
		captions := captionsByKey(rec)
		b.WriteString("\n### Items\n\n| # | Topic | Tone | Caption |\n|---|---|---|---|\n")
		for i, l := range rec.PerItem {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", i+1, l.Topic, l.Emotion, tableCell(captions[l.Key]))
		}
	}
	return b.String()
}

func captionsByKey(rec *session.Record) map[string]string {
	out := make(map[string]string)
	for _, items := range rec.RawItems {
		for _, o := range items {
			out[o.Key] = o.Caption
		}
	}
	return out
}

func pct(ms, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(ms)*100/float64(total))
}

// tableCell makes s safe inside a markdown table cell.
func tableCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > reportCaptionChars {
		s = string(r[:reportCaptionChars]) + "…"
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	if s == "" {
		return "-"
	}
	return s
}
