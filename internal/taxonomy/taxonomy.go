// Package taxonomy defines the closed category sets used to classify feed content.
//
// The internal taxonomy (9 topics, 4 emotions) is what classifiers produce. The
// display taxonomy (4 topics, 3 emotions) is what daily statistics and
// downstream consumers see.
package taxonomy

import "strings"

// Topic is an internal content topic.
type Topic string

const (
	Educational       Topic = "Educational"
	Entertainment     Topic = "Entertainment"
	Social            Topic = "Social"
	Informative       Topic = "Informative"
	CreativeArts      Topic = "Creative Arts"
	HealthWellness    Topic = "Health & Wellness"
	NewsCurrentEvents Topic = "News & Current Events"
	Inspiration       Topic = "Inspiration"
	ShoppingCommerce  Topic = "Shopping & Commerce"
)

// Topics lists every internal topic in canonical order.
var Topics = []Topic{
	Educational, Entertainment, Social, Informative, CreativeArts,
	HealthWellness, NewsCurrentEvents, Inspiration, ShoppingCommerce,
}

// Emotion is an internal emotional tone.
type Emotion string

const (
	Positive Emotion = "Positive"
	Neutral  Emotion = "Neutral"
	Negative Emotion = "Negative"
	Mixed    Emotion = "Mixed"
)

// Emotions lists every internal emotion in canonical order.
var Emotions = []Emotion{Positive, Neutral, Negative, Mixed}

// Engagement describes how attentively an item was consumed.
type Engagement string

const (
	Mindful  Engagement = "Mindful"
	Mindless Engagement = "Mindless"
	Engaging Engagement = "Engaging"
)

// Engagements lists every engagement level in canonical order.
var Engagements = []Engagement{Mindful, Mindless, Engaging}

// DisplayTopic is a topic in the reduced display taxonomy.
type DisplayTopic string

const (
	DisplayEducational   DisplayTopic = "Educational"
	DisplayEntertainment DisplayTopic = "Entertainment"
	DisplaySocial        DisplayTopic = "Social"
	DisplayInformative   DisplayTopic = "Informative"
)

// DisplayTopics lists the display topics in canonical order.
var DisplayTopics = []DisplayTopic{DisplayEducational, DisplayEntertainment, DisplaySocial, DisplayInformative}

// DisplayEmotion is an emotion in the reduced display taxonomy.
type DisplayEmotion string

const (
	Light       DisplayEmotion = "Light"
	NeutralTone DisplayEmotion = "Neutral"
	Heavy       DisplayEmotion = "Heavy"
)

// DisplayEmotions lists the display emotions in canonical order.
var DisplayEmotions = []DisplayEmotion{Light, NeutralTone, Heavy}

// ParseTopic maps free-form model output onto an internal topic.
// Matching ignores case, surrounding whitespace, and "and" vs "&".
func ParseTopic(s string) (Topic, bool) {
	key := foldLabel(s)
	for _, t := range Topics {
		if foldLabel(string(t)) == key {
			return t, true
		}
	}
	if t, ok := topicAliases[key]; ok {
		return t, true
	}
	return "", false
}

// ParseEmotion maps free-form model output onto an internal emotion.
func ParseEmotion(s string) (Emotion, bool) {
	key := foldLabel(s)
	for _, e := range Emotions {
		if foldLabel(string(e)) == key {
			return e, true
		}
	}
	if e, ok := emotionAliases[key]; ok {
		return e, true
	}
	return "", false
}

var topicAliases = map[string]Topic{
	"education":         Educational,
	"entertaining":      Entertainment,
	"informational":     Informative,
	"creative":          CreativeArts,
	"arts":              CreativeArts,
	"health":            HealthWellness,
	"wellness":          HealthWellness,
	"news":              NewsCurrentEvents,
	"current events":    NewsCurrentEvents,
	"inspirational":     Inspiration,
	"shopping":          ShoppingCommerce,
	"commerce":          ShoppingCommerce,
	"shopping/commerce": ShoppingCommerce,
}

var emotionAliases = map[string]Emotion{
	"happy":      Positive,
	"uplifting":  Positive,
	"sad":        Negative,
	"neutrality": Neutral,
	"ambivalent": Mixed,
}

func foldLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " and ", " & ")
	return strings.Join(strings.Fields(s), " ")
}
