package delegate

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// modelResponse is the loose shape decoded from model output. Aggregate maps
// accept any key so the labels can be folded through taxonomy parsing.
type modelResponse struct {
	Items     []modelItem    `json:"items"`
	Aggregate modelAggregate `json:"aggregate"`
}

type modelItem struct {
	Topic   string `json:"topic"`
	Emotion string `json:"emotion"`
}

type modelAggregate struct {
	Topics   map[string]float64 `json:"topics"`
	Emotions map[string]float64 `json:"emotions"`
}

var errUnparseable = errors.New("model output is not a classification")

// extractor yields candidate JSON documents from raw model text.
type extractor struct {
	name    string
	extract func(text string) []string
}

// extractors are tried in order; the first candidate that decodes wins.
var extractors = []extractor{
	{name: "strict", extract: func(text string) []string { return []string{text} }},
	{name: "fenced", extract: fencedBlocks},
	{name: "braced", extract: balancedObjects},
	{name: "targeted", extract: targetedKeys},
}

// parseResponse decodes model output, tolerating prose around the JSON.
func parseResponse(text string) (*modelResponse, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", errUnparseable
	}
	for _, ex := range extractors {
		for _, candidate := range ex.extract(text) {
			if resp, ok := decodeCandidate(candidate); ok {
				return resp, ex.name, nil
			}
		}
	}
	return nil, "", errUnparseable
}

func decodeCandidate(candidate string) (*modelResponse, bool) {
	var resp modelResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(candidate)), &resp); err != nil {
		return nil, false
	}
	if len(resp.Items) == 0 {
		return nil, false
	}
	return &resp, true
}

// fenceBlockPattern captures the body of ``` or ~~~ fenced blocks, with an
// optional info string such as json.
var fenceBlockPattern = regexp.MustCompile("(?s)(?:```|~~~)[A-Za-z0-9_-]*[ \\t]*\\n?(.*?)(?:```|~~~)")

func fencedBlocks(text string) []string {
	var out []string
	for _, m := range fenceBlockPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// maxBraceCandidates bounds the number of '{' start positions scanned.
const maxBraceCandidates = 32

// balancedObjects returns every balanced {...} span, outermost first.
func balancedObjects(text string) []string {
	var out []string
	tried := 0
	for i := 0; i < len(text) && tried < maxBraceCandidates; i++ {
		if text[i] != '{' {
			continue
		}
		tried++
		if end := matchBalanced(text, i, '{', '}'); end > i {
			out = append(out, text[i:end+1])
		}
	}
	return out
}

// matchBalanced returns the index of the delimiter closing the one at start,
// skipping delimiters inside JSON strings. Returns -1 when unbalanced.
func matchBalanced(text string, start int, open, close byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var (
	itemsKeyPattern     = regexp.MustCompile(`"items"\s*:\s*\[`)
	aggregateKeyPattern = regexp.MustCompile(`"aggregate"\s*:\s*\{`)
)

// targetedKeys rebuilds a document from the "items" array and "aggregate"
// object when the surrounding structure is broken.
func targetedKeys(text string) []string {
	loc := itemsKeyPattern.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	open := loc[1] - 1
	end := matchBalanced(text, open, '[', ']')
	if end < 0 {
		return nil
	}
	doc := `{"items":` + text[open:end+1]

	if agg := aggregateKeyPattern.FindStringIndex(text); agg != nil {
		aggOpen := agg[1] - 1
		if aggEnd := matchBalanced(text, aggOpen, '{', '}'); aggEnd > 0 {
			doc += `,"aggregate":` + text[aggOpen:aggEnd+1]
		}
	}
	return []string{doc + "}"}
}
