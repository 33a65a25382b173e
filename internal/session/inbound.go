package session

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/errors"
)

// Field aliases accepted on inbound items, in precedence order.
var (
	keyFields     = []string{"key", "id", "itemId"}
	captionFields = []string{"captionText", "caption", "text"}
	dwellFields   = []string{"dwellMs", "dwell_ms", "dwellTime", "watchMs"}
	hrefFields    = []string{"href", "sourceUrl", "url"}
	imageFields   = []string{"imageRef", "image", "thumbnail"}
)

// flattenSeparator joins platform fields into one caption.
const flattenSeparator = " | "

// DecodeRawUpdate normalizes every supported raw-update shape into a
// RawUpdate. Accepted shapes:
//
//	{sessionId, platform, items, finalize, pageUrl, tabId}
//	{sessionId, posts | reels, finalize}                    (instagram only)
//	{sessionId, platforms: {<platform>: {items | posts, finalized, pageUrl}}}
//
// Each text field is capped at fieldMaxChars runes (0 means no cap).
func DecodeRawUpdate(data []byte, fieldMaxChars int) (*RawUpdate, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errors.NewInvalidRequest("raw update must be a JSON object")
	}

	u := &RawUpdate{SessionID: stringField(top, "sessionId", "session_id")}
	tabID := stringField(top, "tabId", "tab_id")

	switch {
	case has(top, "platforms"):
		var platforms map[string]map[string]json.RawMessage
		if err := json.Unmarshal(top["platforms"], &platforms); err != nil {
			return nil, errors.NewInvalidRequest("platforms must be an object of platform buffers")
		}
		for _, p := range sortedKeys(platforms) {
			body := platforms[p]
			snap, err := decodeSnapshot(p, body, fieldMaxChars, "items", "posts", "videos", "reels")
			if err != nil {
				return nil, err
			}
			snap.Finalize = boolField(body, "finalized", "finalize")
			if snap.TabID == "" {
				snap.TabID = tabID
			}
			u.Snapshots = append(u.Snapshots, *snap)
		}

	case has(top, "platform"):
		snap, err := decodeSnapshot(stringField(top, "platform"), top, fieldMaxChars, "items")
		if err != nil {
			return nil, err
		}
		u.Snapshots = append(u.Snapshots, *snap)

	case has(top, "posts") || has(top, "reels"):
		snap, err := decodeSnapshot(PlatformInstagram, top, fieldMaxChars, "posts", "reels")
		if err != nil {
			return nil, err
		}
		u.Snapshots = append(u.Snapshots, *snap)

	default:
		return nil, errors.NewInvalidRequest("raw update has no platform, platforms, posts, or reels")
	}

	return u, nil
}

// IncrementalRequest is a decoded INCREMENTAL_ANALYSIS message.
type IncrementalRequest struct {
	SessionID string
	Items     []analysis.Item
}

// DecodeIncremental normalizes an incremental analysis message:
//
//	{sessionId, platform?, items: [{key, captionText, dwellMs, platform?, ...}]}
//
// Items accept the same field aliases as raw updates. A per-item platform
// overrides the top-level one; YouTube items are flattened the same way.
func DecodeIncremental(data []byte, fieldMaxChars int) (*IncrementalRequest, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errors.NewInvalidRequest("incremental analysis must be a JSON object")
	}
	req := &IncrementalRequest{SessionID: stringField(top, "sessionId", "session_id")}
	if req.SessionID == "" {
		return nil, errors.NewInvalidRequest("sessionId is required")
	}

	var raw []map[string]json.RawMessage
	if v, ok := top["items"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &raw); err != nil {
			return nil, errors.NewInvalidRequest("items must be an array of objects")
		}
	}

	defPlatform := normalizePlatform(stringField(top, "platform"))
	obs := make([]Observation, 0, len(raw))
	platforms := make(map[string]string, len(raw))
	for _, m := range raw {
		p := normalizePlatform(stringField(m, "platform"))
		if p == "" {
			p = defPlatform
		}
		if o, ok := decodeObservation(p, m, fieldMaxChars); ok {
			obs = append(obs, o)
			platforms[o.Key] = p
		}
	}
	for _, o := range dedupe(obs) {
		req.Items = append(req.Items, o.item(platforms[o.Key]))
	}
	return req, nil
}

func decodeSnapshot(platform string, body map[string]json.RawMessage, fieldMaxChars int, listFields ...string) (*Snapshot, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if !ValidPlatform(platform) {
		return nil, errors.NewInvalidRequest("unknown platform: " + platform)
	}

	snap := &Snapshot{
		Platform: platform,
		Finalize: boolField(body, "finalize", "finalized"),
		PageURL:  stringField(body, "pageUrl", "page_url"),
		TabID:    stringField(body, "tabId", "tab_id"),
	}

	var raw []map[string]json.RawMessage
	for _, f := range listFields {
		v, ok := body[f]
		if !ok || isNull(v) {
			continue
		}
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, errors.NewInvalidRequest(f + " must be an array of objects")
		}
		raw = append(raw, list...)
	}

	items := make([]Observation, 0, len(raw))
	for _, m := range raw {
		if obs, ok := decodeObservation(platform, m, fieldMaxChars); ok {
			items = append(items, obs)
		}
	}
	snap.Items = dedupe(items)
	return snap, nil
}

func decodeObservation(platform string, m map[string]json.RawMessage, fieldMaxChars int) (Observation, bool) {
	obs := Observation{
		Key:     stringField(m, keyFields...),
		Href:    stringField(m, hrefFields...),
		DwellMs: intField(m, dwellFields...),
	}
	if obs.Key == "" {
		obs.Key = obs.Href
	}
	if obs.Key == "" {
		return Observation{}, false
	}
	if obs.DwellMs < 0 {
		obs.DwellMs = 0
	}
	if url := imageField(m, imageFields...); url != "" {
		obs.Image = &analysis.Image{URL: url}
	}

	caption := truncate(stringField(m, captionFields...), fieldMaxChars)
	if platform == PlatformYouTube {
		parts := []string{caption}
		for _, f := range []string{"title", "channel", "description", "transcript"} {
			parts = append(parts, truncate(stringField(m, f), fieldMaxChars))
		}
		caption = joinNonEmpty(parts, flattenSeparator)
	}
	obs.Caption = caption
	return obs, true
}

// dedupe keeps one observation per key: the last value, at the position of
// the first occurrence.
func dedupe(items []Observation) []Observation {
	index := make(map[string]int, len(items))
	out := make([]Observation, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.Key]; ok {
			out[i] = it
			continue
		}
		index[it.Key] = len(out)
		out = append(out, it)
	}
	return out
}

func has(m map[string]json.RawMessage, key string) bool {
	v, ok := m[key]
	return ok && !isNull(v)
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

func stringField(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || isNull(v) {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
			continue
		}
		// numeric ids
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
	}
	return ""
}

func intField(m map[string]json.RawMessage, keys ...string) int64 {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || isNull(v) {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			return int64(math.Round(f))
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return int64(math.Round(f))
			}
		}
	}
	return 0
}

func boolField(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || isNull(v) {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err == nil {
			return b
		}
	}
	return false
}

// imageField accepts a URL string or an object with a url or src field.
func imageField(m map[string]json.RawMessage, keys ...string) string {
	if s := stringField(m, keys...); s != "" {
		return s
	}
	for _, k := range keys {
		v, ok := m[k]
		if !ok || isNull(v) {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			if s := stringField(obj, "url", "src"); s != "" {
				return s
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
