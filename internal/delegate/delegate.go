// Package delegate classifies feed items with an external model (hosted or a
// local OpenAI-compatible server). Any failure falls back to the heuristic
// classifier for the whole item list, so callers always get a result.
package delegate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hpungsan/feedlens/internal/analysis"
	"github.com/hpungsan/feedlens/internal/classifier"
	"github.com/hpungsan/feedlens/internal/config"
	"github.com/hpungsan/feedlens/internal/metrics"
	"github.com/hpungsan/feedlens/internal/taxonomy"
)

// Backend identifies where requests go.
type Backend string

const (
	BackendCloud Backend = "cloud"
	BackendLocal Backend = "local"
)

// Fallback reasons reported to metrics.
const (
	reasonRequest   = "request"
	reasonParse     = "parse"
	reasonValidate  = "validate"
	reasonCancelled = "cancelled"
)

// Options tune a Delegate.
type Options struct {
	Backend     Backend
	Model       string
	VisionModel string

	// StructuredOutput requests schema-constrained JSON. Honored for the cloud
	// backend only.
	StructuredOutput bool

	Timeout       time.Duration
	VisionTimeout time.Duration

	// MaxItems caps items per request. MaxItemsVision replaces it when the
	// local backend receives a batch containing images.
	MaxItems       int
	MaxItemsVision int

	DescriptionMaxChars int
}

// OptionsFromConfig derives options for backend from cfg.
func OptionsFromConfig(cfg *config.Config, backend Backend) Options {
	opts := Options{
		Backend:             backend,
		Model:               cfg.Model,
		VisionModel:         cfg.EffectiveVisionModel(),
		StructuredOutput:    cfg.StructuredOutput,
		Timeout:             cfg.AITimeout(),
		VisionTimeout:       cfg.VisionTimeout(),
		MaxItems:            cfg.MaxItemsCloud,
		MaxItemsVision:      cfg.MaxItemsVision,
		DescriptionMaxChars: cfg.DescriptionMaxChars,
	}
	if backend == BackendLocal {
		opts.MaxItems = cfg.MaxItemsLocal
	}
	return opts
}

// Delegate is an analysis.Analyzer backed by a model endpoint.
type Delegate struct {
	completer Completer
	opts      Options
	metrics   *metrics.Metrics
}

// New creates a Delegate. m may be nil.
func New(c Completer, opts Options, m *metrics.Metrics) *Delegate {
	return &Delegate{completer: c, opts: opts, metrics: m}
}

// NewAnalyzer returns the analyzer selected by cfg's effective mode.
func NewAnalyzer(cfg *config.Config, m *metrics.Metrics) analysis.Analyzer {
	switch cfg.EffectiveMode() {
	case config.ModeCloudAI:
		return New(NewOpenAICompleter(cfg.Credential, cfg.CloudEndpoint), OptionsFromConfig(cfg, BackendCloud), m)
	case config.ModeLocalAI:
		return New(NewOpenAICompleter(cfg.Credential, cfg.LocalEndpoint), OptionsFromConfig(cfg, BackendLocal), m)
	default:
		return Heuristic{Metrics: m}
	}
}

// Heuristic is the analyzer used when no model backend is configured.
type Heuristic struct {
	Metrics *metrics.Metrics
}

// Analyze implements analysis.Analyzer.
func (h Heuristic) Analyze(_ context.Context, items []analysis.Item) analysis.Result {
	h.Metrics.AnalysisRun(analysis.MethodHeuristic)
	return classifier.Classify(items)
}

// Method returns the provenance tag for results from this delegate.
func (d *Delegate) Method() string {
	if d.opts.Backend == BackendLocal {
		return "local/" + d.opts.Model
	}
	return "openai/" + d.opts.Model
}

// Analyze implements analysis.Analyzer. Items beyond the request cap are left
// out of the result. Any failure returns the heuristic result for all items.
func (d *Delegate) Analyze(ctx context.Context, items []analysis.Item) analysis.Result {
	if len(items) == 0 {
		return d.fallback(items, nil, "")
	}

	batch := d.capItems(items)
	r, reason, err := d.classify(ctx, batch)
	if err != nil {
		return d.fallback(items, err, reason)
	}
	d.metrics.AnalysisRun(r.Method)
	return r
}

func (d *Delegate) fallback(items []analysis.Item, err error, reason string) analysis.Result {
	if err != nil {
		log.Printf("delegate: %s failed (%s), using heuristic for %d items: %v", d.Method(), reason, len(items), err)
		d.metrics.AIFallback(reason)
	}
	d.metrics.AnalysisRun(analysis.MethodHeuristic)
	return classifier.Classify(items)
}

// Cap returns the per-request item cap for items.
func (d *Delegate) Cap(items []analysis.Item) int {
	if d.opts.Backend == BackendLocal && anyImage(items) && d.opts.MaxItemsVision > 0 {
		return d.opts.MaxItemsVision
	}
	return d.opts.MaxItems
}

func (d *Delegate) capItems(items []analysis.Item) []analysis.Item {
	limit := d.Cap(items)
	if limit <= 0 || len(items) <= limit {
		return items
	}
	dropped := len(items) - limit
	log.Printf("delegate: request cap %d reached, %d items left out of AI analysis", limit, dropped)
	d.metrics.ItemsDropped(dropped)
	return items[:limit]
}

func (d *Delegate) classify(ctx context.Context, batch []analysis.Item) (analysis.Result, string, error) {
	var parts []Part
	switch {
	case anyImage(batch) && d.opts.Backend == BackendLocal:
		descriptions, err := d.describeImages(ctx, batch)
		if err != nil {
			return analysis.Result{}, reasonCancelled, err
		}
		parts = textParts(batch, descriptions)
	case anyImage(batch):
		parts = multimodalParts(batch)
	default:
		parts = textParts(batch, nil)
	}

	req := Request{Model: d.opts.Model, System: classifyPrompt, Parts: parts}
	if d.opts.StructuredOutput && d.opts.Backend == BackendCloud {
		req.Schema = responseSchema
		req.SchemaName = schemaName
	}

	text, err := d.complete(ctx, req, d.opts.Timeout)
	if err != nil {
		return analysis.Result{}, reasonRequest, err
	}
	resp, _, err := parseResponse(text)
	if err != nil {
		return analysis.Result{}, reasonParse, err
	}
	r, err := d.buildResult(batch, resp)
	if err != nil {
		return analysis.Result{}, reasonValidate, err
	}
	return r, "", nil
}

func (d *Delegate) complete(ctx context.Context, req Request, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return d.completer.Complete(ctx, req)
}

// describeImages runs stage one: one vision request per image. A failed
// description becomes a placeholder. Only cancellation of ctx aborts.
func (d *Delegate) describeImages(ctx context.Context, batch []analysis.Item) ([]string, error) {
	out := make([]string, len(batch))
	for i, it := range batch {
		if !it.HasImage() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := Request{
			Model:  d.opts.VisionModel,
			System: describePrompt,
			Parts:  []Part{{Text: "Describe the image."}, {ImageURL: it.Image.URL}},
		}
		desc, err := d.complete(ctx, req, d.opts.VisionTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("delegate: describe image for item %q failed: %v", it.Key, err)
			desc = imagePlaceholder
		}
		if desc == "" {
			desc = imagePlaceholder
		}
		out[i] = truncateRunes(desc, d.opts.DescriptionMaxChars)
	}
	return out, nil
}

// buildResult validates a parsed response against batch and normalizes it.
func (d *Delegate) buildResult(batch []analysis.Item, resp *modelResponse) (analysis.Result, error) {
	if len(resp.Items) < len(batch) {
		return analysis.Result{}, fmt.Errorf("model classified %d of %d items", len(resp.Items), len(batch))
	}

	labels := make([]analysis.Label, len(batch))
	for i, it := range batch {
		topic, ok := taxonomy.ParseTopic(resp.Items[i].Topic)
		if !ok {
			return analysis.Result{}, fmt.Errorf("item %d: unknown topic %q", i+1, resp.Items[i].Topic)
		}
		emotion, ok := taxonomy.ParseEmotion(resp.Items[i].Emotion)
		if !ok {
			return analysis.Result{}, fmt.Errorf("item %d: unknown emotion %q", i+1, resp.Items[i].Emotion)
		}
		labels[i] = analysis.Label{Key: it.Key, Topic: topic, Emotion: emotion}
	}

	topics := foldLabels(resp.Aggregate.Topics, taxonomy.ParseTopic)
	emotions := foldLabels(resp.Aggregate.Emotions, taxonomy.ParseEmotion)
	if analysis.Sum(topics) <= 0 || analysis.Sum(emotions) <= 0 {
		derivedTopics, derivedEmotions := fromLabels(batch, labels)
		if analysis.Sum(topics) <= 0 {
			topics = derivedTopics
		}
		if analysis.Sum(emotions) <= 0 {
			emotions = derivedEmotions
		}
	}

	return analysis.Result{
		Topics:        analysis.Normalize(topics, taxonomy.Topics),
		Emotions:      analysis.Normalize(emotions, taxonomy.Emotions),
		Engagement:    classifier.Classify(batch).Engagement,
		TotalDwellMs:  analysis.TotalDwell(batch),
		ItemsAnalyzed: len(batch),
		PerItem:       labels,
		Method:        d.Method(),
	}, nil
}

// foldLabels maps free-form category keys onto the taxonomy, dropping
// unknown keys and summing aliases.
func foldLabels[K comparable](raw map[string]float64, parse func(string) (K, bool)) map[K]float64 {
	out := make(map[K]float64)
	for label, v := range raw {
		if k, ok := parse(label); ok && v > 0 {
			out[k] += v
		}
	}
	return out
}

// fromLabels derives dwell-weighted distributions from per-item labels.
func fromLabels(batch []analysis.Item, labels []analysis.Label) (map[taxonomy.Topic]float64, map[taxonomy.Emotion]float64) {
	topics := make(map[taxonomy.Topic]float64)
	emotions := make(map[taxonomy.Emotion]float64)
	total := analysis.TotalDwell(batch)
	for i, l := range labels {
		w := 1.0
		if total > 0 {
			w = float64(max(batch[i].DwellMs, 0)) / float64(total)
		}
		topics[l.Topic] += w
		emotions[l.Emotion] += w
	}
	return topics, emotions
}

func anyImage(items []analysis.Item) bool {
	for _, it := range items {
		if it.HasImage() {
			return true
		}
	}
	return false
}
