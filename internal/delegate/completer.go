package delegate

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Part is one piece of user content: either text or an image reference.
type Part struct {
	Text     string
	ImageURL string
}

// Request is a single chat request against a model endpoint.
type Request struct {
	Model  string
	System string
	Parts  []Part

	// Schema, when set, asks the endpoint for JSON constrained to it.
	Schema     map[string]any
	SchemaName string
}

// HasImages reports whether any part carries an image.
func (r Request) HasImages() bool {
	for _, p := range r.Parts {
		if p.ImageURL != "" {
			return true
		}
	}
	return false
}

// Text joins the text parts with newlines.
func (r Request) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// Completer sends one request and returns the model's text reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// OpenAICompleter talks to the hosted API or any OpenAI-compatible server
// through the chat completions endpoint.
type OpenAICompleter struct {
	client *openai.Client
}

// NewOpenAICompleter builds a completer. An empty baseURL uses the client
// default. Transport retries are disabled; the delegate owns failure policy.
func NewOpenAICompleter(apiKey, baseURL string) *OpenAICompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	client := openai.NewClient(opts...)
	return &OpenAICompleter{client: &client}
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	if c.client == nil {
		return "", errors.New("openai completer: client is nil")
	}
	if req.Model == "" {
		return "", errors.New("openai completer: model is empty")
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	if req.HasImages() {
		parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(req.Parts))
		for _, p := range req.Parts {
			if p.ImageURL != "" {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL}))
				continue
			}
			parts = append(parts, openai.TextContentPart(p.Text))
		}
		messages = append(messages, openai.UserMessage(parts))
	} else {
		// plain string content for servers that reject content arrays
		messages = append(messages, openai.UserMessage(req.Text()))
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.SchemaName,
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Feed content classification JSON"),
				},
			},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai completer: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
