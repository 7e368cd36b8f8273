// Package concepts asks a local model for the concepts and relations in a
// piece of text. It backs the hidden extract-concepts command, which is the
// process the import pipeline spawns once per message.
package concepts

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/engine"
	"github.com/kalambet/chatreader/internal/extract"
)

// Chatter is the subset of engine.Engine the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor runs one chat completion per text.
type Extractor struct {
	client Chatter
	model  string
}

// NewExtractor creates an Extractor using the given backend and model name.
func NewExtractor(client Chatter, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// Extract returns the concepts and relations found in text. Backend failures
// are returned as errors. Model output that is not the expected JSON object
// yields an empty extraction.
func (e *Extractor) Extract(ctx context.Context, text string) (chat.Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Empty(), nil
	}

	raw, err := e.client.Chat(ctx, e.model, BuildPrompt(text), Schema())
	if err != nil {
		return chat.Extraction{}, fmt.Errorf("chat with %s: %w", e.model, err)
	}

	out, ok := extract.Parse([]byte(Unwrap(raw)))
	if !ok {
		slog.Debug("model output is not a concepts object", "model", e.model, "response", raw)
		return chat.Empty(), nil
	}
	return out, nil
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	fenced     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// Unwrap strips reasoning blocks and a markdown code fence from model
// output, and trims any prose around the outermost JSON object.
func Unwrap(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if m := fenced.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
