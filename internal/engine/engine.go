// Package engine talks to local inference backends: Ollama over its native
// HTTP API and LM Studio (or any OpenAI-compatible server) through go-openai.
package engine

import "context"

// Engine abstracts a local inference backend. Concept extraction and delta
// embedding use this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the named model is available locally.
	HasModel(ctx context.Context, name string) bool
}

// Puller is implemented by backends that can download missing models.
type Puller interface {
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
