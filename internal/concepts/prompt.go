package concepts

import (
	"github.com/kalambet/chatreader/internal/engine"
)

const systemPrompt = `You are an information extraction agent. Given the user's text, identify the main concepts as a list of strings and any directed relationships between them as triples [source, relation, target]. Your output must be ONLY a single valid JSON object with the keys "concepts" and "relations". Do not include any other text, prose, or markdown.

Rules:
- Concepts are short noun phrases (people, projects, technologies, ideas).
- Every relation has exactly three strings: source concept, relation verb, target concept.
- Use an empty list when nothing applies.`

// BuildPrompt constructs the chat messages for extracting concepts from text.
func BuildPrompt(text string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Text:\n" + text},
	}
}

// Schema is the structured output format requested from the model.
func Schema() *engine.Schema {
	str := &engine.SchemaProperty{Type: "string"}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"concepts": {Type: "array", Description: "Main concepts in the text", Items: str},
			"relations": {
				Type:        "array",
				Description: "Directed [source, relation, target] triples",
				Items:       &engine.SchemaProperty{Type: "array", Items: str},
			},
		},
		Required: []string{"concepts", "relations"},
	}
}
