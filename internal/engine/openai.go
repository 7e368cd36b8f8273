package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine drives an OpenAI-compatible server such as LM Studio.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for the server at baseURL
// (for LM Studio, "http://localhost:1234/v1"). Local servers ignore the
// API key, so an empty one is accepted.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

// Chat sends messages to the model. A non-nil jsonSchema requests a JSON
// object response; the schema itself is carried in the prompt.
func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for text using the specified model.
func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding: no data returned")
	}
	return resp.Data[0].Embedding, nil
}

// IsRunning reports whether the server answers GET /models.
func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// HasModel reports whether the server lists the named model.
func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range list.Models {
		if m.ID == name {
			return true
		}
	}
	return false
}
