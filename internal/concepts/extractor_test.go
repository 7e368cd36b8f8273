package concepts

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/engine"
)

type mockChatter struct {
	response string
	err      error
	calls    int
	model    string
	schema   *engine.Schema
}

func (m *mockChatter) Chat(_ context.Context, model string, _ []engine.Message, jsonSchema *engine.Schema) (string, error) {
	m.calls++
	m.model = model
	m.schema = jsonSchema
	return m.response, m.err
}

func TestExtract_ConceptsAndRelations(t *testing.T) {
	mock := &mockChatter{
		response: `{"concepts":["Neo4j","graph database"],"relations":[["Neo4j","is a","graph database"]]}`,
	}
	got, err := NewExtractor(mock, "deepseek-r1_0528").Extract(context.Background(), "Neo4j is a graph database")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := chat.Extraction{
		Concepts:  []string{"Neo4j", "graph database"},
		Relations: []chat.Relation{{"Neo4j", "is a", "graph database"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Extract() = %+v, want %+v", got, want)
	}
	if mock.model != "deepseek-r1_0528" {
		t.Errorf("model = %q, want deepseek-r1_0528", mock.model)
	}
	if mock.schema == nil || len(mock.schema.Required) != 2 {
		t.Error("expected structured output schema with two required keys")
	}
}

func TestExtract_ReasoningAndFence(t *testing.T) {
	mock := &mockChatter{
		response: "<think>the user mentions Go\nand {braces}</think>\nHere you go:\n```json\n{\"concepts\":[\"Go\"],\"relations\":[]}\n```",
	}
	got, err := NewExtractor(mock, "m").Extract(context.Background(), "I like Go")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Concepts) != 1 || got.Concepts[0] != "Go" {
		t.Errorf("concepts = %v, want [Go]", got.Concepts)
	}
}

func TestExtract_MalformedDegrades(t *testing.T) {
	mock := &mockChatter{response: "I could not find anything"}
	got, err := NewExtractor(mock, "m").Extract(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Concepts == nil || len(got.Concepts) != 0 || got.Relations == nil || len(got.Relations) != 0 {
		t.Errorf("got %+v, want empty non-nil extraction", got)
	}
}

func TestExtract_BackendErrorIsReturned(t *testing.T) {
	mock := &mockChatter{err: errors.New("connection refused")}
	_, err := NewExtractor(mock, "m").Extract(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want wrapped backend error", err)
	}
}

func TestExtract_BlankTextSkipsModel(t *testing.T) {
	mock := &mockChatter{}
	got, err := NewExtractor(mock, "m").Extract(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if mock.calls != 0 {
		t.Errorf("model called %d times for blank text, want 0", mock.calls)
	}
	if got.Concepts == nil {
		t.Error("want empty non-nil concepts")
	}
}

func TestUnwrap(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                        `{"a":1}`,
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"<think>x</think>{\"a\":1}":      `{"a":1}`,
		"Sure! {\"a\":{\"b\":2}} Thanks.": `{"a":{"b":2}}`,
		"nothing here":                   "nothing here",
	}
	for in, want := range cases {
		if got := Unwrap(in); got != want {
			t.Errorf("Unwrap(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildPrompt(t *testing.T) {
	msgs := BuildPrompt("Go and Rust")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "relations") {
		t.Errorf("system message = %+v", msgs[0])
	}
	if msgs[1].Role != "user" || !strings.HasSuffix(msgs[1].Content, "Go and Rust") {
		t.Errorf("user message = %+v", msgs[1])
	}
}
