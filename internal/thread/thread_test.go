package thread

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestThread_PreservesOrderAndFields(t *testing.T) {
	raws := []RawMessage{
		{ID: ptr("b"), Text: ptr("yo"), Timestamp: ptr[int64](200), Role: "assistant"},
		{ID: ptr("a"), Text: ptr("hi"), Timestamp: ptr[int64](100), Role: "user"},
	}
	msgs, err := Thread(raws)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Errorf("order = [%s %s], want input order [b a]", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Text != "yo" || msgs[0].Timestamp != 200 || msgs[0].Role != "assistant" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[0].Concepts != nil || msgs[0].Relations != nil {
		t.Error("threaded messages must not carry extraction results yet")
	}
}

func TestThread_EmptyValuesAreNotMissing(t *testing.T) {
	msgs, err := Thread([]RawMessage{{ID: ptr(""), Text: ptr(""), Timestamp: ptr[int64](0)}})
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestThread_MissingFields(t *testing.T) {
	cases := []struct {
		raw   RawMessage
		field string
	}{
		{RawMessage{Text: ptr("x"), Timestamp: ptr[int64](1)}, "id"},
		{RawMessage{ID: ptr("m2"), Timestamp: ptr[int64](1)}, "text"},
		{RawMessage{ID: ptr("m2"), Text: ptr("x")}, "timestamp"},
	}
	for _, tc := range cases {
		raws := []RawMessage{
			{ID: ptr("m1"), Text: ptr("ok"), Timestamp: ptr[int64](1)},
			tc.raw,
		}
		msgs, err := Thread(raws)
		var me *MalformedInputError
		if !errors.As(err, &me) {
			t.Fatalf("missing %s: err = %v, want *MalformedInputError", tc.field, err)
		}
		if me.Index != 1 || me.Field != tc.field {
			t.Errorf("missing %s: got index %d field %q", tc.field, me.Index, me.Field)
		}
		if msgs != nil {
			t.Errorf("missing %s: got partial output %v", tc.field, msgs)
		}
	}
}

func TestDecode_Raw(t *testing.T) {
	in := `[{"id":"a","text":"hi","timestamp":100,"role":"user"},{"id":"b","text":"<p>kept</p>","timestamp":200.7}]`
	raws, format, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != FormatRaw {
		t.Errorf("format = %s, want raw", format)
	}
	msgs, err := Thread(raws)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if msgs[1].Timestamp != 200 {
		t.Errorf("timestamp = %d, want truncated 200", msgs[1].Timestamp)
	}
	if msgs[1].Text != "<p>kept</p>" {
		t.Errorf("raw text = %q, want it untouched", msgs[1].Text)
	}
}

func TestDecode_RawMissingTimestampReachesThread(t *testing.T) {
	raws, _, err := Decode(strings.NewReader(`[{"id":"a","text":"hi"}]`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, err = Thread(raws)
	var me *MalformedInputError
	if !errors.As(err, &me) || me.Field != "timestamp" {
		t.Fatalf("err = %v, want missing timestamp", err)
	}
}

const openAIExport = `[{
  "title": "Graph talk",
  "conversation_id": "conv-1",
  "create_time": 1700000000.0,
  "mapping": {
    "root": {"message": null},
    "n2": {"message": {"id": "m2", "author": {"role": "assistant"}, "create_time": 1700000020.5,
            "content": {"content_type": "text", "parts": ["Neo4j <b>stores</b> graphs.<br>Try it."]}}},
    "n1": {"message": {"id": "m1", "author": {"role": "user"}, "create_time": 1700000010.0,
            "content": {"content_type": "text", "parts": ["What is Neo4j?", ""]}}},
    "n3": {"message": {"id": "m3", "author": {"role": "system"}, "create_time": 1700000005.0,
            "content": {"content_type": "text", "parts": ["hidden"]},
            "metadata": {"is_visually_hidden_from_conversation": true}}},
    "n4": {"message": {"author": {"role": "tool"}, "create_time": 1700000030.0,
            "content": {"content_type": "text", "parts": [{"type": "text", "text": "tool says hi"}, {"type": "image"}]}}},
    "n5": {"message": {"id": "m5", "author": {"role": "user"}, "create_time": 1700000040.0,
            "content": {"content_type": "text", "parts": ["   "]}}}
  }
}]`

func TestDecode_OpenAI(t *testing.T) {
	raws, format, err := Decode(strings.NewReader(openAIExport))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != FormatOpenAI {
		t.Fatalf("format = %s, want openai", format)
	}
	msgs, err := Thread(raws)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3 (null, hidden and blank dropped)", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("ids = %s, %s; want time order m1, m2", msgs[0].ID, msgs[1].ID)
	}
	if msgs[1].Timestamp != 1700000020 || msgs[1].Role != "assistant" {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}
	if msgs[1].Text != "Neo4j stores graphs.\nTry it." {
		t.Errorf("html not stripped: %q", msgs[1].Text)
	}
	if msgs[2].Role != "system" || msgs[2].Text != "tool says hi" {
		t.Errorf("tool message = %+v", msgs[2])
	}
	if msgs[2].ID == "" {
		t.Error("message without id must get a derived id")
	}

	again, _, _ := Decode(strings.NewReader(openAIExport))
	if *again[2].ID != msgs[2].ID {
		t.Error("derived ids must be stable across decodes")
	}
}

const anthropicExport = `[{
  "uuid": "c-1",
  "name": "Claude chat",
  "chat_messages": [
    {"uuid": "u2", "text": "Sure.\r\nHere:", "sender": "assistant", "created_at": "2024-05-01T10:00:05Z", "index": 1},
    {"uuid": "u1", "text": "Hello", "sender": "human", "created_at": "2024-05-01T10:00:00.123456Z", "index": 0},
    {"uuid": "u3", "text": "", "sender": "assistant", "created_at": "2024-05-01T10:00:09Z", "index": 2,
     "content": [{"type": "text", "text": "from content"}]},
    {"uuid": "u4", "text": "  ", "sender": "human", "index": 3}
  ]
}]`

func TestDecode_Anthropic(t *testing.T) {
	raws, format, err := Decode(strings.NewReader(anthropicExport))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != FormatAnthropic {
		t.Fatalf("format = %s, want anthropic", format)
	}
	msgs, err := Thread(raws)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].ID != "u1" || msgs[0].Role != "user" || msgs[0].Timestamp != 1714557600 {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Text != "Sure.\nHere:" {
		t.Errorf("line endings not normalized: %q", msgs[1].Text)
	}
	if msgs[2].Text != "from content" {
		t.Errorf("content fallback = %q", msgs[2].Text)
	}
}

func TestDecode_SingleConversationObject(t *testing.T) {
	in := strings.TrimSuffix(strings.TrimPrefix(anthropicExport, "["), "]")
	raws, format, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != FormatAnthropic || len(raws) != 3 {
		t.Errorf("format %s with %d records, want anthropic with 3", format, len(raws))
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{
		"", "not json", `"string"`, `[1, 2]`,
		`[{"id":"a","text":"hi","timestamp":1}, null]`,
		`[{"mapping":{}}, 5]`,
		`[{"id":5,"text":"hi","timestamp":1}]`,
		`[{"mapping":[]}]`,
		`[{"chat_messages":"x"}]`,
	} {
		if _, _, err := Decode(strings.NewReader(in)); err == nil {
			t.Errorf("Decode(%q) = nil error, want failure", in)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte(`[{"id":"a","text":"hi","timestamp":100}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	raws, format, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if format != FormatRaw || len(raws) != 1 {
		t.Errorf("got %s with %d records", format, len(raws))
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load(missing) = nil error")
	}
}

func TestNormalizeText(t *testing.T) {
	cases := map[string]string{
		"  plain  ":                          "plain",
		"a < b && List<T>":                   "a < b && List<T>",
		"<p>one</p><p>two</p>":               "one\ntwo",
		"<ul><li>x</li><li>y</li></ul>":      "x\ny",
		"<div>a<script>bad()</script></div>": "a",
	}
	for in, want := range cases {
		if got := normalizeText(in); got != want {
			t.Errorf("normalizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
