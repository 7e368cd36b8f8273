package thread

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Format identifies the layout of an input file.
type Format string

const (
	FormatRaw       Format = "raw"
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
)

// idSpace namespaces message ids derived for export nodes that carry none,
// so repeated conversions of the same file produce the same ids.
var idSpace = uuid.MustParse("5b1d3c0e-7a53-4f0e-9a8e-2f6c4d1b9e07")

// Load reads and decodes the input file at path.
func Load(path string) ([]RawMessage, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()

	raws, format, err := Decode(f)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return raws, format, nil
}

// Decode reads a JSON input and detects its layout: the canonical array of
// {id, text, timestamp, role} records, a ChatGPT conversations export, or a
// Claude conversations export. Export formats are flattened to raw records
// conversation by conversation; messages with no usable text are dropped.
// Canonical records are returned as-is so Thread can reject malformed ones.
func Decode(r io.Reader) ([]RawMessage, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, "", errors.New("empty input")
	}
	// A single exported conversation is accepted as a one-element array.
	if data[0] == '{' {
		data = append(append([]byte{'['}, data...), ']')
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, "", fmt.Errorf("input is not a JSON array of objects: %w", err)
	}
	for i, it := range items {
		if len(it) == 0 || it[0] != '{' {
			return nil, "", fmt.Errorf("input is not a JSON array of objects: element %d is %s", i, it)
		}
	}

	format, err := detect(items)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case FormatOpenAI:
		raws, err := decodeOpenAI(items)
		return raws, FormatOpenAI, err
	case FormatAnthropic:
		raws, err := decodeAnthropic(items)
		return raws, FormatAnthropic, err
	default:
		raws, err := decodeRaw(items)
		return raws, FormatRaw, err
	}
}

func detect(items []json.RawMessage) (Format, error) {
	for i, it := range items {
		var probe struct {
			Mapping      json.RawMessage `json:"mapping"`
			ChatMessages json.RawMessage `json:"chat_messages"`
		}
		if err := json.Unmarshal(it, &probe); err != nil {
			return "", fmt.Errorf("record %d: %w", i, err)
		}
		if probe.Mapping != nil {
			return FormatOpenAI, nil
		}
		if probe.ChatMessages != nil {
			return FormatAnthropic, nil
		}
	}
	return FormatRaw, nil
}

func decodeRaw(items []json.RawMessage) ([]RawMessage, error) {
	raws := make([]RawMessage, len(items))
	for i, it := range items {
		var rec struct {
			ID        *string      `json:"id"`
			Text      *string      `json:"text"`
			Timestamp *json.Number `json:"timestamp"`
			Role      string       `json:"role"`
		}
		if err := json.Unmarshal(it, &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		raws[i] = RawMessage{ID: rec.ID, Text: rec.Text, Role: rec.Role}
		if rec.Timestamp != nil {
			ts, err := numberToUnix(*rec.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("record %d: timestamp: %w", i, err)
			}
			raws[i].Timestamp = &ts
		}
	}
	return raws, nil
}

func numberToUnix(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// ChatGPT export layout.
type openAIConversation struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	Title          string                `json:"title"`
	CreateTime     *float64              `json:"create_time"`
	Mapping        map[string]openAINode `json:"mapping"`
}

type openAINode struct {
	Message *openAIMessage `json:"message"`
}

type openAIMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime *float64 `json:"create_time"`
	Content    struct {
		ContentType      string            `json:"content_type"`
		Parts            []json.RawMessage `json:"parts"`
		UserProfile      string            `json:"user_profile"`
		UserInstructions string            `json:"user_instructions"`
	} `json:"content"`
	Metadata struct {
		Hidden bool `json:"is_visually_hidden_from_conversation"`
	} `json:"metadata"`
}

func decodeOpenAI(items []json.RawMessage) ([]RawMessage, error) {
	var out []RawMessage
	for i, it := range items {
		var conv openAIConversation
		if err := json.Unmarshal(it, &conv); err != nil {
			return nil, fmt.Errorf("conversation %d: %w", i, err)
		}
		convID := conv.ConversationID
		if convID == "" {
			convID = conv.ID
		}
		if convID == "" {
			convID = fmt.Sprintf("%s/%d", conv.Title, i)
		}

		type timed struct {
			raw RawMessage
			ts  int64
		}
		var msgs []timed
		// Map order is random; sort keys so ties keep a stable order.
		keys := make([]string, 0, len(conv.Mapping))
		for k := range conv.Mapping {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, nodeID := range keys {
			m := conv.Mapping[nodeID].Message
			if m == nil || m.Metadata.Hidden {
				continue
			}
			text := normalizeText(openAIText(m))
			if text == "" {
				continue
			}
			id := m.ID
			if id == "" {
				id = uuid.NewSHA1(idSpace, []byte(convID+"/"+nodeID)).String()
			}
			var ts int64
			switch {
			case m.CreateTime != nil:
				ts = int64(*m.CreateTime)
			case conv.CreateTime != nil:
				ts = int64(*conv.CreateTime)
			}
			msgs = append(msgs, timed{
				raw: RawMessage{ID: &id, Text: &text, Timestamp: &ts, Role: openAIRole(m.Author.Role)},
				ts:  ts,
			})
		}
		slices.SortStableFunc(msgs, func(a, b timed) int {
			switch {
			case a.ts < b.ts:
				return -1
			case a.ts > b.ts:
				return 1
			}
			return 0
		})
		for _, m := range msgs {
			out = append(out, m.raw)
		}
	}
	return out, nil
}

func openAIRole(role string) string {
	switch role {
	case "user", "assistant":
		return role
	default:
		return "system"
	}
}

func openAIText(m *openAIMessage) string {
	if m.Content.ContentType == "user_editable_context" {
		if m.Content.UserProfile == "" && m.Content.UserInstructions == "" {
			return ""
		}
		return m.Content.UserProfile + "\n" + m.Content.UserInstructions
	}
	var parts []string
	for _, p := range m.Content.Parts {
		var s string
		if err := json.Unmarshal(p, &s); err == nil {
			if s != "" {
				parts = append(parts, s)
			}
			continue
		}
		var obj struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(p, &obj); err == nil && obj.Type == "text" && obj.Text != "" {
			parts = append(parts, obj.Text)
		}
		// Images, audio and other attachments carry no text.
	}
	return strings.Join(parts, "\n")
}

// Claude export layout.
type anthropicConversation struct {
	UUID         string             `json:"uuid"`
	Name         string             `json:"name"`
	ChatMessages []anthropicMessage `json:"chat_messages"`
}

type anthropicMessage struct {
	UUID      string `json:"uuid"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	CreatedAt string `json:"created_at"`
	Index     int    `json:"index"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func decodeAnthropic(items []json.RawMessage) ([]RawMessage, error) {
	var out []RawMessage
	for i, it := range items {
		var conv anthropicConversation
		if err := json.Unmarshal(it, &conv); err != nil {
			return nil, fmt.Errorf("conversation %d: %w", i, err)
		}
		msgs := slices.Clone(conv.ChatMessages)
		slices.SortStableFunc(msgs, func(a, b anthropicMessage) int { return a.Index - b.Index })

		for j, m := range msgs {
			text := m.Text
			if strings.TrimSpace(text) == "" {
				var parts []string
				for _, c := range m.Content {
					if c.Type == "text" && c.Text != "" {
						parts = append(parts, c.Text)
					}
				}
				text = strings.Join(parts, "\n")
			}
			text = normalizeText(text)
			if text == "" {
				continue
			}
			id := m.UUID
			if id == "" {
				id = uuid.NewSHA1(idSpace, fmt.Appendf(nil, "%s/%d", conv.UUID, j)).String()
			}
			ts := parseTime(m.CreatedAt)
			out = append(out, RawMessage{ID: &id, Text: &text, Timestamp: &ts, Role: anthropicRole(m.Sender)})
		}
	}
	return out, nil
}

func anthropicRole(sender string) string {
	switch sender {
	case "human":
		return "user"
	case "assistant":
		return "assistant"
	default:
		return "system"
	}
}

// parseTime returns Unix seconds for an RFC 3339 timestamp, or 0.
func parseTime(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}
