// Package extract runs the external concept-extraction process for a
// single message text and interprets its output.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/procio"
)

// DefaultModel is used when neither the caller nor LLM_MODEL names a model.
const DefaultModel = "deepseek-r1_0528"

// ModelEnv is the environment variable that overrides the default model.
const ModelEnv = "LLM_MODEL"

// ExtractionError reports that the extraction process wrote to its error
// stream or could not be started. It is fatal to a pipeline run.
type ExtractionError struct {
	Model  string
	Stderr string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("concept extraction failed (model %s): %s", e.Model, e.Stderr)
}

// Options configures an Extractor.
type Options struct {
	// Command is the program and leading arguments to run. The extractor
	// appends "--model <model> -- <text>" so text starting with a dash is
	// never read as a flag.
	Command []string
	// DefaultModel replaces the built-in default. LLM_MODEL still wins.
	DefaultModel string
	// Timeout bounds a single extraction call. Zero means no limit.
	Timeout time.Duration
}

// Extractor invokes one external process per Extract call.
type Extractor struct {
	command      []string
	defaultModel string
	timeout      time.Duration
	logger       *slog.Logger
}

// New creates an Extractor. Command must name at least the program.
func New(opts Options) (*Extractor, error) {
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return nil, fmt.Errorf("extract: command is required")
	}
	def := opts.DefaultModel
	if def == "" {
		def = DefaultModel
	}
	return &Extractor{
		command:      append([]string(nil), opts.Command...),
		defaultModel: def,
		timeout:      opts.Timeout,
		logger:       slog.Default(),
	}, nil
}

// ResolveModel applies the model precedence: explicit argument, then the
// LLM_MODEL environment variable, then the extractor's default.
func (e *Extractor) ResolveModel(model string) string {
	if model != "" {
		return model
	}
	if env := os.Getenv(ModelEnv); env != "" {
		return env
	}
	return e.defaultModel
}

// Extract runs the extraction process for text.
//
// Anything written to the process's stderr fails the call with an
// *ExtractionError. Output on stdout that is not the expected JSON object
// degrades to an empty result for this message only.
func (e *Extractor) Extract(ctx context.Context, text, model string) (chat.Extraction, error) {
	model = e.ResolveModel(model)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), e.command[1:]...), "--model", model, "--", text)
	res, err := procio.Run(ctx, e.command[0], args...)
	if err != nil {
		msg := err.Error()
		if res != nil && len(strings.TrimSpace(string(res.Stderr))) > 0 {
			msg = strings.TrimSpace(string(res.Stderr))
		}
		return chat.Extraction{}, &ExtractionError{Model: model, Stderr: msg}
	}

	if stderr := strings.TrimSpace(string(res.Stderr)); stderr != "" {
		for line := range res.StderrLines() {
			e.logger.Debug("extraction stderr", "model", model, "line", line)
		}
		return chat.Extraction{}, &ExtractionError{Model: model, Stderr: stderr}
	}

	out, ok := Parse(res.Stdout)
	if !ok {
		e.logger.Warn("extraction output not parseable, using empty result",
			"model", model, "exit_code", res.ExitCode, "bytes", len(res.Stdout))
		return chat.Empty(), nil
	}
	return out, nil
}

// Parse decodes the extraction protocol object {concepts, relations}.
// Missing keys become empty slices and repeated concepts are kept once, in
// first-seen order. Relations that are not exactly three non-blank members
// long are dropped. ok is false when data is not such an object.
func Parse(data []byte) (chat.Extraction, bool) {
	var raw struct {
		Concepts  []string   `json:"concepts"`
		Relations [][]string `json:"relations"`
	}
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return chat.Extraction{}, false
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return chat.Extraction{}, false
	}

	out := chat.Empty()
	seen := make(map[string]bool, len(raw.Concepts))
	for _, c := range raw.Concepts {
		if c = strings.TrimSpace(c); c != "" && !seen[c] {
			seen[c] = true
			out.Concepts = append(out.Concepts, c)
		}
	}
	for _, r := range raw.Relations {
		if len(r) != 3 {
			continue
		}
		rel := chat.Relation{strings.TrimSpace(r[0]), strings.TrimSpace(r[1]), strings.TrimSpace(r[2])}
		if rel[0] == "" || rel[1] == "" || rel[2] == "" {
			continue
		}
		out.Relations = append(out.Relations, rel)
	}
	return out, true
}
