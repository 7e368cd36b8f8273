package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/concepts"
	"github.com/kalambet/chatreader/internal/config"
	"github.com/kalambet/chatreader/internal/extract"
	"github.com/kalambet/chatreader/internal/procio"
)

func newExtractCmd() *cobra.Command {
	var model string
	var stream bool
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Extract concepts and relations from one text",
		Long: `Run the configured extraction program on a single text and print the result
as JSON. With --stream the program's output is shown as it runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ex, err := newExtractor(cfg)
			if err != nil {
				return err
			}

			var out chat.Extraction
			if stream {
				out, err = streamExtract(cmd, cfg, ex.ResolveModel(model), args[0])
			} else {
				out, err = ex.Extract(cmd.Context(), args[0], model)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&model, "llm-model", "", "extraction model (default: LLM_MODEL, then llm.model)")
	cmd.Flags().BoolVar(&stream, "stream", false, "show the extraction program's output live")
	return cmd
}

// streamExtract runs the extraction program with live output. It applies
// the same rules as Extractor.Extract: any stderr output fails the call and
// unparseable stdout yields an empty result.
func streamExtract(cmd *cobra.Command, cfg config.Config, model, text string) (chat.Extraction, error) {
	command, err := extractCommand(cfg)
	if err != nil {
		return chat.Extraction{}, err
	}
	args := append(append([]string(nil), command[1:]...), "--model", model, "--", text)
	s, err := procio.Start(cmd.Context(), command[0], args...)
	if err != nil {
		return chat.Extraction{}, &extract.ExtractionError{Model: model, Stderr: err.Error()}
	}

	var stdout, stderr strings.Builder
	for line := range s.Lines() {
		if line.Source == procio.Stderr {
			printWarning("%s", line.Text)
			stderr.WriteString(line.Text + "\n")
			continue
		}
		printStep("%s", line.Text)
		stdout.WriteString(line.Text + "\n")
	}
	code, err := s.Wait()
	if err != nil {
		return chat.Extraction{}, err
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return chat.Extraction{}, &extract.ExtractionError{Model: model, Stderr: msg}
	}
	out, ok := extract.Parse([]byte(stdout.String()))
	if !ok {
		slog.Warn("extraction output not parseable, using empty result", "model", model, "exit_code", code)
		return chat.Empty(), nil
	}
	return out, nil
}

// newExtractConceptsCmd is the default extraction program: it asks the local
// LLM backend for concepts and relations and prints the protocol object.
// Anything it writes to stderr is treated as a failure by the caller, so it
// logs nothing.
func newExtractConceptsCmd() *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:    "extract-concepts <text>",
		Short:  "Extraction program backed by the local LLM",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			noColor = true
			slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if model == "" {
				model = cfg.LLM.Model
			}
			eng, err := detectEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out, err := concepts.NewExtractor(eng, model).Extract(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
