package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatreader/internal/config"
	"github.com/kalambet/chatreader/internal/engine"
)

func newEmbedDeltaCmd() *cobra.Command {
	var deltaPath string
	cmd := &cobra.Command{
		Use:   "embed-delta",
		Short: "Embed the messages of the last graph import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if deltaPath == "" {
				deltaPath = cfg.Output.DeltaPath
			}
			in, store, err := newIngester(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := in.IngestDelta(cmd.Context(), deltaPath)
			if err != nil {
				return err
			}
			total, err := store.Count(cmd.Context())
			if err != nil {
				return err
			}
			printSuccess("Embedded %d messages (%d stored)", n, total)
			return nil
		},
	}
	cmd.Flags().StringVar(&deltaPath, "delta-path", "", "delta file to embed (default: output.delta_path)")
	return cmd
}

func newRecallCmd() *cobra.Command {
	var limit int
	var pull bool
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search embedded messages by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if pull {
				eng, err := detectEngine(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				if err := engine.EnsureReady(cmd.Context(), eng, cmd.ErrOrStderr(), cfg.LLM.EmbedModel); err != nil {
					return err
				}
			}
			in, store, err := newIngester(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			hits, err := in.Recall(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range hits {
				fmt.Fprintf(out, "%.3f  %s  %s\n", h.Score, h.ID, firstLine(h.Text, 80))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "k", 5, "number of results")
	cmd.Flags().BoolVar(&pull, "pull", false, "pull the embedding model first if it is missing")
	return cmd
}

// firstLine returns the first line of s, cut to at most n runes.
func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
