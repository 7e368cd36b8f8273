package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/config"
	"github.com/kalambet/chatreader/internal/hkg"
	"github.com/kalambet/chatreader/internal/pipeline"
	"github.com/kalambet/chatreader/internal/thread"
)

func newConvertCmd() *cobra.Command {
	var (
		input     string
		importHKG bool
		model     string
		htmlDir   string
		deltaPath string
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Annotate a chat export and write its HTML archive",
		Long: `Annotate every message of a chat export with concepts and relations, optionally
merge them into the knowledge graph, and write index.html.

Examples:
  chatreader convert -i ~/exports/conversations.json
  chatreader convert -i chat.json --import-hkg --llm-model qwen3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if htmlDir == "" {
				htmlDir = cfg.Output.HTMLDir
			}
			runner, err := newRunner(cfg, deltaPath,
				pipeline.WithNotifier(cliNotifier{}),
				pipeline.WithProgress(func(done, total int) {
					printStep("extracted %d/%d", done, total)
				}))
			if err != nil {
				return err
			}

			rep, err := runner.Run(cmd.Context(), pipeline.Options{
				InputPath: input,
				Import:    importHKG,
				Model:     model,
				HTMLDir:   htmlDir,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format:   %s\n", rep.Format)
			fmt.Fprintf(out, "messages: %d\n", rep.Messages)
			if rep.Import != nil {
				printImport(cmd, *rep.Import)
			}
			fmt.Fprintf(out, "html:     %s\n", rep.HTMLPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "chat export JSON file")
	cmd.Flags().BoolVar(&importHKG, "import-hkg", false, "merge annotated messages into the knowledge graph")
	cmd.Flags().StringVar(&model, "llm-model", "", "extraction model (default: LLM_MODEL, then llm.model)")
	cmd.Flags().StringVar(&htmlDir, "html-dir", "", "output directory for index.html (default: <input dir>/html)")
	cmd.Flags().StringVar(&deltaPath, "delta-path", "", "graph import delta file (default: output.delta_path)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func newImportCmd() *cobra.Command {
	var input, deltaPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a chat export into the knowledge graph",
		Long: `Import a chat export into the knowledge graph without writing HTML. Messages
newer than the graph watermark are annotated with the default model as they
are merged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ex, err := newExtractor(cfg)
			if err != nil {
				return err
			}

			raws, _, err := thread.Load(input)
			if err != nil {
				return err
			}
			msgs, err := thread.Thread(raws)
			if err != nil {
				return err
			}
			ptrs := make([]*chat.Message, len(msgs))
			for i := range msgs {
				ptrs[i] = &msgs[i]
			}

			res, err := newImporter(cfg, ex, deltaPath).ImportBatch(cmd.Context(), ptrs)
			if err != nil {
				return err
			}
			printImport(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "chat export JSON file")
	cmd.Flags().StringVar(&deltaPath, "delta-path", "", "graph import delta file (default: output.delta_path)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func printImport(cmd *cobra.Command, res hkg.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "imported: %d\n", res.Imported)
	fmt.Fprintf(out, "skipped:  %d\n", res.Skipped)
	fmt.Fprintf(out, "watermark: %d\n", res.Watermark)
}
