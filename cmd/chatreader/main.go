package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatreader/internal/config"
)

var version = "dev"

var noColor bool

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "chatreader",
		Short: "Convert chat exports into an HTML archive and a concept graph",
		Long: `chatreader reads a chat export, annotates every message with concepts and
relations extracted by a local model, optionally merges them into a knowledge
graph, and writes a browsable HTML archive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := os.LookupEnv("NO_COLOR"); ok {
				noColor = true
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = cfg.Log.Level
			}
			setupLogging(os.Stderr, logLevel)
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to log.level")

	root.AddCommand(
		newConvertCmd(),
		newImportCmd(),
		newExtractCmd(),
		newExtractConceptsCmd(),
		newWatermarkCmd(),
		newRelatedCmd(),
		newEmbedDeltaCmd(),
		newRecallCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// setupLogging installs the default slog logger.
func setupLogging(w io.Writer, level string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatreader %s\n", version)
		},
	}
}
