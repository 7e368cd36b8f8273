package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kalambet/chatreader/internal/config"
	"github.com/kalambet/chatreader/internal/engine"
	"github.com/kalambet/chatreader/internal/extract"
	"github.com/kalambet/chatreader/internal/graph"
	"github.com/kalambet/chatreader/internal/hkg"
	"github.com/kalambet/chatreader/internal/pipeline"
	"github.com/kalambet/chatreader/internal/render"
	"github.com/kalambet/chatreader/internal/vectors"
)

// extractCommand resolves the extraction program. Without extract.command
// the running binary's hidden extract-concepts subcommand is used.
func extractCommand(cfg config.Config) ([]string, error) {
	if fields := strings.Fields(cfg.Extract.Command); len(fields) > 0 {
		return fields, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return []string{exe, "extract-concepts"}, nil
}

func newExtractor(cfg config.Config) (*extract.Extractor, error) {
	command, err := extractCommand(cfg)
	if err != nil {
		return nil, err
	}
	return extract.New(extract.Options{
		Command:      command,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.Extract.Timeout,
	})
}

func graphConfig(cfg config.Config) graph.Config {
	return graph.Config{
		Backend:  cfg.Graph.Backend,
		URI:      cfg.Graph.URI,
		User:     cfg.Graph.User,
		Password: cfg.Graph.Password,
		Database: cfg.Graph.Database,
		DataDir:  cfg.Graph.DataDir,
	}
}

func graphOpener(cfg config.Config) func(ctx context.Context) (graph.Graph, error) {
	gc := graphConfig(cfg)
	return func(ctx context.Context) (graph.Graph, error) {
		return graph.Open(ctx, gc)
	}
}

func newImporter(cfg config.Config, ex hkg.Extractor, deltaPath string) *hkg.Importer {
	open := graphOpener(cfg)
	if deltaPath == "" {
		deltaPath = cfg.Output.DeltaPath
	}
	return hkg.New(
		func(ctx context.Context) (graph.Store, error) { return open(ctx) },
		ex,
		hkg.WithDeltaPath(deltaPath),
	)
}

func newRunner(cfg config.Config, deltaPath string, opts ...pipeline.Option) (*pipeline.Runner, error) {
	ex, err := newExtractor(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(ex, newImporter(cfg, ex, deltaPath), render.New(), opts...), nil
}

func detectEngine(ctx context.Context, cfg config.Config) (engine.Engine, error) {
	return engine.Detect(ctx, engine.DetectConfig{
		Backend:     cfg.LLM.Backend,
		OllamaURL:   cfg.LLM.OllamaURL,
		LMStudioURL: cfg.LLM.LMStudioURL,
	})
}

// newIngester opens the vector store and an embedding engine. The caller
// closes the returned store.
func newIngester(ctx context.Context, cfg config.Config) (*vectors.Ingester, *vectors.Store, error) {
	eng, err := detectEngine(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := vectors.Open(cfg.Graph.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return vectors.NewIngester(store, eng, cfg.LLM.EmbedModel, nil), store, nil
}
