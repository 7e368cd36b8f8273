package vectors

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatreader/internal/hkg"
)

// Embedder produces embedding vectors. engine.Engine satisfies it.
type Embedder interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Ingester embeds delta files into a Store.
type Ingester struct {
	store    *Store
	embedder Embedder
	model    string
	limit    int
	logger   *slog.Logger
}

// NewIngester creates an Ingester that embeds with model.
func NewIngester(store *Store, e Embedder, model string, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, embedder: e, model: model, limit: 4, logger: logger}
}

// IngestDelta embeds every message of the delta file at path and upserts
// one record per message uuid. Re-ingesting a delta replaces its records.
// It returns the number of records written.
func (in *Ingester) IngestDelta(ctx context.Context, path string) (int, error) {
	delta, err := hkg.ReadDelta(path)
	if err != nil {
		return 0, err
	}
	if len(delta) == 0 {
		in.logger.Info("delta is empty, nothing to embed", "delta", path)
		return 0, nil
	}

	records := make([]Record, len(delta))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.limit)
	for i, d := range delta {
		g.Go(func() error {
			vec, err := in.embedder.Embed(gctx, in.model, d.Text)
			if err != nil {
				return fmt.Errorf("embedding message %s: %w", d.UUID, err)
			}
			records[i] = Record{
				ID:        d.UUID,
				Text:      d.Text,
				Timestamp: d.Timestamp,
				Concepts:  d.Concepts,
				Model:     in.model,
				Embedding: vec,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := in.store.Upsert(ctx, records); err != nil {
		return 0, err
	}
	in.logger.Info("delta embedded", "delta", path, "records", len(records), "model", in.model)
	return len(records), nil
}

// Recall returns the k stored messages most similar to query.
func (in *Ingester) Recall(ctx context.Context, query string, k int) ([]ScoredRecord, error) {
	vec, err := in.embedder.Embed(ctx, in.model, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return in.store.Search(ctx, vec, k)
}
