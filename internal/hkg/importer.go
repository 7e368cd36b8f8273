// Package hkg imports annotated chat messages into the knowledge graph.
//
// One ImportBatch call is one run of the import state machine:
// INIT, READ_WATERMARK, MERGE_LOOP, UPDATE_WATERMARK, FLUSH_DELTA, CLOSE.
// Only messages newer than the stored watermark are merged, every merge is
// an idempotent upsert, and the messages merged by a run are written to the
// delta file for downstream embedding.
//
// Runs against the same store must not overlap; callers serialize them.
package hkg

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/graph"
)

// DefaultDeltaPath is where the delta file is written when none is configured.
const DefaultDeltaPath = "hkg-delta.json"

// Phase names a state of an import run.
type Phase string

const (
	PhaseInit            Phase = "INIT"
	PhaseReadWatermark   Phase = "READ_WATERMARK"
	PhaseMergeLoop       Phase = "MERGE_LOOP"
	PhaseUpdateWatermark Phase = "UPDATE_WATERMARK"
	PhaseFlushDelta      Phase = "FLUSH_DELTA"
	PhaseClose           Phase = "CLOSE"
)

// Opener acquires a store for the duration of one run.
type Opener func(ctx context.Context) (graph.Store, error)

// Extractor annotates messages that reach the importer without concepts.
// An empty model selects the extractor's default.
type Extractor interface {
	Extract(ctx context.Context, text, model string) (chat.Extraction, error)
}

// ReleaseError reports that the store could not be closed after an
// otherwise successful run.
type ReleaseError struct {
	Err error
}

func (e *ReleaseError) Error() string { return fmt.Sprintf("releasing graph store: %v", e.Err) }
func (e *ReleaseError) Unwrap() error { return e.Err }

// Result summarizes a completed run.
type Result struct {
	Imported  int
	Skipped   int
	Watermark int64
	Delta     []chat.DeltaRecord
}

// Importer runs import batches. It holds no per-run state.
type Importer struct {
	open      Opener
	extractor Extractor
	deltaPath string
	logger    *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithDeltaPath overrides DefaultDeltaPath.
func WithDeltaPath(path string) Option {
	return func(i *Importer) {
		if path != "" {
			i.deltaPath = path
		}
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) { i.logger = l }
}

// New creates an Importer. extractor may be nil when every message is
// guaranteed to arrive annotated.
func New(open Opener, extractor Extractor, opts ...Option) *Importer {
	i := &Importer{
		open:      open,
		extractor: extractor,
		deltaPath: DefaultDeltaPath,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// DeltaPath returns the file the delta is written to.
func (i *Importer) DeltaPath() string { return i.deltaPath }

// ImportBatch merges every message newer than the stored watermark, in
// input order, then advances the watermark and writes the delta file.
//
// The first failure aborts the run. Messages merged before it stay merged,
// the watermark keeps its pre-run value and no delta file is written. The
// store is always closed; a close failure is returned as *ReleaseError only
// when nothing else failed.
func (i *Importer) ImportBatch(ctx context.Context, msgs []*chat.Message) (res Result, err error) {
	i.phase(PhaseInit)
	store, err := i.open(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		i.phase(PhaseClose)
		cerr := store.Close(ctx)
		if cerr == nil {
			return
		}
		if err != nil {
			i.logger.Warn("graph store release failed after error", "error", cerr, "cause", err)
			return
		}
		err = &ReleaseError{Err: cerr}
	}()

	i.phase(PhaseReadWatermark)
	watermark, err := store.Meta(ctx)
	if err != nil {
		return Result{}, err
	}

	i.phase(PhaseMergeLoop)
	delta := make([]chat.DeltaRecord, 0, len(msgs))
	maxTs := watermark
	skipped := 0
	for _, m := range msgs {
		if m.Timestamp <= watermark {
			skipped++
			continue
		}
		if !m.Annotated() {
			if err := i.annotate(ctx, m); err != nil {
				return Result{}, err
			}
		}
		delta = append(delta, m.Delta())
		if err := mergeMessage(ctx, store, m); err != nil {
			return Result{}, err
		}
		maxTs = max(maxTs, m.Timestamp)
	}

	if len(delta) > 0 {
		i.phase(PhaseUpdateWatermark)
		if err := store.SetMeta(ctx, maxTs); err != nil {
			return Result{}, err
		}
	}

	i.phase(PhaseFlushDelta)
	if err := WriteDelta(i.deltaPath, delta); err != nil {
		return Result{}, err
	}

	i.logger.Info("graph import complete",
		"imported", len(delta), "skipped", skipped, "watermark", maxTs, "delta", i.deltaPath)
	return Result{Imported: len(delta), Skipped: skipped, Watermark: maxTs, Delta: delta}, nil
}

// annotate runs the fallback extraction with the default model.
func (i *Importer) annotate(ctx context.Context, m *chat.Message) error {
	if i.extractor == nil {
		return fmt.Errorf("message %s has no concepts and no extractor is configured", m.ID)
	}
	i.logger.Debug("extracting concepts during import", "id", m.ID)
	ex, err := i.extractor.Extract(ctx, m.Text, "")
	if err != nil {
		return err
	}
	m.Attach(ex)
	return nil
}

// mergeMessage merges the message node, then each concept with its MENTIONS
// edge, then each relation with both endpoints and its RELATES edge.
func mergeMessage(ctx context.Context, store graph.Store, m *chat.Message) error {
	if err := store.MergeNode(ctx, graph.MessageNode(m.ID, m.Text, m.Timestamp)); err != nil {
		return err
	}
	for _, c := range m.Concepts {
		if err := store.MergeNode(ctx, graph.ConceptNode(c)); err != nil {
			return err
		}
		if err := store.MergeEdge(ctx, graph.Mentions(m.ID, c)); err != nil {
			return err
		}
	}
	for _, r := range m.Relations {
		if err := store.MergeNode(ctx, graph.ConceptNode(r.Subject())); err != nil {
			return err
		}
		if err := store.MergeNode(ctx, graph.ConceptNode(r.Object())); err != nil {
			return err
		}
		if err := store.MergeEdge(ctx, graph.Relates(r.Subject(), r.Predicate(), r.Object())); err != nil {
			return err
		}
	}
	return nil
}

func (i *Importer) phase(p Phase) {
	i.logger.Debug("graph import", "phase", string(p))
}
