// Package pipeline runs a whole export conversion: thread the messages,
// annotate them, optionally import them into the graph, and render HTML.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/hkg"
	"github.com/kalambet/chatreader/internal/thread"
)

// ErrBusy is returned by TryRun while another run holds the runner.
var ErrBusy = errors.New("a conversion is already running")

// Options describe one conversion.
type Options struct {
	// InputPath is the export file to read. Required.
	InputPath string `json:"input"`
	// Import merges the annotated messages into the knowledge graph.
	Import bool `json:"import_hkg"`
	// Model is passed to the extractor; empty selects its default.
	Model string `json:"model,omitempty"`
	// HTMLDir defaults to the html directory beside InputPath.
	HTMLDir string `json:"html_dir,omitempty"`
}

func (o Options) htmlDir() string {
	if o.HTMLDir != "" {
		return o.HTMLDir
	}
	return filepath.Join(filepath.Dir(o.InputPath), "html")
}

// Extractor annotates a single message text.
type Extractor interface {
	Extract(ctx context.Context, text, model string) (chat.Extraction, error)
}

// Importer merges annotated messages into the graph.
type Importer interface {
	ImportBatch(ctx context.Context, msgs []*chat.Message) (hkg.Result, error)
}

// Renderer writes the HTML archive and returns the written file.
type Renderer interface {
	Render(dir, title string, msgs []chat.Message) (string, error)
}

// Notifier surfaces run outcomes to the user, e.g. as desktop notifications.
type Notifier interface {
	Notify(title, body string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// Progress is called after each message is annotated.
type Progress func(done, total int)

// Report summarizes a successful run.
type Report struct {
	RunID    string        `json:"run_id"`
	Format   thread.Format `json:"format"`
	Messages int           `json:"messages"`
	HTMLPath string        `json:"html_path"`
	Import   *hkg.Result   `json:"import,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes conversions one at a time.
type Runner struct {
	mu        sync.Mutex
	extractor Extractor
	importer  Importer
	renderer  Renderer
	notifier  Notifier
	progress  Progress
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notifier = n } }
func WithProgress(p Progress) Option { return func(r *Runner) { r.progress = p } }
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// NewRunner creates a Runner. importer may be nil if no run requests an import.
func NewRunner(ex Extractor, imp Importer, rnd Renderer, opts ...Option) *Runner {
	r := &Runner{
		extractor: ex,
		importer:  imp,
		renderer:  rnd,
		notifier:  nopNotifier{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run waits for any run in progress, then converts opts.InputPath.
func (r *Runner) Run(ctx context.Context, opts Options) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, opts)
}

// TryRun is like Run but returns ErrBusy instead of waiting.
func (r *Runner) TryRun(ctx context.Context, opts Options) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrBusy
	}
	defer r.mu.Unlock()
	return r.run(ctx, opts)
}

func (r *Runner) run(ctx context.Context, opts Options) (Report, error) {
	name := filepath.Base(opts.InputPath)
	runID := uuid.NewString()
	rep, err := r.convert(ctx, runID, opts)
	if err != nil {
		r.logger.Error("conversion failed", "run", runID, "input", opts.InputPath, "error", err)
		r.notifier.Notify("Conversion failed", fmt.Sprintf("%s: %v", name, err))
		return Report{}, err
	}
	body := fmt.Sprintf("%s: %d messages", name, rep.Messages)
	if rep.Import != nil {
		body += fmt.Sprintf(", %d imported", rep.Import.Imported)
	}
	r.notifier.Notify("Conversion finished", body)
	return rep, nil
}

func (r *Runner) convert(ctx context.Context, runID string, opts Options) (Report, error) {
	start := time.Now()
	if opts.InputPath == "" {
		return Report{}, errors.New("input path is required")
	}
	if opts.Import && r.importer == nil {
		return Report{}, errors.New("graph import requested but no importer is configured")
	}

	raws, format, err := thread.Load(opts.InputPath)
	if err != nil {
		return Report{}, err
	}
	msgs, err := thread.Thread(raws)
	if err != nil {
		return Report{}, err
	}
	r.logger.Info("threaded export", "run", runID, "input", opts.InputPath, "format", format, "messages", len(msgs))

	// Messages are annotated one at a time, in input order.
	for i := range msgs {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		ex, err := r.extractor.Extract(ctx, msgs[i].Text, opts.Model)
		if err != nil {
			return Report{}, fmt.Errorf("extracting concepts for message %s: %w", msgs[i].ID, err)
		}
		msgs[i].Attach(ex)
		if r.progress != nil {
			r.progress(i+1, len(msgs))
		}
	}

	rep := Report{RunID: runID, Format: format, Messages: len(msgs)}
	if opts.Import {
		ptrs := make([]*chat.Message, len(msgs))
		for i := range msgs {
			ptrs[i] = &msgs[i]
		}
		res, err := r.importer.ImportBatch(ctx, ptrs)
		if err != nil {
			return Report{}, fmt.Errorf("importing into graph: %w", err)
		}
		rep.Import = &res
	}

	path, err := r.renderer.Render(opts.htmlDir(), filepath.Base(opts.InputPath), msgs)
	if err != nil {
		return Report{}, err
	}
	rep.HTMLPath = path
	rep.Duration = time.Since(start)
	return rep, nil
}
