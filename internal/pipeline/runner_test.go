package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/chatreader/internal/chat"
	"github.com/kalambet/chatreader/internal/graph"
	"github.com/kalambet/chatreader/internal/hkg"
	"github.com/kalambet/chatreader/internal/render"
	"github.com/kalambet/chatreader/internal/thread"
)

const export = `[
 {"id":"a","text":"Neo4j stores graphs","timestamp":100,"role":"user"},
 {"id":"b","text":"Yes it does","timestamp":200,"role":"assistant"}
]`

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.json")
	if err := os.WriteFile(path, []byte(export), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fakeExtractor struct {
	mu     sync.Mutex
	texts  []string
	models []string
	failOn string
	block  chan struct{}
}

func (f *fakeExtractor) Extract(_ context.Context, text, model string) (chat.Extraction, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.models = append(f.models, model)
	if text == f.failOn {
		return chat.Extraction{}, errors.New("model crashed")
	}
	return chat.Extraction{
		Concepts:  []string{strings.Fields(text)[0]},
		Relations: []chat.Relation{},
	}, nil
}

type fakeImporter struct {
	calls int
	got   []*chat.Message
	err   error
}

func (f *fakeImporter) ImportBatch(_ context.Context, msgs []*chat.Message) (hkg.Result, error) {
	f.calls++
	f.got = msgs
	if f.err != nil {
		return hkg.Result{}, f.err
	}
	return hkg.Result{Imported: len(msgs), Watermark: msgs[len(msgs)-1].Timestamp}, nil
}

type fakeRenderer struct {
	calls int
	dir   string
	title string
	msgs  []chat.Message
}

func (f *fakeRenderer) Render(dir, title string, msgs []chat.Message) (string, error) {
	f.calls++
	f.dir, f.title, f.msgs = dir, title, msgs
	return filepath.Join(dir, "index.html"), nil
}

type recordingNotifier struct{ titles []string }

func (n *recordingNotifier) Notify(title, _ string) { n.titles = append(n.titles, title) }

func TestRun_ConvertsAndImports(t *testing.T) {
	input := writeExport(t)
	ex := &fakeExtractor{}
	imp := &fakeImporter{}
	rnd := &fakeRenderer{}
	notes := &recordingNotifier{}
	var progress []int

	r := NewRunner(ex, imp, rnd,
		WithNotifier(notes),
		WithProgress(func(done, _ int) { progress = append(progress, done) }))
	rep, err := r.Run(context.Background(), Options{InputPath: input, Import: true, Model: "m1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Format != thread.FormatRaw || rep.Messages != 2 || rep.RunID == "" {
		t.Errorf("report = %+v", rep)
	}
	if rep.Import == nil || rep.Import.Imported != 2 || rep.Import.Watermark != 200 {
		t.Errorf("import result = %+v", rep.Import)
	}
	wantDir := filepath.Join(filepath.Dir(input), "html")
	if rnd.dir != wantDir || rep.HTMLPath != filepath.Join(wantDir, "index.html") {
		t.Errorf("html dir = %q, path = %q", rnd.dir, rep.HTMLPath)
	}
	if rnd.title != "chat.json" {
		t.Errorf("title = %q", rnd.title)
	}
	if ex.texts[0] != "Neo4j stores graphs" || ex.texts[1] != "Yes it does" {
		t.Errorf("extraction order = %v", ex.texts)
	}
	for _, m := range ex.models {
		if m != "m1" {
			t.Errorf("model = %q, want m1", m)
		}
	}
	if imp.got[0].Concepts[0] != "Neo4j" {
		t.Errorf("importer received unannotated message: %+v", imp.got[0])
	}
	if rnd.msgs[1].Concepts[0] != "Yes" {
		t.Errorf("renderer received unannotated message: %+v", rnd.msgs[1])
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Errorf("progress = %v", progress)
	}
	if len(notes.titles) != 1 || notes.titles[0] != "Conversion finished" {
		t.Errorf("notifications = %v", notes.titles)
	}
}

func TestRun_WithoutImport(t *testing.T) {
	imp := &fakeImporter{}
	rnd := &fakeRenderer{}
	dir := t.TempDir()
	rep, err := NewRunner(&fakeExtractor{}, imp, rnd).
		Run(context.Background(), Options{InputPath: writeExport(t), HTMLDir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if imp.calls != 0 || rep.Import != nil {
		t.Error("importer called without Import")
	}
	if rnd.dir != dir {
		t.Errorf("html dir = %q, want %q", rnd.dir, dir)
	}
}

func TestRun_ExtractionFailureAbortsBeforeImportAndHTML(t *testing.T) {
	ex := &fakeExtractor{failOn: "Neo4j stores graphs"}
	imp := &fakeImporter{}
	rnd := &fakeRenderer{}
	notes := &recordingNotifier{}

	_, err := NewRunner(ex, imp, rnd, WithNotifier(notes)).
		Run(context.Background(), Options{InputPath: writeExport(t), Import: true})
	if err == nil || !strings.Contains(err.Error(), "model crashed") {
		t.Fatalf("err = %v, want extraction failure", err)
	}
	if len(ex.texts) != 1 {
		t.Errorf("extraction continued after failure: %v", ex.texts)
	}
	if imp.calls != 0 || rnd.calls != 0 {
		t.Errorf("import calls = %d, render calls = %d, want 0", imp.calls, rnd.calls)
	}
	if len(notes.titles) != 1 || notes.titles[0] != "Conversion failed" {
		t.Errorf("notifications = %v", notes.titles)
	}
}

func TestRun_ImportFailureSkipsHTML(t *testing.T) {
	rnd := &fakeRenderer{}
	_, err := NewRunner(&fakeExtractor{}, &fakeImporter{err: errors.New("neo4j down")}, rnd).
		Run(context.Background(), Options{InputPath: writeExport(t), Import: true})
	if err == nil || !strings.Contains(err.Error(), "neo4j down") {
		t.Fatalf("err = %v", err)
	}
	if rnd.calls != 0 {
		t.Error("HTML rendered after failed import")
	}
}

func TestRun_ImportWithoutImporter(t *testing.T) {
	ex := &fakeExtractor{}
	_, err := NewRunner(ex, nil, &fakeRenderer{}).
		Run(context.Background(), Options{InputPath: writeExport(t), Import: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(ex.texts) != 0 {
		t.Error("extraction ran before configuration was checked")
	}
}

func TestRun_MalformedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`[{"id":"a","text":"hi"}]`), 0o644)
	_, err := NewRunner(&fakeExtractor{}, nil, &fakeRenderer{}).
		Run(context.Background(), Options{InputPath: path})
	var mal *thread.MalformedInputError
	if !errors.As(err, &mal) {
		t.Fatalf("err = %v, want MalformedInputError", err)
	}
}

func TestRun_MissingInputPath(t *testing.T) {
	if _, err := NewRunner(&fakeExtractor{}, nil, &fakeRenderer{}).
		Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestTryRun_Busy(t *testing.T) {
	input := writeExport(t)
	ex := &fakeExtractor{block: make(chan struct{})}
	r := NewRunner(ex, nil, &fakeRenderer{})

	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		r.mu.Lock()
		close(started)
		_, err := r.run(context.Background(), Options{InputPath: input})
		r.mu.Unlock()
		done <- err
	}()
	<-started

	if _, err := r.TryRun(context.Background(), Options{InputPath: input}); !errors.Is(err, ErrBusy) {
		t.Errorf("TryRun err = %v, want ErrBusy", err)
	}
	close(ex.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := r.TryRun(context.Background(), Options{InputPath: input}); err != nil {
		t.Errorf("TryRun after release: %v", err)
	}
}

// End to end with the real renderer and an embedded graph.
func TestRun_SQLiteGraph(t *testing.T) {
	dataDir := t.TempDir()
	open := func(ctx context.Context) (graph.Store, error) { return graph.OpenSQLite(dataDir) }
	deltaPath := filepath.Join(dataDir, "hkg-delta.json")
	imp := hkg.New(open, nil, hkg.WithDeltaPath(deltaPath))

	input := writeExport(t)
	r := NewRunner(&fakeExtractor{}, imp, render.New())
	rep, err := r.Run(context.Background(), Options{InputPath: input, Import: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(rep.HTMLPath); err != nil {
		t.Errorf("index.html missing: %v", err)
	}
	delta, err := hkg.ReadDelta(deltaPath)
	if err != nil || len(delta) != 2 {
		t.Fatalf("delta = %v, err = %v", delta, err)
	}

	rep, err = r.Run(context.Background(), Options{InputPath: input, Import: true})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Import.Imported != 0 || rep.Import.Skipped != 2 {
		t.Errorf("second import = %+v, want all skipped", rep.Import)
	}
}
