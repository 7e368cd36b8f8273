package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that e is reachable and that every named model is
// available. Missing models are pulled when the backend supports it, with
// progress written to w; otherwise a missing model is an error.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; please ensure the backend is started")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}
		p, ok := e.(Puller)
		if !ok {
			return fmt.Errorf("model %s is not loaded and the backend cannot pull it", model)
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := p.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}
