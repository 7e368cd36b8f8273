// Package api exposes conversions and graph queries to local clients: a
// small JSON HTTP API for the desktop front-end and an MCP server for
// assistants.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/chatreader/internal/graph"
	"github.com/kalambet/chatreader/internal/pipeline"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner starts conversions without queueing them.
type Runner interface {
	TryRun(ctx context.Context, opts pipeline.Options) (pipeline.Report, error)
}

// GraphOpener opens the graph for one read request. The caller closes it.
type GraphOpener func(ctx context.Context) (graph.Graph, error)

// Deps holds what the HTTP and MCP surfaces serve.
type Deps struct {
	Runner    Runner
	OpenGraph GraphOpener
	// Recaller is optional; without it the recall tool is not registered.
	Recaller Recaller
	// Token enables bearer authentication on the HTTP API when set.
	Token string
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/runs", handleRun(deps.Runner))
		r.Get("/watermark", handleWatermark(deps.OpenGraph))
		r.Get("/concepts/{name}/related", handleRelated(deps.OpenGraph))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleRun(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var opts pipeline.Options
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if opts.InputPath == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "input is required")
			return
		}

		rep, err := runner.TryRun(r.Context(), opts)
		if errors.Is(err, pipeline.ErrBusy) {
			httpError(w, http.StatusConflict, "conflict", "%v", err)
			return
		}
		if err != nil {
			slog.Error("run failed", "input", opts.InputPath, "error", err)
			httpError(w, http.StatusUnprocessableEntity, "run_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleWatermark(open GraphOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ts int64
		err := withGraph(r.Context(), open, func(g graph.Graph) (err error) {
			ts, err = g.Watermark(r.Context())
			return err
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "graph_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"last_imported_ts": ts})
	}
}

func handleRelated(open GraphOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// chi matches on RawPath when the request has one, leaving the
		// parameter escaped.
		name := chi.URLParam(r, "name")
		if r.URL.RawPath != "" {
			unescaped, err := url.PathUnescape(name)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid concept name: %v", err)
				return
			}
			name = unescaped
		}
		var rel []graph.Related
		err := withGraph(r.Context(), open, func(g graph.Graph) (err error) {
			rel, err = g.Related(r.Context(), name)
			return err
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "graph_error", "%v", err)
			return
		}
		if rel == nil {
			rel = []graph.Related{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"concept": name, "related": rel})
	}
}

// withGraph opens the graph, runs fn and closes the graph.
func withGraph(ctx context.Context, open GraphOpener, fn func(graph.Graph) error) error {
	g, err := open(ctx)
	if err != nil {
		return err
	}
	ferr := fn(g)
	cerr := g.Close(ctx)
	if ferr != nil {
		return ferr
	}
	return cerr
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
