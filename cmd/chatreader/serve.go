package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatreader/internal/api"
	"github.com/kalambet/chatreader/internal/config"
	"github.com/kalambet/chatreader/internal/engine"
	"github.com/kalambet/chatreader/internal/pipeline"
	"github.com/kalambet/chatreader/internal/vectors"
)

func newServeCmd() *cobra.Command {
	var mcpStdio bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API and MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, mcpStdio)
		},
	}
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", true, "also serve MCP tools on stdin/stdout")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config, mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "chatreader version %s\n", version)

	runner, err := newRunner(cfg, "", pipeline.WithNotifier(logNotifier{}))
	if err != nil {
		return err
	}
	deps := api.Deps{
		Runner:    runner,
		OpenGraph: graphOpener(cfg),
		Token:     cfg.Server.Token,
	}

	// Model readiness is advisory.
	if eng, err := detectEngine(ctx, cfg); err != nil {
		slog.Warn("no LLM backend detected; extraction and recall will fail until one is running", "error", err)
	} else {
		if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.LLM.Model, cfg.LLM.EmbedModel); err != nil {
			slog.Warn("models not ready", "error", err)
		}
		store, err := vectors.Open(cfg.Graph.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Recaller = vectors.NewIngester(store, eng, cfg.LLM.EmbedModel, nil)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chatreader listening", "addr", addr, "auth", cfg.Server.Token != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mcpStdio {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shut down")
	return err
}

// logNotifier records run outcomes in the server log.
type logNotifier struct{}

func (logNotifier) Notify(title, body string) {
	slog.Info(title, "detail", body)
}
