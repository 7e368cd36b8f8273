package engine

import (
	"context"
	"fmt"
)

// Backend names accepted by Detect.
const (
	BackendAuto     = "auto"
	BackendOllama   = "ollama"
	BackendLMStudio = "lmstudio"
)

// DetectConfig holds parameters for backend detection.
type DetectConfig struct {
	Backend     string
	OllamaURL   string
	LMStudioURL string
}

// Detect returns the engine named by cfg.Backend. With "auto" (or empty) it
// probes Ollama first, then LM Studio, and fails when neither answers.
// Explicitly named backends are returned without probing.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case BackendOllama:
		return NewOllamaEngine(cfg.OllamaURL), nil
	case BackendLMStudio:
		return NewOpenAIEngine(cfg.LMStudioURL, ""), nil
	case BackendAuto, "":
	default:
		return nil, fmt.Errorf("unknown llm backend %q (want %s, %s or %s)",
			cfg.Backend, BackendAuto, BackendOllama, BackendLMStudio)
	}

	if cfg.OllamaURL != "" {
		if e := NewOllamaEngine(cfg.OllamaURL); e.IsRunning(ctx) {
			return e, nil
		}
	}
	if cfg.LMStudioURL != "" {
		if e := NewOpenAIEngine(cfg.LMStudioURL, ""); e.IsRunning(ctx) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no LLM backend available: Ollama (%s) and LM Studio (%s) are not reachable",
		cfg.OllamaURL, cfg.LMStudioURL)
}
