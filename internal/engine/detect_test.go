package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetect_ExplicitBackends(t *testing.T) {
	e, err := Detect(context.Background(), DetectConfig{Backend: BackendOllama, OllamaURL: "http://localhost:11434"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect(ollama) returned %T, want *OllamaEngine", e)
	}

	e, err = Detect(context.Background(), DetectConfig{Backend: BackendLMStudio, LMStudioURL: "http://localhost:1234/v1"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect(lmstudio) returned %T, want *OpenAIEngine", e)
	}
}

func TestDetect_UnknownBackend(t *testing.T) {
	if _, err := Detect(context.Background(), DetectConfig{Backend: "mlx"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestDetect_AutoPrefersOllama(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON())
	}))
	defer ollama.Close()

	e, err := Detect(context.Background(), DetectConfig{Backend: BackendAuto, OllamaURL: ollama.URL, LMStudioURL: "http://127.0.0.1:1/v1"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect(auto) returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_AutoFallsBackToLMStudio(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	lm := newLMStudio(t)

	e, err := Detect(context.Background(), DetectConfig{OllamaURL: down.URL, LMStudioURL: lm.URL + "/v1"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect(auto) returned %T, want *OpenAIEngine", e)
	}
}

func TestDetect_AutoNothingReachable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	if _, err := Detect(context.Background(), DetectConfig{OllamaURL: down.URL, LMStudioURL: down.URL + "/v1"}); err == nil {
		t.Fatal("expected error when no backend is reachable")
	}
}
