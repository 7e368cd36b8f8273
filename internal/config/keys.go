package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "graph.backend", typ: kString, env: "CHATREADER_GRAPH_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Graph.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Backend },
	},
	{
		key: "graph.uri", typ: kString, env: "NEO4J_URI",
		apply:   func(cfg *Config, v any) { cfg.Graph.URI = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.URI },
	},
	{
		key: "graph.user", typ: kString, env: "NEO4J_USER",
		apply:   func(cfg *Config, v any) { cfg.Graph.User = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.User },
	},
	{
		key: "graph.password", typ: kString, env: "NEO4J_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Graph.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Password },
	},
	{
		key: "graph.database", typ: kString, env: "NEO4J_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Graph.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.Database },
	},
	{
		key: "graph.data_dir", typ: kString, env: "CHATREADER_GRAPH_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Graph.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.DataDir },
	},
	{
		key: "llm.model", typ: kString, env: "LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.backend", typ: kString, env: "CHATREADER_LLM_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.LLM.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Backend },
	},
	{
		key: "llm.ollama_url", typ: kString, env: "CHATREADER_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaURL },
	},
	{
		key: "llm.lmstudio_url", typ: kString, env: "CHATREADER_LMSTUDIO_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.LMStudioURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.LMStudioURL },
	},
	{
		key: "llm.embed_model", typ: kString, env: "CHATREADER_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.EmbedModel },
	},
	{
		key: "extract.command", typ: kString, env: "CHATREADER_EXTRACT_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Extract.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Extract.Command },
	},
	{
		key: "extract.timeout", typ: kDuration, env: "CHATREADER_EXTRACT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Extract.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Extract.Timeout },
	},
	{
		key: "output.delta_path", typ: kString, env: "CHATREADER_DELTA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Output.DeltaPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.DeltaPath },
	},
	{
		key: "output.html_dir", typ: kString, env: "CHATREADER_HTML_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.HTMLDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.HTMLDir },
	},
	{
		key: "server.port", typ: kInt, env: "CHATREADER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "CHATREADER_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", typ: kString, env: "CHATREADER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
