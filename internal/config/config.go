// Package config loads chatreader settings. Values are layered: built-in
// defaults, then the JSON config file, then a .env file in the working
// directory, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const appName = "chatreader"

type Config struct {
	Graph   GraphConfig
	LLM     LLMConfig
	Extract ExtractConfig
	Output  OutputConfig
	Server  ServerConfig
	Log     LogConfig
}

type GraphConfig struct {
	Backend  string
	URI      string
	User     string
	Password string
	Database string
	DataDir  string
}

type LLMConfig struct {
	Model       string
	Backend     string
	OllamaURL   string
	LMStudioURL string
	EmbedModel  string
}

type ExtractConfig struct {
	// Command is the extraction program and its leading arguments. Empty
	// means the running binary's extract-concepts subcommand.
	Command string
	Timeout time.Duration
}

type OutputConfig struct {
	DeltaPath string
	HTMLDir   string
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Graph: GraphConfig{
			Backend:  "neo4j",
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Password: "neo4j",
			DataDir:  defaultDataDir(),
		},
		LLM: LLMConfig{
			Model:       "deepseek-r1_0528",
			Backend:     "auto",
			OllamaURL:   "http://localhost:11434",
			LMStudioURL: "http://localhost:1234/v1",
			EmbedModel:  "nomic-embed-text",
		},
		Output: OutputConfig{
			DeltaPath: "hkg-delta.json",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// FilePath is the JSON config file location.
func FilePath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.json")
}

// Load reads the config file, the .env file in the working directory and
// the environment. Secrets are only read from the environment.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(FilePath()))
}

// loadDotEnv exports the variables in path that are not already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("reading %s: %w", path, err)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
