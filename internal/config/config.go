package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	LLM        LLMConfig
	Generation GenerationConfig
	Compaction CompactionConfig
	Dataset    DatasetConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	// StatusPort serves the progress/prefetch observability API.
	// 0 disables the server.
	StatusPort int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

type GenerationConfig struct {
	Concurrency       int
	SleepMs           int
	PrefetchBatches   int
	PrefetchThreshold float64
	AutoRoute         bool
	RouteThreshold    float64
}

type CompactionConfig struct {
	Strategy           string
	ContextLimit       int
	ResponseReserve    int
	TriggerThreshold   float64
	KeepRecentMessages int
}

type DatasetConfig struct {
	BaseURL      string
	ContentField string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "deepseek/deepseek-r1",
			TimeoutSeconds: 300,
		},
		Generation: GenerationConfig{
			Concurrency:       4,
			PrefetchBatches:   2,
			PrefetchThreshold: 0.5,
			RouteThreshold:    0.6,
		},
		Compaction: CompactionConfig{
			Strategy:           "truncate_middle",
			ContextLimit:       128000,
			ResponseReserve:    8192,
			TriggerThreshold:   0.8,
			KeepRecentMessages: 4,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a JSON file at
// $XDG_CONFIG_HOME/synthgen/config.json, then applies SYNTHGEN_*
// environment variables on top. A .env file in the working directory is
// loaded first so it can supply the environment overrides.
func Load() (Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: API key. Set SYNTHGEN_API_KEY (a .env file works too)")
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "synthgen-data"
		}
	}
	return filepath.Join(dir, "synthgen")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "synthgen", "config.json")
}
