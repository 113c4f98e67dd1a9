package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.status_port", typ: kInt, env: "SYNTHGEN_STATUS_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.StatusPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.StatusPort },
	},
	{
		key: "llm.api_key", typ: kString, env: "SYNTHGEN_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "SYNTHGEN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "SYNTHGEN_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.timeout_seconds", typ: kInt, env: "SYNTHGEN_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.LLM.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.TimeoutSeconds },
	},
	{
		key: "generation.concurrency", typ: kInt, env: "SYNTHGEN_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Generation.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.Concurrency },
	},
	{
		key: "generation.sleep_ms", typ: kInt, env: "SYNTHGEN_SLEEP_MS",
		apply:   func(cfg *Config, v any) { cfg.Generation.SleepMs = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.SleepMs },
	},
	{
		key: "generation.prefetch_batches", typ: kInt, env: "SYNTHGEN_PREFETCH_BATCHES",
		apply:   func(cfg *Config, v any) { cfg.Generation.PrefetchBatches = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.PrefetchBatches },
	},
	{
		key: "generation.prefetch_threshold", typ: kFloat, env: "SYNTHGEN_PREFETCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Generation.PrefetchThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.PrefetchThreshold },
	},
	{
		key: "generation.auto_route", typ: kBool, env: "SYNTHGEN_AUTO_ROUTE",
		apply:   func(cfg *Config, v any) { cfg.Generation.AutoRoute = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.AutoRoute },
	},
	{
		key: "generation.route_threshold", typ: kFloat, env: "SYNTHGEN_ROUTE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Generation.RouteThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.RouteThreshold },
	},
	{
		key: "compaction.strategy", typ: kString, env: "SYNTHGEN_COMPACTION_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Compaction.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Compaction.Strategy },
	},
	{
		key: "compaction.context_limit", typ: kInt, env: "SYNTHGEN_CONTEXT_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Compaction.ContextLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Compaction.ContextLimit },
	},
	{
		key: "compaction.response_reserve", typ: kInt, env: "SYNTHGEN_RESPONSE_RESERVE",
		apply:   func(cfg *Config, v any) { cfg.Compaction.ResponseReserve = v.(int) },
		extract: func(cfg Config) any { return cfg.Compaction.ResponseReserve },
	},
	{
		key: "compaction.trigger_threshold", typ: kFloat, env: "SYNTHGEN_COMPACTION_TRIGGER",
		apply:   func(cfg *Config, v any) { cfg.Compaction.TriggerThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Compaction.TriggerThreshold },
	},
	{
		key: "compaction.keep_recent_messages", typ: kInt, env: "SYNTHGEN_KEEP_RECENT_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.Compaction.KeepRecentMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.Compaction.KeepRecentMessages },
	},
	{
		key: "dataset.base_url", typ: kString, env: "SYNTHGEN_DATASET_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Dataset.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Dataset.BaseURL },
	},
	{
		key: "dataset.content_field", typ: kString, env: "SYNTHGEN_DATASET_CONTENT_FIELD",
		apply:   func(cfg *Config, v any) { cfg.Dataset.ContentField = v.(string) },
		extract: func(cfg Config) any { return cfg.Dataset.ContentField },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SYNTHGEN_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SYNTHGEN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
