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
		key: "server.port", typ: kInt, env: "VIDSIFT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIDSIFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_url", typ: kString, env: "VIDSIFT_STORAGE_POSTGRES_URL",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresURL },
	},
	{
		key: "media.ffmpeg_path", typ: kString, env: "VIDSIFT_MEDIA_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Media.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.FFmpegPath },
	},
	{
		key: "media.frames_per_second", typ: kInt, env: "VIDSIFT_MEDIA_FRAMES_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Media.FramesPerSecond = v.(int) },
		extract: func(cfg Config) any { return cfg.Media.FramesPerSecond },
	},
	{
		key: "media.max_upload_mb", typ: kInt, env: "VIDSIFT_MEDIA_MAX_UPLOAD_MB",
		apply:   func(cfg *Config, v any) { cfg.Media.MaxUploadMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Media.MaxUploadMB },
	},
	{
		key: "whisper.binary", typ: kString, env: "VIDSIFT_WHISPER_BINARY",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Binary = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Binary },
	},
	{
		key: "whisper.model_path", typ: kString, env: "VIDSIFT_WHISPER_MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Whisper.ModelPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.ModelPath },
	},
	{
		key: "whisper.model_url", typ: kString, env: "VIDSIFT_WHISPER_MODEL_URL",
		apply:   func(cfg *Config, v any) { cfg.Whisper.ModelURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.ModelURL },
	},
	{
		key: "whisper.language", typ: kString, env: "VIDSIFT_WHISPER_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Whisper.Language = v.(string) },
		extract: func(cfg Config) any { return cfg.Whisper.Language },
	},
	{
		key: "scenes.threshold", typ: kFloat, env: "VIDSIFT_SCENES_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Scenes.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Scenes.Threshold },
	},
	{
		key: "scenes.model", typ: kString, env: "VIDSIFT_SCENES_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Scenes.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Scenes.Model },
	},
	{
		key: "scenes.base_url", typ: kString, env: "VIDSIFT_SCENES_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Scenes.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Scenes.BaseURL },
	},
	{
		key: "scenes.api_key", typ: kString, env: "VIDSIFT_SCENES_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Scenes.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Scenes.APIKey },
	},
	{
		key: "embed.runtime_url", typ: kString, env: "VIDSIFT_EMBED_RUNTIME_URL",
		apply:   func(cfg *Config, v any) { cfg.Embed.RuntimeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.RuntimeURL },
	},
	{
		key: "embed.model", typ: kString, env: "VIDSIFT_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embed.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.Model },
	},
	{
		key: "embed.vocab_path", typ: kString, env: "VIDSIFT_EMBED_VOCAB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Embed.VocabPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Embed.VocabPath },
	},
	{
		key: "embed.dim", typ: kInt, env: "VIDSIFT_EMBED_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embed.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embed.Dim },
	},
	{
		key: "jobs.workers", typ: kInt, env: "VIDSIFT_JOBS_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Jobs.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Jobs.Workers },
	},
	{
		key: "jobs.poll_interval", typ: kString, env: "VIDSIFT_JOBS_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Jobs.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Jobs.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "VIDSIFT_LOG_LEVEL",
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
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
