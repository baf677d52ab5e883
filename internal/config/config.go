package config

import (
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Media   MediaConfig
	Whisper WhisperConfig
	Scenes  ScenesConfig
	Embed   EmbedConfig
	Jobs    JobsConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
	// PostgresURL enables the optional pgvector mirror index when set.
	PostgresURL string
}

type MediaConfig struct {
	FFmpegPath      string
	FramesPerSecond int
	MaxUploadMB     int
}

type WhisperConfig struct {
	Binary    string
	ModelPath string
	ModelURL  string
	Language  string
}

type ScenesConfig struct {
	Threshold float64
	Model     string
	BaseURL   string
	APIKey    string
}

type EmbedConfig struct {
	RuntimeURL string
	Model      string
	VocabPath  string
	Dim        int
}

type JobsConfig struct {
	Workers      int
	PollInterval string
}

type LogConfig struct {
	Level string
}

// PollIntervalDuration parses Jobs.PollInterval, falling back to 500ms on
// bad input.
func (c Config) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Jobs.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Media: MediaConfig{
			FFmpegPath:      "ffmpeg",
			FramesPerSecond: 1,
			MaxUploadMB:     512,
		},
		Whisper: WhisperConfig{
			Binary:    "whisper-cli",
			ModelPath: filepath.Join(dataDir, "models", "ggml-base.en.bin"),
			ModelURL:  "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
			Language:  "en",
		},
		Scenes: ScenesConfig{
			Threshold: 0.7,
			Model:     "gpt-4o-mini",
			BaseURL:   "https://api.openai.com/v1",
		},
		Embed: EmbedConfig{
			RuntimeURL: "http://localhost:8600",
			Model:      "all-MiniLM-L6-v2",
			VocabPath:  filepath.Join(dataDir, "models", "vocab.txt"),
			Dim:        384,
		},
		Jobs: JobsConfig{
			Workers:      2,
			PollInterval: "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/vidsift/config.json, then applies VIDSIFT_* environment
// variable overrides. Secrets are never stored in the file and come from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
