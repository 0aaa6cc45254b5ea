package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Trainer  TrainerConfig
	Training TrainingConfig
	Chat     ChatConfig
	Ingest   IngestConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// ShutdownGrace bounds how long background loops may take to stop.
	ShutdownGrace time.Duration
}

type StorageConfig struct {
	DataDir string
}

type TrainerConfig struct {
	BaseURL string
	// CallbackURL is where the trainer pushes status updates. Empty disables
	// push; the poller still picks up progress.
	CallbackURL string
	// Token is sent to the trainer as a bearer token. Secret.
	Token string
}

type TrainingConfig struct {
	InactivityWindow time.Duration
	ReapInterval     time.Duration
	PollInterval     time.Duration
	// PollAfter is how long a job may stay quiet before the poller asks the
	// trainer for its status.
	PollAfter      time.Duration
	DispatchPoll   time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type ChatConfig struct {
	InferenceTimeout time.Duration
}

type IngestConfig struct {
	MaxBytes int
}

type LogConfig struct {
	Level string
	// File, when set, receives a JSON copy of every log record.
	File string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          4100,
			ShutdownGrace: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Trainer: TrainerConfig{
			BaseURL:     "http://localhost:5005",
			CallbackURL: "http://127.0.0.1:4100/trainer/callback",
		},
		Training: TrainingConfig{
			InactivityWindow: 30 * time.Minute,
			ReapInterval:     time.Minute,
			PollInterval:     30 * time.Second,
			PollAfter:        2 * time.Minute,
			DispatchPoll:     time.Second,
			MaxRetries:       3,
			InitialBackoff:   500 * time.Millisecond,
		},
		Chat: ChatConfig{
			InferenceTimeout: 3 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBytes: 10 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/echotrain/config.json, then applies ECHOTRAIN_*
// environment overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "echotrain-data"
		}
	}
	return filepath.Join(dir, "echotrain")
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
	return filepath.Join(dir, "echotrain", "config.json")
}
