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
		key: "server.port", typ: kInt, env: "ECHOTRAIN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.shutdown_grace", typ: kDuration, env: "ECHOTRAIN_SERVER_SHUTDOWN_GRACE",
		apply:   func(cfg *Config, v any) { cfg.Server.ShutdownGrace = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Server.ShutdownGrace },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ECHOTRAIN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "trainer.base_url", typ: kString, env: "ECHOTRAIN_TRAINER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Trainer.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Trainer.BaseURL },
	},
	{
		key: "trainer.callback_url", typ: kString, env: "ECHOTRAIN_TRAINER_CALLBACK_URL",
		apply:   func(cfg *Config, v any) { cfg.Trainer.CallbackURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Trainer.CallbackURL },
	},
	{
		key: "trainer.token", typ: kString, env: "ECHOTRAIN_TRAINER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Trainer.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Trainer.Token },
	},
	{
		key: "training.inactivity_window", typ: kDuration, env: "ECHOTRAIN_TRAINING_INACTIVITY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Training.InactivityWindow = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.InactivityWindow },
	},
	{
		key: "training.reap_interval", typ: kDuration, env: "ECHOTRAIN_TRAINING_REAP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Training.ReapInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.ReapInterval },
	},
	{
		key: "training.poll_interval", typ: kDuration, env: "ECHOTRAIN_TRAINING_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Training.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.PollInterval },
	},
	{
		key: "training.poll_after", typ: kDuration, env: "ECHOTRAIN_TRAINING_POLL_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Training.PollAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.PollAfter },
	},
	{
		key: "training.dispatch_poll", typ: kDuration, env: "ECHOTRAIN_TRAINING_DISPATCH_POLL",
		apply:   func(cfg *Config, v any) { cfg.Training.DispatchPoll = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.DispatchPoll },
	},
	{
		key: "training.max_retries", typ: kInt, env: "ECHOTRAIN_TRAINING_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Training.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Training.MaxRetries },
	},
	{
		key: "training.initial_backoff", typ: kDuration, env: "ECHOTRAIN_TRAINING_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Training.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Training.InitialBackoff },
	},
	{
		key: "chat.inference_timeout", typ: kDuration, env: "ECHOTRAIN_CHAT_INFERENCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Chat.InferenceTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chat.InferenceTimeout },
	},
	{
		key: "ingest.max_bytes", typ: kInt, env: "ECHOTRAIN_INGEST_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxBytes },
	},
	{
		key: "log.level", typ: kString, env: "ECHOTRAIN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "ECHOTRAIN_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
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
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
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
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
