// Package config loads the relay configuration from a TOML file and the
// required credentials from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultPersona         = "sakura"
	DefaultModel           = "gemini-1.5-flash"
	DefaultGenerateTimeout = 60
	DefaultPollTimeout     = 30
	DefaultIdleSleep       = 1
	DefaultBackoff         = 5

	// EnvTelegramToken and EnvGeminiKey name the required credential
	// variables. Both must be set or startup aborts.
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvGeminiKey     = "GEMINI_API_KEY"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Persona    PersonaConfig    `toml:"persona"`
	Generation GenerationConfig `toml:"generation"`
	Poll       PollConfig       `toml:"poll"`
	Session    SessionConfig    `toml:"session"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type PersonaConfig struct {
	// Name selects a built-in preset ("sakura", "naruto") unless Path points
	// at a persona TOML file, in which case Path wins.
	Name string `toml:"name"`
	Path string `toml:"path"`
}

type GenerationConfig struct {
	Model          string `toml:"model" validate:"required"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gt=0"`
}

type PollConfig struct {
	TimeoutSeconds   int `toml:"timeout_seconds" validate:"gt=0"`
	IdleSleepSeconds int `toml:"idle_sleep_seconds" validate:"gt=0"`
	BackoffSeconds   int `toml:"backoff_seconds" validate:"gt=0"`
}

type SessionConfig struct {
	// IdleTTL bounds how long an inactive conversation is kept, e.g. "24h".
	// Empty disables eviction entirely: sessions then live for the process
	// lifetime, matching the relay's historical behavior.
	IdleTTL string `toml:"idle_ttl"`
	// SweepSchedule is a cron expression for the eviction sweep.
	SweepSchedule string `toml:"sweep_schedule"`
}

// Credentials holds the secrets read from the environment.
type Credentials struct {
	TelegramToken string
	GeminiAPIKey  string
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. The returned config is validated.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Persona: PersonaConfig{
			Name: DefaultPersona,
		},
		Generation: GenerationConfig{
			Model:          DefaultModel,
			TimeoutSeconds: DefaultGenerateTimeout,
		},
		Poll: PollConfig{
			TimeoutSeconds:   DefaultPollTimeout,
			IdleSleepSeconds: DefaultIdleSleep,
			BackoffSeconds:   DefaultBackoff,
		},
		Session: SessionConfig{
			SweepSchedule: "@every 10m",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadCredentials reads the required secrets from the environment. Missing
// credentials are startup-fatal.
func LoadCredentials() (Credentials, error) {
	creds := Credentials{
		TelegramToken: strings.TrimSpace(os.Getenv(EnvTelegramToken)),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv(EnvGeminiKey)),
	}
	if creds.TelegramToken == "" || creds.GeminiAPIKey == "" {
		return Credentials{}, fmt.Errorf("%s and %s must be set", EnvTelegramToken, EnvGeminiKey)
	}
	return creds, nil
}
