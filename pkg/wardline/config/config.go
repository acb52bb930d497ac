// Package config assembles the engine-wide configuration from YAML files,
// environment variables and the OS keyring.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wardlinehq/wardline/pkg/wardline/agent"
	"github.com/wardlinehq/wardline/pkg/wardline/call"
	"github.com/wardlinehq/wardline/pkg/wardline/memory"
	"github.com/wardlinehq/wardline/pkg/wardline/recordings"
	"github.com/wardlinehq/wardline/pkg/wardline/schedule"
	"github.com/wardlinehq/wardline/pkg/wardline/stt"
	"github.com/wardlinehq/wardline/pkg/wardline/telephony"
	"github.com/wardlinehq/wardline/pkg/wardline/tts"
)

// ---------- Config types ----------

// Config is the top-level configuration for the wardline daemon.
type Config struct {
	Database   DatabaseConfig            `yaml:"database"`
	Logging    LoggingConfig             `yaml:"logging"`
	Server     call.ServerConfig         `yaml:"server"`
	Call       call.Config               `yaml:"call"`
	Dispatcher schedule.DispatcherConfig `yaml:"dispatcher"`
	Telephony  telephony.Config          `yaml:"telephony"`
	STT        stt.Config                `yaml:"stt"`
	TTS        tts.Config                `yaml:"tts"`
	Agent      agent.Config              `yaml:"agent"`
	Embeddings memory.EmbeddingConfig    `yaml:"embeddings"`
	Recordings recordings.Config         `yaml:"recordings"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns a configuration with sensible defaults for every
// subsystem. Values loaded from YAML overlay these.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "wardline.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Server: call.ServerConfig{
			Address:   ":8090",
			PublicURL: "http://localhost:8090",
		},
		Call:       call.DefaultConfig(),
		Dispatcher: schedule.DefaultDispatcherConfig(),
		Telephony:  telephony.Config{},
		STT:        stt.DefaultConfig(),
		TTS:        tts.DefaultConfig(),
		Agent:      agent.DefaultConfig(),
		Embeddings: memory.DefaultEmbeddingConfig(),
		Recordings: recordings.DefaultConfig(),
	}
}

// ---------- Loading ----------

// Load reads a YAML configuration file, overlaying it on DefaultConfig.
// .env files next to the config (and in the working directory) are loaded
// first without overwriting variables already present in the environment.
// A missing config file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	loadEnvFiles(path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			resolveSecrets(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	resolveSecrets(cfg)
	return cfg, nil
}

// loadEnvFiles loads .env from the working directory and from the config
// file's directory. Existing environment variables are never overwritten.
func loadEnvFiles(configPath string) {
	_ = godotenv.Load()
	if dir := filepath.Dir(configPath); dir != "." && dir != "" {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

// resolveSecrets fills credential fields that the YAML left empty.
// Resolution order per secret: keyring, environment variable, config value.
func resolveSecrets(cfg *Config) {
	cfg.Agent.APIKey = resolveSecret(cfg.Agent.APIKey, keyringAgentKey, "WARDLINE_AGENT_API_KEY", "OPENAI_API_KEY")
	cfg.TTS.APIKey = resolveSecret(cfg.TTS.APIKey, keyringTTSKey, "WARDLINE_TTS_API_KEY", "OPENAI_API_KEY")
	cfg.STT.APIKey = resolveSecret(cfg.STT.APIKey, keyringSTTKey, "WARDLINE_STT_API_KEY", "DEEPGRAM_API_KEY")
	cfg.Embeddings.APIKey = resolveSecret(cfg.Embeddings.APIKey, keyringAgentKey, "WARDLINE_AGENT_API_KEY", "OPENAI_API_KEY")
	cfg.Telephony.AccountSID = resolveSecret(cfg.Telephony.AccountSID, "", "TWILIO_ACCOUNT_SID")
	cfg.Telephony.AuthToken = resolveSecret(cfg.Telephony.AuthToken, keyringTelephonyToken, "TWILIO_AUTH_TOKEN")
}

func resolveSecret(current, keyringName string, envVars ...string) string {
	if keyringName != "" {
		if val := GetKeyring(keyringName); val != "" {
			return val
		}
	}
	for _, name := range envVars {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return current
}
