package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "wardline.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Server.Address != ":8090" {
		t.Errorf("server address = %q", cfg.Server.Address)
	}
	if cfg.STT.Encoding != "mulaw" || cfg.STT.SampleRate != 8000 {
		t.Errorf("stt defaults = %+v", cfg.STT)
	}
	if cfg.TTS.Voice != "nova" {
		t.Errorf("tts voice = %q", cfg.TTS.Voice)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  path: /var/lib/wardline/wardline.db
logging:
  level: debug
server:
  public_url: https://calls.example.com
telephony:
  base_url: https://twilio.internal.example.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/wardline/wardline.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("unset fields should keep defaults, format = %q", cfg.Logging.Format)
	}
	if cfg.Server.PublicURL != "https://calls.example.com" {
		t.Errorf("public url = %q", cfg.Server.PublicURL)
	}
	if cfg.Server.Address != ":8090" {
		t.Errorf("server address should keep default, got %q", cfg.Server.Address)
	}
	if cfg.Telephony.BaseURL != "https://twilio.internal.example.com" {
		t.Errorf("telephony base url = %q", cfg.Telephony.BaseURL)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("WARDLINE_TEST_DB_DIR", "/tmp/warddata")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  path: ${WARDLINE_TEST_DB_DIR}/wardline.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/warddata/wardline.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database: [not a mapping"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveSecretEnvChain(t *testing.T) {
	t.Setenv("WARDLINE_AGENT_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	if got := resolveSecret("from-config", "", "WARDLINE_AGENT_API_KEY", "OPENAI_API_KEY"); got != "from-config" {
		t.Errorf("no env set: got %q, want config value", got)
	}

	t.Setenv("OPENAI_API_KEY", "shared-key")
	if got := resolveSecret("from-config", "", "WARDLINE_AGENT_API_KEY", "OPENAI_API_KEY"); got != "shared-key" {
		t.Errorf("fallback env: got %q", got)
	}

	t.Setenv("WARDLINE_AGENT_API_KEY", "specific-key")
	if got := resolveSecret("from-config", "", "WARDLINE_AGENT_API_KEY", "OPENAI_API_KEY"); got != "specific-key" {
		t.Errorf("specific env should win: got %q", got)
	}
}

func TestResolveSecretsFillsCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEEPGRAM_API_KEY", "dg-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok-test")

	cfg := DefaultConfig()
	resolveSecrets(cfg)

	if cfg.Agent.APIKey != "sk-test" {
		t.Errorf("agent api key = %q", cfg.Agent.APIKey)
	}
	if cfg.TTS.APIKey != "sk-test" {
		t.Errorf("tts api key = %q", cfg.TTS.APIKey)
	}
	if cfg.Embeddings.APIKey != "sk-test" {
		t.Errorf("embeddings api key = %q", cfg.Embeddings.APIKey)
	}
	if cfg.STT.APIKey != "dg-test" {
		t.Errorf("stt api key = %q", cfg.STT.APIKey)
	}
	if cfg.Telephony.AccountSID != "AC123" {
		t.Errorf("account sid = %q", cfg.Telephony.AccountSID)
	}
	if cfg.Telephony.AuthToken != "tok-test" {
		t.Errorf("auth token = %q", cfg.Telephony.AuthToken)
	}
}
