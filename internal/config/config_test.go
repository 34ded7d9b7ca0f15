package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"POLL_INTERVAL", "POLL_MAX_DURATION", "GATEWAY_URL", "NATS_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("expected 5s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.PollMaxDuration != 0 {
		t.Errorf("expected unbounded polling by default, got %s", cfg.PollMaxDuration)
	}
	if cfg.NATSURL != "" {
		t.Errorf("expected no NATS by default, got %s", cfg.NATSURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("POLL_MAX_DURATION", "10m")
	t.Setenv("GATEWAY_URL", "https://gateway.example")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.PollInterval != 2*time.Second || cfg.PollMaxDuration != 10*time.Minute {
		t.Errorf("unexpected polling config %s / %s", cfg.PollInterval, cfg.PollMaxDuration)
	}
	if cfg.GatewayURL != "https://gateway.example" {
		t.Errorf("unexpected gateway url %s", cfg.GatewayURL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected invalid int to fall back to 3, got %d", cfg.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.GatewayURL = "gateway"
	cfg.PollInterval = 0
	cfg.JWTSecret = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# gateway
GATEWAY_API_KEY="sk_from_file"
export CALLBACK_URL=https://loja.example/webhook # merchant hook
POLL_INTERVAL='3s'
not a pair
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEWAY_API_KEY", "")
	os.Unsetenv("GATEWAY_API_KEY")
	t.Setenv("CALLBACK_URL", "")
	os.Unsetenv("CALLBACK_URL")
	t.Setenv("POLL_INTERVAL", "1s")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := os.Getenv("GATEWAY_API_KEY"); got != "sk_from_file" {
		t.Errorf("expected quoted value, got %q", got)
	}
	if got := os.Getenv("CALLBACK_URL"); got != "https://loja.example/webhook" {
		t.Errorf("expected comment stripped, got %q", got)
	}
	if got := os.Getenv("POLL_INTERVAL"); got != "1s" {
		t.Errorf("expected existing env to win, got %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("expected missing file to be ignored, got %v", err)
	}
}
