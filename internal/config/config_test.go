package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "REQUEST_TIMEOUT_MS", "CORS_ALLOWED_ORIGINS", "DATABASE_DRIVER", "TRANSCRIBE_PROVIDER",
		"DIARY_ENDING_MIN_ASSISTANT_TURNS", "WEEKLY_TIMEZONE", "SESSION_SWEEP_CRON", "DEMO_MODE",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Server.RequestTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Fatalf("expected empty allowlist, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Fatalf("unexpected driver %q", cfg.Database.Driver)
	}
	if cfg.Diary.EndingMinAssistantTurns != 3 {
		t.Fatalf("unexpected threshold %d", cfg.Diary.EndingMinAssistantTurns)
	}
	if cfg.Diary.ClosingPhrase != "ゆっくり休んでね" {
		t.Fatalf("unexpected closing phrase %q", cfg.Diary.ClosingPhrase)
	}
	if cfg.Weekly.Location != time.UTC {
		t.Fatalf("unexpected location %v", cfg.Weekly.Location)
	}
	if cfg.Sweeper.Schedule != "" {
		// SESSION_SWEEP_CRON is set to "" above, which disables the sweeper explicitly.
		t.Fatalf("expected disabled sweeper, got %q", cfg.Sweeper.Schedule)
	}
}

func TestLoadServerConfigVariants(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("REQUEST_TIMEOUT_MS", "1500")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig err: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.RequestTimeout != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout %s", cfg.RequestTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}

	t.Setenv("PORT", "80 80")
	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for port with spaces")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"DATABASE_DRIVER":     "mongo",
		"TRANSCRIBE_PROVIDER": "carrier-pigeon",
		"WEEKLY_TIMEZONE":     "Mars/Olympus",
		"TURN_LOCK_TTL":       "-5s",
		"DEMO_MODE":           "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestPostgresRequiresURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := loadDatabaseConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	if (AIConfig{Model: "m"}).Enabled() {
		t.Fatal("model without credentials should be disabled")
	}
	if !(AIConfig{Model: "m", APIKey: "k"}).Enabled() {
		t.Fatal("api key + model should be enabled")
	}
	if !(AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}).Enabled() {
		t.Fatal("ak/sk + model should be enabled")
	}
}

func TestTranscribeConfigNewTranscriber(t *testing.T) {
	if _, err := (TranscribeConfig{Provider: ProviderDemo}).NewTranscriber(); err != nil {
		t.Fatalf("demo provider err: %v", err)
	}
	if _, err := (TranscribeConfig{Provider: ProviderOpenAI}).NewTranscriber(); err == nil {
		t.Fatal("openai without api key should fail")
	}
	if _, err := (TranscribeConfig{Provider: ProviderVolcengine, AppID: "app"}).NewTranscriber(); err == nil {
		t.Fatal("volcengine without access token should fail")
	}
	if _, err := (TranscribeConfig{Provider: "fax"}).NewTranscriber(); err == nil {
		t.Fatal("unknown provider should fail")
	}
}
