package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Token.Admin = "0x00000000000000000000000000000000000000Ad"
	cfg.Mode = "server"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRequiresOperatorKeyInFullMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "full"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full mode without an operator key must fail validation")
	}
	if !strings.Contains(err.Error(), "operator") {
		t.Fatalf("error does not mention the operator key: %v", err)
	}

	cfg.Operator.PrivateKey = "deadbeef"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate with key: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"
	cfg.Token.Admin = "not-an-address"
	cfg.Token.Genesis = "yesterday"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "token.admin", "genesis", "redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEVYD_TOKEN_SYMBOL", "TST")
	t.Setenv("LEVYD_SERVER_PORT", "9090")
	t.Setenv("LEVYD_ARCHIVE_ENABLED", "true")
	t.Setenv("LEVYD_ARCHIVE_INTERVAL", "30m")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Token.Symbol != "TST" {
		t.Errorf("symbol = %q, want TST", cfg.Token.Symbol)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive.enabled override not applied")
	}
	if cfg.Archive.Interval.Duration != 30*time.Minute {
		t.Errorf("interval = %v, want 30m", cfg.Archive.Interval.Duration)
	}
}

func TestDurationText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("duration = %v, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Fatal("malformed duration must fail")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.WebhookURLs = []string{"https://hooks.example/secret-token"}

	red := RedactedConfig(&cfg)
	if red.Operator.PrivateKey != "***" || red.Postgres.Password != "***" {
		t.Fatalf("secrets not redacted: %+v", red.Operator)
	}
	if red.Notify.WebhookURLs[0] != "***" {
		t.Fatalf("webhook URL not redacted: %v", red.Notify.WebhookURLs)
	}
	// The original is untouched.
	if cfg.Operator.PrivateKey != "deadbeef" {
		t.Fatal("redaction mutated the source config")
	}
}
