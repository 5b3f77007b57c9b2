package app

import (
	"testing"
	"time"
)

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"HTTP_ADDR":        "ESTATE_HTTP_ADDR",
		"ESTATE_HTTP_ADDR": "ESTATE_HTTP_ADDR",
		" log_level ":      "ESTATE_LOG_LEVEL",
		"estate_redis_url": "ESTATE_REDIS_URL",
	}
	for in, want := range cases {
		if got := EnvKey(in); got != want {
			t.Fatalf("EnvKey(%q)=%q want %q", in, got, want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ESTATE_HTTP_ADDR", "  127.0.0.1:9000 ")
	t.Setenv("ESTATE_LOG_COMPRESS", "false")
	t.Setenv("ESTATE_LOG_MAX_BACKUPS", "-3")
	t.Setenv("ESTATE_DB_MIN_CONNS", "0")
	t.Setenv("ESTATE_SHUTDOWN_TIMEOUT", "soon")
	t.Setenv("ESTATE_HTTP_READ_TIMEOUT", "3s")

	if got := EnvString("HTTP_ADDR", "x"); got != "127.0.0.1:9000" {
		t.Fatalf("EnvString: %q", got)
	}
	if got := EnvString("UNSET_FOR_TEST", "dflt"); got != "dflt" {
		t.Fatalf("EnvString default: %q", got)
	}
	if EnvBool("LOG_COMPRESS", true) {
		t.Fatalf("EnvBool: expected false")
	}
	if got := EnvInt("LOG_MAX_BACKUPS", 7); got != 7 {
		t.Fatalf("EnvInt must reject non-positive values, got %d", got)
	}
	if got := EnvInt32("DB_MIN_CONNS", 4); got != 0 {
		t.Fatalf("EnvInt32 must accept zero, got %d", got)
	}
	if got := EnvDuration("SHUTDOWN_TIMEOUT", time.Second); got != time.Second {
		t.Fatalf("EnvDuration must fall back on junk, got %v", got)
	}
	if got := EnvDuration("HTTP_READ_TIMEOUT", time.Second); got != 3*time.Second {
		t.Fatalf("EnvDuration: %v", got)
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.LogFile.Compress || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("LoadConfig did not read prefixed names: %+v", cfg)
	}
}
