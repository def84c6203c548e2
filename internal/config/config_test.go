package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: \"9090\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Server.Port)
	}
	if cfg.Store.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.Store.Driver)
	}
	if cfg.Lobby.DurationSeconds != 600 || cfg.Lobby.PointsCorrect != 5 || cfg.Lobby.PointsIncorrect != -2 {
		t.Fatalf("unexpected lobby defaults %+v", cfg.Lobby)
	}
	if cfg.Quiz.Dir != "quizzes" || cfg.AMQP.Exchange != "quiz.events" {
		t.Fatalf("unexpected defaults: quiz dir %q exchange %q", cfg.Quiz.Dir, cfg.AMQP.Exchange)
	}
}

func TestLoadPicksDriverFromBackends(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sqlite:\n  path: quiz.db\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverSQL {
		t.Fatalf("expected sql driver, got %q", cfg.Store.Driver)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("QUIZ_DIR", "/srv/quizzes")
	t.Setenv("TRACING_EXPORTER", "stdout")

	cfg, err := Load(writeConfig(t, "redis:\n  addr: localhost:6379\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "localhost:6380" || cfg.Quiz.Dir != "/srv/quizzes" {
		t.Fatalf("expected env overrides, got redis %q quiz dir %q", cfg.Redis.Addr, cfg.Quiz.Dir)
	}
	if cfg.Tracing.Exporter != "stdout" {
		t.Fatalf("expected tracing exporter from env, got %q", cfg.Tracing.Exporter)
	}
	if cfg.Store.Driver != DriverRedis {
		t.Fatalf("expected redis driver, got %q", cfg.Store.Driver)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown driver":   "store:\n  driver: etcd\n",
		"driver needs url": "store:\n  driver: mongo\n",
		"bad ttl":          "quiz:\n  ttl: soon\n",
		"bad duration":     "lobby:\n  durationSeconds: -5\n",
		"bad yaml":         "server: [\n",
		"unknown exporter": "tracing:\n  exporter: jaeger\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("30s", time.Minute); got != 30*time.Second {
		t.Fatalf("expected 30s, got %v", got)
	}
	if got := TTLDuration("nope", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on parse error, got %v", got)
	}
}
