package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQL    = "sql"
	DriverMongo  = "mongo"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver" validate:"omitempty,oneof=memory redis sql mongo"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Quiz struct {
		Dir string `yaml:"dir"`
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Tracing struct {
		Exporter string `yaml:"exporter" validate:"omitempty,oneof=none stdout"`
	} `yaml:"tracing"`
	Lobby struct {
		DurationSeconds int `yaml:"durationSeconds" validate:"gt=0,lte=86400"`
		PointsCorrect   int `yaml:"pointsCorrect" validate:"gt=0"`
		PointsIncorrect int `yaml:"pointsIncorrect" validate:"lte=0"`
	} `yaml:"lobby"`
}

// Load reads .env (if present) into the environment, then the YAML config
// at path, then applies environment overrides and defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"STORE_DRIVER", &c.Store.Driver},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"REDIS_PASSWORD", &c.Redis.Password},
		{"POSTGRES_URL", &c.Postgres.URL},
		{"SQLITE_PATH", &c.SQLite.Path},
		{"MONGO_URI", &c.Mongo.URI},
		{"MONGO_DATABASE", &c.Mongo.Database},
		{"AMQP_URL", &c.AMQP.URL},
		{"QUIZ_DIR", &c.Quiz.Dir},
		{"TRACING_EXPORTER", &c.Tracing.Exporter},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

// Defaults fills settings left empty. Without an explicit driver the store
// follows the configured backends: Redis, then SQL, else memory.
func (c *Config) Defaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Store.Driver == "" {
		switch {
		case c.Redis.Addr != "":
			c.Store.Driver = DriverRedis
		case c.Postgres.URL != "" || c.SQLite.Path != "":
			c.Store.Driver = DriverSQL
		default:
			c.Store.Driver = DriverMemory
		}
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "time_attack_quiz"
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "quiz.events"
	}
	if c.Quiz.Dir == "" {
		c.Quiz.Dir = "quizzes"
	}
	if c.Lobby.DurationSeconds == 0 {
		c.Lobby.DurationSeconds = 600
	}
	if c.Lobby.PointsCorrect == 0 {
		c.Lobby.PointsCorrect = 5
	}
	if c.Lobby.PointsIncorrect == 0 {
		c.Lobby.PointsIncorrect = -2
	}
}

// Validate checks field ranges and that the chosen driver has a backend.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Driver {
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("invalid config: store driver redis needs redis.addr")
		}
	case DriverSQL:
		if c.Postgres.URL == "" && c.SQLite.Path == "" {
			return fmt.Errorf("invalid config: store driver sql needs postgres.url or sqlite.path")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("invalid config: store driver mongo needs mongo.uri")
		}
	}
	for _, raw := range []string{c.Redis.TTL, c.Quiz.TTL} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid config: ttl %q: %w", raw, err)
		}
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
