package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Storage struct {
		Driver string `yaml:"driver"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Quiz struct {
		LeaderboardLimit int  `yaml:"leaderboard_limit"`
		AnnounceLock     bool `yaml:"announce_lock"`
		Scoring          struct {
			Correct int `yaml:"correct"`
			Attempt int `yaml:"attempt"`
		} `yaml:"scoring"`
	} `yaml:"quiz"`
	Sessions struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"sessions"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Storage.Driver = DriverMemory
	cfg.Mongo.Database = "classroom"
	cfg.Quiz.LeaderboardLimit = 5
	cfg.Quiz.Scoring.Correct = 10
	cfg.Quiz.Scoring.Attempt = 2
	return cfg
}

// Load reads YAML config from path on top of Default. A missing file is not
// an error. Connection strings may be overridden from the environment
// (REDIS_ADDR, POSTGRES_URL, MONGO_URI, STORAGE_DRIVER, LOG_LEVEL).
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	return cfg, nil
}

// LoadEnv loads a .env file into the process environment. An empty path
// means ./.env, which may be absent.
func LoadEnv(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Postgres.URL, "POSTGRES_URL")
	override(&cfg.Mongo.URI, "MONGO_URI")
	override(&cfg.Storage.Driver, "STORAGE_DRIVER")
	override(&cfg.Log.Level, "LOG_LEVEL")
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
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
