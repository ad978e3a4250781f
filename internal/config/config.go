package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by Config.Store.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // "" disables the gRPC listener

	Env      string `yaml:"env"`       // "dev" | "prod"
	LogLevel string `yaml:"log_level"` // logrus level name

	// Storage
	Store     string `yaml:"store"`      // "memory" | "sqlite" | "badger"
	DBPath    string `yaml:"db_path"`    // e.g. "./data/corenest.db"
	BadgerDir string `yaml:"badger_dir"` // e.g. "./data/badger"

	// Per-principal request limit on the HTTP API. 0 = unlimited.
	RateLimitRPS   int `yaml:"rate_limit_rps"`
	RateLimitBurst int `yaml:"rate_limit_burst"`

	// Seed a demo record on an empty ledger (dev only).
	SeedDev bool `yaml:"seed_dev"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a key.
func Defaults() Config {
	return Config{
		HTTPAddr:       ":8080",
		GRPCAddr:       ":9090",
		Env:            "dev",
		LogLevel:       "info",
		Store:          StoreSQLite,
		DBPath:         "./data/corenest.db",
		BadgerDir:      "./data/badger",
		RateLimitRPS:   0,
		RateLimitBurst: 0,
	}
}

// Load reads the optional YAML file named by CORENEST_CONFIG, then applies
// environment overrides on top.  A missing or malformed file is an error;
// malformed environment values fall back softly like FromEnv.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CORENEST_CONFIG")); path != "" {
		var err error
		if cfg, err = FromFile(path, cfg); err != nil {
			return Config{}, err
		}
	}
	return applyEnv(cfg), nil
}

// FromEnv builds a Config from defaults and environment variables only.
func FromEnv() Config {
	return applyEnv(Defaults())
}

// FromFile overlays the YAML document at path onto base.  Keys absent from
// the file keep their value from base.
func FromFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return normalize(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.HTTPAddr = getenvDefault("CORENEST_HTTP_ADDR", cfg.HTTPAddr)
	if v, ok := os.LookupEnv("CORENEST_GRPC_ADDR"); ok {
		// Explicitly empty disables gRPC.
		cfg.GRPCAddr = strings.TrimSpace(v)
	}

	cfg.Env = getenvDefault("CORENEST_ENV", cfg.Env)
	cfg.LogLevel = getenvDefault("CORENEST_LOG_LEVEL", cfg.LogLevel)

	cfg.Store = getenvDefault("CORENEST_STORE", cfg.Store)
	cfg.DBPath = getenvDefault("CORENEST_DB_PATH", cfg.DBPath)
	cfg.BadgerDir = getenvDefault("CORENEST_BADGER_DIR", cfg.BadgerDir)

	cfg.RateLimitRPS = getenvInt("CORENEST_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = getenvInt("CORENEST_RATE_LIMIT_BURST", cfg.RateLimitBurst)

	cfg.SeedDev = getenvBool("CORENEST_SEED_DEV", cfg.SeedDev)

	return normalize(cfg)
}

func normalize(cfg Config) Config {
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	switch cfg.Store {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		cfg.Store = StoreSQLite
	}

	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst < 1 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	if cfg.Env != "dev" {
		cfg.SeedDev = false
	}
	return cfg
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}
