package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/scythe504/poison-grid/internal"
	"github.com/scythe504/poison-grid/internal/store"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
)

type Config struct {
	Port int

	StoreBackend    string
	NotifierBackend string
	RedisURL        string
	DatabaseURL     string
	SQLitePath      string

	LogFile  string
	LogLevel string

	RoomCapacity  int
	Retention     store.Retention
	WriteAttempts int
	SweepInterval time.Duration
}

// Load reads .env (if present) into the environment and then the
// environment into a Config. Variables already set win over .env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	retention := store.DefaultRetention()

	cfg := Config{
		Port:            p.integer("PORT", 8080),
		StoreBackend:    p.str("STORE_BACKEND", BackendMemory),
		NotifierBackend: p.str("NOTIFIER_BACKEND", ""),
		RedisURL:        p.str("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:     p.str("DATABASE_URL", ""),
		SQLitePath:      p.str("SQLITE_PATH", "data/rooms.db"),
		LogFile:         p.str("LOG_FILE", ""),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		RoomCapacity:    p.integer("ROOM_CAPACITY", internal.MaxPlayersPerRoom),
		Retention: store.Retention{
			Active: p.duration("RETENTION_ACTIVE", retention.Active),
			Idle:   p.duration("RETENTION_IDLE", retention.Idle),
		},
		WriteAttempts: p.integer("WRITE_ATTEMPTS", store.DefaultWriteAttempts),
		SweepInterval: p.duration("SWEEP_INTERVAL", time.Minute),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if cfg.NotifierBackend == "" {
		cfg.NotifierBackend = defaultNotifier(cfg.StoreBackend)
	}
	return cfg, cfg.validate()
}

// The notifier follows the store unless set: Redis and Postgres carry
// their own bus, the rest stay in-process.
func defaultNotifier(storeBackend string) string {
	switch storeBackend {
	case BackendRedis, BackendPostgres:
		return storeBackend
	default:
		return BackendLocal
	}
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("config: STORE_BACKEND %q is not one of memory, redis, postgres, sqlite", c.StoreBackend)
	}
	switch c.NotifierBackend {
	case BackendLocal, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("config: NOTIFIER_BACKEND %q is not one of local, redis, postgres", c.NotifierBackend)
	}
	if (c.StoreBackend == BackendPostgres || c.NotifierBackend == BackendPostgres) && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL is required for the postgres backend")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.RoomCapacity < internal.MinPlayersToStart {
		return fmt.Errorf("config: ROOM_CAPACITY must be at least %d", internal.MinPlayersToStart)
	}
	if c.Retention.Active <= 0 || c.Retention.Idle <= 0 {
		return errors.New("config: retention durations must be positive")
	}
	if c.WriteAttempts < 1 {
		return errors.New("config: WRITE_ATTEMPTS must be at least 1")
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
	return d
}
