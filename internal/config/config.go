package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseURL string

	NATSURL           string // empty disables publishing
	NATSSubjectPrefix string
	LogNATSSubjects   bool

	TickInterval    time.Duration
	SimDelta        time.Duration
	RefreshInterval time.Duration
	Seed            int64
	Weather         string // label, or "random"
	TimeOfDay       string // pinned regime, empty follows the clock
	Location        *time.Location

	HTTPAddr    string
	CORSOrigins []string
	MetricsAddr string

	RedisAddr     string // empty disables the cache
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	LogLevel  log.Level
	LogFormat string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("DATABASE_URL or PGDATABASE must be set (use sqlite://path for a local file)")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "buses")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	var err error
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL_MS", time.Millisecond, 3000, false); err != nil {
		return nil, err
	}
	if cfg.SimDelta, err = durationEnv("SIM_DELTA_MS", time.Millisecond, 5000, false); err != nil {
		return nil, err
	}
	// 0 disables periodic reloads
	if cfg.RefreshInterval, err = durationEnv("REFRESH_INTERVAL_SEC", time.Second, 300, true); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL_SEC", time.Second, 300, false); err != nil {
		return nil, err
	}

	if v := os.Getenv("SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEED: %q", v)
		}
		cfg.Seed = seed
	}

	cfg.Weather = strings.ToLower(getenvDefault("WEATHER", "random"))
	cfg.TimeOfDay = strings.TrimSpace(os.Getenv("TIME_OF_DAY"))

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.CORSOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}

	level, err := log.ParseLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %v", err)
	}
	cfg.LogLevel = level
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "text"))

	return cfg, nil
}

// ConfigureLogging applies the level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	log.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// durationEnv reads a positive integer count of unit from key.
func durationEnv(key string, unit time.Duration, def int, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * unit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || (n == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * unit, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
