package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "appview/pkg/platform/strings"
)

// Config is the full process configuration, grouped by concern.
type Config struct {
	Server    Server
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Identity  IdentityConfig
	Origin    OriginConfig
	Scheduler SchedulerConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	ShutdownTimeout time.Duration
}

// DatabaseConfig points at the Postgres database holding the origin registry and
// the indexer's records table. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the shared identity cache. An empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures publication of index decisions. No brokers means
// decisions are applied to the in-memory index.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

type IdentityConfig struct {
	PLCURL    string
	CacheTTL  time.Duration
	CacheSize int
	Timeout   time.Duration
}

type OriginConfig struct {
	RequestTimeout   time.Duration
	BlobTimeout      time.Duration
	MaxBlobBytes     int64
	MaxAttempts      int
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RateLimit        float64
	RateBurst        int
	UserAgent        string
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	TaskTimeout time.Duration
	Collections []string
}

// FromEnv builds the configuration from environment variables so main stays lean.
// Unset variables fall back to defaults; malformed values are reported.
func FromEnv() (Config, error) {
	e := &envReader{}
	cfg := Config{
		Server: Server{
			Addr:            e.str("APPVIEW_ADDR", ":8080"),
			LogLevel:        e.str("LOG_LEVEL", "info"),
			ShutdownTimeout: e.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.int("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    e.int("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:  e.list("KAFKA_BROKERS"),
			Topic:    e.str("KAFKA_INDEX_TOPIC", "appview.index.decisions"),
			ClientID: e.str("KAFKA_CLIENT_ID", "appview"),
		},
		Identity: IdentityConfig{
			PLCURL:    e.str("PLC_URL", "https://plc.directory"),
			CacheTTL:  e.duration("IDENTITY_CACHE_TTL", time.Hour),
			CacheSize: e.int("IDENTITY_CACHE_SIZE", 100_000),
			Timeout:   e.duration("IDENTITY_TIMEOUT", 10*time.Second),
		},
		Origin: OriginConfig{
			RequestTimeout:   e.duration("ORIGIN_REQUEST_TIMEOUT", 30*time.Second),
			BlobTimeout:      e.duration("ORIGIN_BLOB_TIMEOUT", 2*time.Minute),
			MaxBlobBytes:     e.int64("ORIGIN_MAX_BLOB_BYTES", 50<<20),
			MaxAttempts:      e.int("ORIGIN_MAX_ATTEMPTS", 3),
			BreakerThreshold: e.int("ORIGIN_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  e.duration("ORIGIN_BREAKER_COOLDOWN", 30*time.Second),
			RateLimit:        e.float("ORIGIN_RATE_LIMIT", 10),
			RateBurst:        e.int("ORIGIN_RATE_BURST", 20),
			UserAgent:        e.str("ORIGIN_USER_AGENT", "appview-sync/1.0"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     e.bool("SCHEDULER_ENABLED", true),
			Interval:    e.duration("SCHEDULER_INTERVAL", 5*time.Minute),
			BatchSize:   e.int("SCHEDULER_BATCH_SIZE", 50),
			Concurrency: e.int("SCHEDULER_CONCURRENCY", 8),
			TaskTimeout: e.duration("SCHEDULER_TASK_TIMEOUT", 2*time.Minute),
			Collections: e.list("SCHEDULER_COLLECTIONS"),
		},
	}
	if e.err != nil {
		return Config{}, e.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate rejects combinations the process cannot wire consistently.
func (c Config) validate() error {
	// The records table is fed from the index topic; one without the other
	// splits index reads from index writes.
	hasDB, hasKafka := c.Database.URL != "", len(c.Kafka.Brokers) > 0
	if hasDB != hasKafka {
		return errors.New("DATABASE_URL and KAFKA_BROKERS must be set together")
	}
	return nil
}

// envReader keeps the first parse failure so FromEnv can report it once.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e *envReader) list(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(raw, ","))
}

func (e *envReader) int(key string, def int) int {
	return parse(e, key, def, strconv.Atoi)
}

func (e *envReader) int64(key string, def int64) int64 {
	return parse(e, key, def, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func (e *envReader) float(key string, def float64) float64 {
	return parse(e, key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (e *envReader) bool(key string, def bool) bool {
	return parse(e, key, def, strconv.ParseBool)
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	return parse(e, key, def, time.ParseDuration)
}

func parse[T any](e *envReader, key string, def T, fn func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := fn(raw)
	if err != nil {
		if e.err == nil {
			e.err = fmt.Errorf("config %s=%q: %w", key, raw, err)
		}
		return def
	}
	return v
}
