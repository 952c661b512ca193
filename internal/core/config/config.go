// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/fogmap-area/internal/area"
	"github.com/mohammed-shakir/fogmap-area/internal/snapshot"
	"github.com/mohammed-shakir/fogmap-area/pkg/invalidation/kafka"
)

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	RedisAddr  string
	// RedisPoolSize of 0 keeps the client default.
	RedisPoolSize     int
	RedisWriteTimeout time.Duration

	// AreaStrategy is used when a request names none.
	AreaStrategy       string
	AreaParallelShards int
	AreaCacheSize      int
	AreaCacheTTL       time.Duration
	CacheOpTimeout     time.Duration

	// JourneyTTL expires stored journeys; 0 keeps them.
	JourneyTTL          time.Duration
	SnapshotCompression string
	H3Res               int

	UploadMaxBytes int64
	// UploadRate is uploads per second across the service; 0 disables the limit.
	UploadRate  float64
	UploadBurst int

	ShutdownTimeout time.Duration
	Invalidation    kafka.InvalidationConfig
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 || res > 15 {
		res = 7
	}
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		RedisAddr:  getenv("REDIS_ADDR", "localhost:6379"),

		RedisPoolSize:     getint("REDIS_POOL_SIZE", 0),
		RedisWriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 0),

		AreaStrategy:       getenv("AREA_STRATEGY", area.Exact.String()),
		AreaParallelShards: getint("AREA_PARALLEL_SHARDS", 1),
		AreaCacheSize:      getint("AREA_CACHE_SIZE", 4096),
		AreaCacheTTL:       getduration("AREA_CACHE_TTL", 10*time.Minute),
		CacheOpTimeout:     getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),

		JourneyTTL:          getduration("JOURNEY_TTL", 0),
		SnapshotCompression: getenv("SNAPSHOT_COMPRESSION", snapshot.CompressionZstd.String()),
		H3Res:               res,

		UploadMaxBytes: getint64("UPLOAD_MAX_BYTES", 64<<20),
		UploadRate:     getfloat("UPLOAD_RATE", 5),
		UploadBurst:    getint("UPLOAD_BURST", 10),

		ShutdownTimeout: getduration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Invalidation:    kafka.FromEnv(),
	}
}

// Validate parses the enumerated settings so a typo fails at startup.
func (c Config) Validate() error {
	if _, err := area.ParseStrategy(c.AreaStrategy); err != nil {
		return fmt.Errorf("AREA_STRATEGY: %w", err)
	}
	if _, err := snapshot.ParseCompression(c.SnapshotCompression); err != nil {
		return fmt.Errorf("SNAPSHOT_COMPRESSION: %w", err)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes)
	}
	if c.UploadRate < 0 {
		return fmt.Errorf("UPLOAD_RATE must not be negative, got %v", c.UploadRate)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
