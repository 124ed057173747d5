package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// FileEnv names the environment variable pointing at an optional YAML config file.
const FileEnv = "PHOTO_DEDUP_CONFIG"

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Hash     HashConfig     `yaml:"hash"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`         // sqlite, postgres or mariadb
	URL          string `yaml:"url"`            // DSN or file path for sqlite
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type QueueConfig struct {
	URL       string        `yaml:"url"`        // Redis URL; empty means in-process queue
	Prefix    string        `yaml:"prefix"`     // stream name prefix
	MaxDepth  int           `yaml:"max_depth"`  // request backlog at which Send blocks
	SendRate  float64       `yaml:"send_rate"`  // requests per second, 0 = unlimited
	SendBurst int           `yaml:"send_burst"` // limiter burst
	Block     time.Duration `yaml:"block"`      // receive poll interval
	ClaimIdle time.Duration `yaml:"claim_idle"` // redelivery timeout for unacked messages
}

type CacheConfig struct {
	Backend  string        `yaml:"backend"`   // sqlite, memory, xattr, redis or none
	TTL      time.Duration `yaml:"ttl"`       // signature lifetime for sqlite, memory and redis
	Path     string        `yaml:"path"`      // side file for the sqlite backend
	RedisURL string        `yaml:"redis_url"` // defaults to Queue.URL
}

type HashConfig struct {
	MatrixSize int    `yaml:"matrix_size"` // DCT matrix side (default 8)
	Threshold  int    `yaml:"threshold"`   // duplicate Hamming distance (default 4)
	Strategy   string `yaml:"strategy"`    // sequential or parallel
}

type PipelineConfig struct {
	Concurrency       int `yaml:"concurrency"`        // files processed in parallel
	LocalWorkers      int `yaml:"local_workers"`      // local hashing budget, 0 = offload to workers
	WorkerConcurrency int `yaml:"worker_concurrency"` // jobs per remote worker process
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

type LogConfig struct {
	Level  string `yaml:"level"`  // logrus level name
	Format string `yaml:"format"` // text or json
}

// Addr returns host:port for the HTTP listener.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Remote reports whether hashing is offloaded to workers.
func (c *PipelineConfig) Remote() bool {
	return c.LocalWorkers == 0
}

// CacheRedisURL returns the Redis URL used by the redis cache backend.
func (c *Config) CacheRedisURL() string {
	if c.Cache.RedisURL != "" {
		return c.Cache.RedisURL
	}
	return c.Queue.URL
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			URL:          "photo-dedup.db",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Queue: QueueConfig{
			Prefix:    constants.DefaultQueuePrefix,
			MaxDepth:  constants.DefaultQueueMaxDepth,
			SendBurst: 1,
			Block:     constants.DefaultQueueBlock,
			ClaimIdle: constants.DefaultClaimIdle,
		},
		Cache: CacheConfig{
			Backend: "sqlite",
			TTL:     constants.DefaultCacheTTL,
			Path:    constants.DefaultCachePath,
		},
		Hash: HashConfig{
			MatrixSize: constants.DefaultMatrixSize,
			Threshold:  constants.DefaultDuplicateThreshold,
			Strategy:   "sequential",
		},
		Pipeline: PipelineConfig{
			Concurrency:       constants.DefaultConcurrency,
			LocalWorkers:      constants.DefaultConcurrency,
			WorkerConcurrency: constants.DefaultWorkerConcurrency,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envCount is envInt but also accepts zero.
func envCount(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList reads a comma-separated list, ignoring empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML config file, then applies environment overrides.
// An empty path falls back to $PHOTO_DEDUP_CONFIG and then to Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(FileEnv)
	}
	if path == "" {
		return Load(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = envString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.Queue.URL = envString("REDIS_URL", c.Queue.URL)
	c.Queue.Prefix = envString("QUEUE_PREFIX", c.Queue.Prefix)
	c.Queue.MaxDepth = envCount("QUEUE_MAX_DEPTH", c.Queue.MaxDepth)
	c.Queue.SendRate = envFloat("QUEUE_SEND_RATE", c.Queue.SendRate)
	c.Queue.SendBurst = envInt("QUEUE_SEND_BURST", c.Queue.SendBurst)
	c.Queue.Block = envDuration("QUEUE_BLOCK", c.Queue.Block)
	c.Queue.ClaimIdle = envDuration("QUEUE_CLAIM_IDLE", c.Queue.ClaimIdle)

	c.Cache.Backend = envString("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = envDuration("CACHE_TTL", c.Cache.TTL)
	c.Cache.Path = envString("CACHE_PATH", c.Cache.Path)
	c.Cache.RedisURL = envString("CACHE_REDIS_URL", c.Cache.RedisURL)

	c.Hash.MatrixSize = envInt("HASH_MATRIX_SIZE", c.Hash.MatrixSize)
	c.Hash.Threshold = envCount("HASH_THRESHOLD", c.Hash.Threshold)
	c.Hash.Strategy = envString("HASH_STRATEGY", c.Hash.Strategy)

	c.Pipeline.Concurrency = envInt("PIPELINE_CONCURRENCY", c.Pipeline.Concurrency)
	c.Pipeline.LocalWorkers = envCount("PIPELINE_LOCAL_WORKERS", c.Pipeline.LocalWorkers)
	c.Pipeline.WorkerConcurrency = envInt("WORKER_CONCURRENCY", c.Pipeline.WorkerConcurrency)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", c.Web.AllowedOrigins)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres", "mariadb":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url: required"))
	}

	switch c.Cache.Backend {
	case "memory", "xattr", "none":
	case "sqlite":
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path: required for sqlite cache backend"))
		}
	case "redis":
		if c.CacheRedisURL() == "" {
			errs = append(errs, errors.New("cache.redis_url: required for redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}

	if c.Hash.MatrixSize < 2 {
		errs = append(errs, fmt.Errorf("hash.matrix_size: must be at least 2, got %d", c.Hash.MatrixSize))
	}
	if c.Hash.Threshold < 0 || c.Hash.Threshold > constants.MaxThreshold {
		errs = append(errs, fmt.Errorf("hash.threshold: must be in [0, %d], got %d", constants.MaxThreshold, c.Hash.Threshold))
	}
	switch c.Hash.Strategy {
	case "", "sequential", "cpu", "parallel":
	default:
		errs = append(errs, fmt.Errorf("hash.strategy: unknown strategy %q", c.Hash.Strategy))
	}

	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, errors.New("pipeline.concurrency: must be positive"))
	}
	if c.Pipeline.LocalWorkers < 0 {
		errs = append(errs, errors.New("pipeline.local_workers: must not be negative"))
	}

	return errors.Join(errs...)
}
