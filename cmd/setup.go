package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/jobs/redisq"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"

	// Database backends register themselves with database.Open.
	_ "github.com/kozaktomas/photo-dedup/internal/database/mariadb"
	_ "github.com/kozaktomas/photo-dedup/internal/database/postgres"
	_ "github.com/kozaktomas/photo-dedup/internal/database/sqlite"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openRepository(ctx context.Context, c *config.Config) (database.Repository, error) {
	logger.WithField("driver", c.Database.Driver).Debug("opening repository")
	return database.Open(ctx, &c.Database)
}

// openCacheStore returns the configured signature store and a cleanup
// function. The "none" backend returns a nil store.
func openCacheStore(ctx context.Context, c *config.Config) (sigcache.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Cache.Backend {
	case "none":
		return nil, noop, nil
	case "sqlite":
		store, err := sigcache.OpenSQLiteStore(ctx, c.Cache.Path, c.Cache.TTL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		return sigcache.NewMemoryStore(c.Cache.TTL), noop, nil
	case "xattr":
		return sigcache.NewXattrStore(), noop, nil
	case "redis":
		opts, err := redis.ParseURL(c.CacheRedisURL())
		if err != nil {
			return nil, nil, fmt.Errorf("parse cache redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to cache redis: %w", err)
		}
		return sigcache.NewRedisStore(client, c.Queue.Prefix, c.Cache.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
}

// openTransport connects to Redis when a queue URL is configured and falls
// back to an in-process queue otherwise.
func openTransport(ctx context.Context, c *config.Config, log logrus.FieldLogger) (jobs.Transport, error) {
	if c.Queue.URL == "" {
		return jobs.NewMemoryTransport(constants.DefaultMemoryQueueSize, c.Queue.ClaimIdle), nil
	}
	return redisq.Dial(ctx, c.Queue.URL, redisq.Options{
		Prefix:    c.Queue.Prefix,
		MaxDepth:  int64(c.Queue.MaxDepth),
		Block:     c.Queue.Block,
		ClaimIdle: c.Queue.ClaimIdle,
	}, log)
}

// requireQueue rejects commands that only make sense with a shared broker.
func requireQueue(c *config.Config, command string) error {
	if c.Queue.URL == "" {
		return fmt.Errorf("%s needs a shared queue: set REDIS_URL or queue.url", command)
	}
	return nil
}

func newHasher(c *config.Config) (*fingerprint.Hasher, error) {
	strategy, err := fingerprint.ParseStrategy(c.Hash.Strategy)
	if err != nil {
		return nil, err
	}
	return fingerprint.NewHasher(c.Hash.MatrixSize, fingerprint.WithStrategy(strategy)), nil
}

func newChannel(c *config.Config, transport jobs.Transport, repo database.Repository, log logrus.FieldLogger) *jobs.Channel {
	return jobs.NewChannel(transport, repo, log, jobs.WithRateLimit(c.Queue.SendRate, c.Queue.SendBurst))
}

// outputJSON writes data as indented JSON to stdout.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
