package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream       = "netfixture:exchanges"
	defaultStreamMaxLen = 10000
)

// RedisStream appends exchanges to a capped Redis stream so a test harness
// can follow a fixture run from another process.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream connects to redisURL. Both "redis://host:port/db" URLs and
// bare "host:port" addresses are accepted.
func NewRedisStream(redisURL, password string) (*RedisStream, error) {
	opts, err := redisOptions(redisURL, password)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisStreamWithClient(rdb, DefaultStream), nil
}

func newRedisStreamWithClient(rdb *redis.Client, stream string) *RedisStream {
	return &RedisStream{
		client: rdb,
		stream: stream,
		maxLen: defaultStreamMaxLen,
	}
}

func redisOptions(redisURL, password string) (*redis.Options, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:         redisURL,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}, nil
}

func (r *RedisStream) Record(ctx context.Context, ex Exchange) error {
	if r == nil || r.client == nil {
		return nil
	}
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":          ex.ID,
			"protocol":    string(ex.Protocol),
			"command":     string(ex.Command),
			"peer":        ex.Peer,
			"bytes_in":    ex.BytesIn,
			"bytes_out":   ex.BytesOut,
			"replies":     ex.Replies,
			"error":       ex.Error,
			"started_at":  ex.StartedAt.Format(time.RFC3339Nano),
			"duration_us": ex.Duration.Microseconds(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisStream) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
