package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Payloads at least this large are stored gzip-compressed.
const compressThreshold = 1024

const (
	markerRaw  byte = 'r'
	markerGzip byte = 'z'
)

// RedisStore is a Store shared between replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisStore(addr, password string, db int, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newRedisStore(client, logger), nil
}

func newRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "delayboard:",
		logger: logger.With("component", "redis_cache"),
	}
}

func (c *RedisStore) Close() error {
	return c.client.Close()
}

func (c *RedisStore) key(k string) string {
	return c.prefix + k
}

func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()

	payload, err := encodePayload(value)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	if err := c.client.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
		return err
	}
	c.logger.Debug("cache set", "key", key, "size_bytes", len(value), "stored_bytes", len(payload), "ttl", ttl, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
		return nil, err
	}

	data, err := decodePayload(val)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	c.logger.Debug("cache get", "key", key, "size_bytes", len(val), "duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

func (c *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func encodePayload(value []byte) ([]byte, error) {
	if len(value) < compressThreshold {
		return append([]byte{markerRaw}, value...), nil
	}
	compressed, err := gzipCompress(value)
	if err != nil {
		return nil, err
	}
	return append([]byte{markerGzip}, compressed...), nil
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case markerRaw:
		return payload[1:], nil
	case markerGzip:
		return gzipDecompress(payload[1:])
	default:
		return nil, fmt.Errorf("unknown payload marker %q", payload[0])
	}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
