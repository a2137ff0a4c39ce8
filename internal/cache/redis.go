package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared Redis tier
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// RedisTier stores embeddings as little-endian float32 blobs in Redis
type RedisTier struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTier connects to Redis and verifies the connection
func NewRedisTier(ctx context.Context, cfg RedisConfig) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "kai:emb:"
	}
	return &RedisTier{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

// Get fetches an embedding; a missing key is not an error
func (r *RedisTier) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	emb, err := decodeVector(data)
	if err != nil {
		return nil, false, err
	}
	return emb, true, nil
}

// Put stores an embedding with the configured TTL (0 keeps it forever)
func (r *RedisTier) Put(ctx context.Context, key string, embedding []float32) error {
	return r.client.Set(ctx, r.prefix+key, encodeVector(embedding), r.ttl).Err()
}

// Close releases the Redis connection pool
func (r *RedisTier) Close() error {
	return r.client.Close()
}

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
