package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/redis/go-redis/v9"
)

// redisStore guarda el par en dos claves escritas en una sola transacción.
type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis conecta y verifica con PING.
func NewRedis(cfg RedisConfig) (Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("tokenstore: redis ping failed: %w", err)
	}
	return NewRedisFromClient(rdb, cfg.Prefix), nil
}

// NewRedisFromClient reutiliza un cliente existente.
func NewRedisFromClient(client *redis.Client, prefix string) Store {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *redisStore) Load(ctx context.Context) (types.TokenPair, error) {
	vals, err := s.client.MGet(ctx, s.key(KeyAccessToken), s.key(KeyRefreshToken)).Result()
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("tokenstore: redis mget: %w", err)
	}
	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	return pairFrom(access, refresh)
}

func (s *redisStore) Save(ctx context.Context, p types.TokenPair) error {
	if err := validate(p); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyAccessToken), p.AccessToken, 0)
		pipe.Set(ctx, s.key(KeyRefreshToken), p.RefreshToken, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("tokenstore: redis save: %w", err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(KeyAccessToken), s.key(KeyRefreshToken)).Err(); err != nil {
		return fmt.Errorf("tokenstore: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
