package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"waterwatch/pkg/services/flowstate"
)

const DefaultKey = "waterwatch:flow:latest"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the latest state as a JSON value under one key so that
// every API replica serves the same result.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, key: opts.Key}, nil
}

func (r *RedisStore) Save(ctx context.Context, state flowstate.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal flow state: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store flow state: %w", err)
	}
	return nil
}

func (r *RedisStore) Latest(ctx context.Context) (flowstate.State, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return flowstate.State{}, ErrNoState
		}
		return flowstate.State{}, fmt.Errorf("failed to read flow state: %w", err)
	}

	var state flowstate.State
	if err := json.Unmarshal(data, &state); err != nil {
		return flowstate.State{}, fmt.Errorf("failed to decode flow state: %w", err)
	}
	return state, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
