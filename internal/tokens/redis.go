package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rezonia/fiscal-sync/internal/model"
)

const keyPrefix = "fiscal-sync:ledger-token:"

// RedisStore shares tokens between processes
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// ConnectRedis opens a client and pings it
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, rfc string) (model.LedgerToken, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+rfc).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.LedgerToken{}, false, nil
	}
	if err != nil {
		return model.LedgerToken{}, false, fmt.Errorf("failed to read token for %s: %w", rfc, err)
	}

	var tok model.LedgerToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return model.LedgerToken{}, false, fmt.Errorf("failed to decode token for %s: %w", rfc, err)
	}
	return tok, true, nil
}

func (s *RedisStore) Put(ctx context.Context, rfc string, tok model.LedgerToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+rfc, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token for %s: %w", rfc, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, rfc string) error {
	return s.client.Del(ctx, keyPrefix+rfc).Err()
}
