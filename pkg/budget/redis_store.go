package budget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// redisCASScript replaces the stored state only if its version still matches.
// KEYS[1] = budget hash key (e.g. "kora:budget:mand_1")
// ARGV[1] = expected version ("0" when the key must not exist)
// ARGV[2] = new version
// ARGV[3] = encoded state
var redisCASScript = redis.NewScript(`
local key = KEYS[1]
local current = redis.call("HGET", key, "version")
if not current then
    current = "0"
end
if current ~= ARGV[1] then
    return 0
end
redis.call("HSET", key, "version", ARGV[2], "state", ARGV[3])
return 1
`)

// RedisStorage implements Storage on Redis. Each mandate is a hash holding
// its version and JSON-encoded state.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage creates a store that keys budgets as prefix+mandateID.
// An empty prefix defaults to "kora:budget:".
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "kora:budget:"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

// NewRedisStorageFromAddr connects to a single Redis server.
func NewRedisStorageFromAddr(addr, password string, db int) *RedisStorage {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStorage(rdb, "")
}

func (s *RedisStorage) key(mandateID string) string {
	return s.prefix + mandateID
}

func (s *RedisStorage) Load(ctx context.Context, mandateID string) (*State, error) {
	raw, err := s.client.HGet(ctx, s.key(mandateID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis budget load: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("redis budget load: corrupt state: %w", err)
	}
	return &st, nil
}

func (s *RedisStorage) Save(ctx context.Context, st *State) error {
	next := st.Clone()
	next.Version = st.Version + 1
	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("redis budget save: %w", err)
	}

	res, err := redisCASScript.Run(ctx, s.client, []string{s.key(st.MandateID)},
		strconv.FormatInt(st.Version, 10), strconv.FormatInt(next.Version, 10), string(encoded)).Int64()
	if err != nil {
		return fmt.Errorf("redis budget save: %w", err)
	}
	if res != 1 {
		return ErrVersionConflict
	}
	st.Version = next.Version
	return nil
}

func (s *RedisStorage) Delete(ctx context.Context, mandateID string) error {
	if err := s.client.Del(ctx, s.key(mandateID)).Err(); err != nil {
		return fmt.Errorf("redis budget delete: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
