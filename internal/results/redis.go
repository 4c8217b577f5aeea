package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"call-assist-go/internal/types"
)

// RedisStore keeps results as JSON values so several API replicas can share them.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore prefixes keys with keyPrefix and a colon. TTL of 0 means no expiration.
func NewRedisStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisStore) key(callSID string) string {
	if s.keyPrefix == "" {
		return callSID
	}
	return s.keyPrefix + ":" + callSID
}

func (s *RedisStore) Put(ctx context.Context, callSID string, res types.CallResult) error {
	if callSID == "" {
		return fmt.Errorf("call sid is required")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result %q: %w", callSID, err)
	}
	if err := s.client.Set(ctx, s.key(callSID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save result %q: %w", callSID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, callSID string) (types.CallResult, bool, error) {
	raw, err := s.client.Get(ctx, s.key(callSID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.CallResult{}, false, nil
	}
	if err != nil {
		return types.CallResult{}, false, fmt.Errorf("load result %q: %w", callSID, err)
	}

	var res types.CallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.CallResult{}, false, fmt.Errorf("unmarshal result %q: %w", callSID, err)
	}
	return res, true, nil
}
