// Package results keeps processed call results keyed by call identifier.
package results

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"call-assist-go/internal/config"
	"call-assist-go/internal/types"
)

// Store is a process-scoped key-value store of call results.
type Store interface {
	Put(ctx context.Context, callSID string, res types.CallResult) error
	// Get reports found=false when nothing has been stored for callSID yet.
	Get(ctx context.Context, callSID string) (types.CallResult, bool, error)
}

// MemoryStore is safe for concurrent use. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]types.CallResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]types.CallResult)}
}

func (s *MemoryStore) Put(ctx context.Context, callSID string, res types.CallResult) error {
	if callSID == "" {
		return fmt.Errorf("call sid is required")
	}
	res = clone(res)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[callSID] = res
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callSID string) (types.CallResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[callSID]
	if !ok {
		return types.CallResult{}, false, nil
	}
	return clone(res), true, nil
}

// clone detaches the mutable parts of res from the caller.
func clone(res types.CallResult) types.CallResult {
	res.MatchedSubmission = res.MatchedSubmission.Clone()
	if res.Errors != nil {
		res.Errors = append([]types.StageFailure(nil), res.Errors...)
	}
	return res
}

// New builds the store selected by configuration.
func New(cfg config.ResultsConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(rdb, "call_result", cfg.TTL), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported results backend %q", cfg.Backend)
	}
}
