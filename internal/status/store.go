// Package status holds the latest engine callback state for one device
// session. Writes come from engine threads; reads come from the runner's
// control goroutine.
package status

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/maa"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("status key not found")

const (
	KeyTaskChain     = "current_task_chain_status"
	KeyCurrentSanity = "current_sanity"
	KeyMaxSanity     = "max_sanity"
)

// Store is a mutex-guarded key/value map.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	logger *zap.Logger
}

// NewStore creates a store seeded with zero sanity values.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		values: map[string]any{
			KeyCurrentSanity: 0,
			KeyMaxSanity:     0,
		},
		logger: logger,
	}
}

// Set overwrites key.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.logger.Debug("Status updated", zap.String("key", key), zap.Any("value", value))
}

// SetAll overwrites several keys atomically.
func (s *Store) SetAll(values map[string]any) {
	s.mu.Lock()
	for k, v := range values {
		s.values[k] = v
	}
	s.mu.Unlock()
	s.logger.Debug("Status updated", zap.Any("values", values))
}

// Delete removes key if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *Store) Get(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return v, nil
}

func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Snapshot is a consistent view of the session status.
type Snapshot struct {
	// Chain is the latest task-chain event, nil before the first one.
	Chain         *maa.Event
	CurrentSanity int
	MaxSanity     int
}

// ChainKind returns the latest task-chain kind; ok is false when none arrived yet.
func (s Snapshot) ChainKind() (kind maa.Kind, ok bool) {
	if s.Chain == nil {
		return 0, false
	}
	return s.Chain.Kind, true
}

// ChainName is the kind name of the latest task-chain event or "None".
func (s Snapshot) ChainName() string {
	if s.Chain == nil {
		return "None"
	}
	return s.Chain.Kind.String()
}

// Snapshot reads the chain status and sanity values under one lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		CurrentSanity: toInt(s.values[KeyCurrentSanity]),
		MaxSanity:     toInt(s.values[KeyMaxSanity]),
	}
	if ev, ok := s.values[KeyTaskChain].(maa.Event); ok {
		snap.Chain = &ev
	}
	return snap
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	}
	return 0
}
