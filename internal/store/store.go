// Package store persists the agent's small key/value state: session id,
// client id, environment, the authenticated connection url and the config
// keys a remote override touched.
package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

const (
	KeySessionID          = "session_id"
	KeyClientID           = "client_id"
	KeyEnvironment        = "environment"
	KeyConnectionURL      = "connection_url"
	KeyModifiedConfigKeys = "modified_config_keys"
)

var (
	ErrMissingKey = errors.New("store: missing key")
)

// Store is a string key/value store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	Keys(prefix string) []string
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[strings.TrimSpace(key)]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Keys lists stored keys with the given prefix in sorted order.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.values, prefix)
}

func sortedKeys(values map[string]string, prefix string) []string {
	prefix = strings.TrimSpace(prefix)
	keys := make([]string, 0, len(values))
	for k := range values {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// GetList reads a comma-separated list value.
func GetList(s Store, key string) []string {
	raw, ok := s.Get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SetList stores values as a sorted, de-duplicated comma-separated list.
// An empty list deletes the key.
func SetList(s Store, key string, values []string) error {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return s.Delete(key)
	}
	sort.Strings(out)
	return s.Set(key, strings.Join(out, ","))
}
