// Copyright WorkflowAI Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides in-process storage backends, used for single
// instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

type kvEntry struct {
	value     string
	expiresAt time.Time
}

func (e kvEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// KVStore is an in-memory expiring key-value store.
type KVStore struct {
	mu      sync.Mutex
	entries map[string]kvEntry

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewKVStore creates an empty key-value store.
func NewKVStore() *KVStore {
	return &KVStore{
		entries: make(map[string]kvEntry),
		now:     time.Now,
	}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return "", nil
	}
	return e.value, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *KVStore) Pop(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", nil
	}
	delete(s.entries, key)
	if e.expired(s.now()) {
		return "", nil
	}
	return e.value, nil
}

func (s *KVStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}
