// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store records the terminal summary of each speculation run
// (the values carried on a Done event) under its session ID, the same
// TTL'd-key, JSON-encoded-value shape the teacher uses for its Redis
// session backend, scaled down from a full session service to a single
// write-on-completion / read-by-id registry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Summary is the terminal state of one speculation run, persisted once
// generation completes (spec §4.3 done event, §9 supplemented with a
// session ID for later lookup).
type Summary struct {
	SessionID           string    `json:"session_id"`
	Prompt              string    `json:"prompt"`
	TotalTokens         int       `json:"total_tokens"`
	TotalRounds         int       `json:"total_rounds"`
	FinalAcceptanceRate float64   `json:"final_acceptance_rate"`
	AverageSpeedup      float64   `json:"average_speedup"`
	GeneratedText       string    `json:"generated_text"`
	CompletedAt         time.Time `json:"completed_at"`
}

// ErrNotFound is returned by Get when no summary is stored for a session.
var ErrNotFound = errors.New("session summary not found")

// Store records and retrieves per-session summaries.
type Store interface {
	Save(ctx context.Context, summary Summary) error
	Get(ctx context.Context, sessionID string) (Summary, error)
}

// InMemory is a process-local Store, used when REDIS_ADDR is unset and
// by headless tests.
type InMemory struct {
	mu   sync.Mutex
	data map[string]Summary
}

// NewInMemory creates an empty InMemory store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]Summary)}
}

// Save implements Store.
func (s *InMemory) Save(_ context.Context, summary Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[summary.SessionID] = summary
	return nil
}

// Get implements Store.
func (s *InMemory) Get(_ context.Context, sessionID string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.data[sessionID]
	if !ok {
		return Summary{}, ErrNotFound
	}
	return summary, nil
}

var _ Store = (*InMemory)(nil)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is how long a summary survives. Defaults to 24 hours.
	TTL time.Duration
}

// RedisStore is the production Store, backed by Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies reachability with a Ping,
// matching the teacher's RedisSessionService constructor.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return "speculatoviz:session:" + sessionID
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, summary Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal session summary: %w", err)
	}
	if err := s.client.Set(ctx, s.key(summary.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session summary: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Summary, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Summary{}, ErrNotFound
		}
		return Summary{}, fmt.Errorf("failed to get session summary: %w", err)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return Summary{}, fmt.Errorf("failed to unmarshal session summary: %w", err)
	}
	return summary, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
