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

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func uniqueSessionID(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test_%d", time.Now().UnixNano())
}

func TestInMemory_SaveAndGet(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	id := uniqueSessionID(t)

	summary := Summary{
		SessionID:           id,
		Prompt:              "hello",
		TotalTokens:         42,
		TotalRounds:         7,
		FinalAcceptanceRate: 0.8,
		AverageSpeedup:      1.6,
		GeneratedText:       "hello world",
		CompletedAt:         time.Now(),
	}
	if err := s.Save(ctx, summary); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalTokens != 42 || got.GeneratedText != "hello world" {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestInMemory_GetMissing(t *testing.T) {
	s := NewInMemory()
	_, err := s.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// testRedisAddr mirrors the teacher's session/redis tests: these require
// a live Redis instance at localhost:6379 and are skipped otherwise.
const testRedisAddr = "localhost:6379"

func setupTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	s, err := NewRedisStore(RedisConfig{Addr: testRedisAddr, TTL: 5 * time.Minute})
	if err != nil {
		t.Skipf("skipping: no Redis reachable at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_SaveAndGet(t *testing.T) {
	s := setupTestRedisStore(t)
	ctx := context.Background()
	id := uniqueSessionID(t)

	summary := Summary{SessionID: id, Prompt: "hi", TotalTokens: 3, CompletedAt: time.Now()}
	if err := s.Save(ctx, summary); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalTokens != 3 {
		t.Fatalf("expected total_tokens 3, got %d", got.TotalTokens)
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := setupTestRedisStore(t)
	_, err := s.Get(context.Background(), uniqueSessionID(t))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
