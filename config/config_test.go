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

package config

import (
	"errors"
	"testing"
	"time"

	"github.com/speculatoviz/speculator/errkind"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CEREBRAS_API_KEY", "CEREBRAS_TARGET_MODEL", "CEREBRAS_BASE_URL", "DRAFT_MODEL",
		"SPECULATION_K", "TEMPERATURE", "MAX_TOKENS", "HOST", "PORT",
		"CORS_ORIGINS", "EOS_TOKENS", "DRAFT_PACING_MS", "VERIFY_PACING_MS",
		"METRICS_WINDOW_SIZE", "REDIS_ADDR", "OTEL_EXPORTER_OTLP_ENDPOINT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEREBRAS_API_KEY", "test-key")
	t.Setenv("CEREBRAS_TARGET_MODEL", "gpt-oss-120b")

	s, err := Load()
	if err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
	if s.SpeculationK != 8 {
		t.Fatalf("expected default speculation_k 8, got %d", s.SpeculationK)
	}
	if s.Temperature != 0.7 {
		t.Fatalf("expected default temperature 0.7, got %v", s.Temperature)
	}
	if s.MaxTokens != 512 {
		t.Fatalf("expected default max_tokens 512, got %d", s.MaxTokens)
	}
	if s.DraftPacing != 50*time.Millisecond || s.VerifyPacing != 80*time.Millisecond {
		t.Fatalf("expected default pacing 50ms/80ms, got %v/%v", s.DraftPacing, s.VerifyPacing)
	}
	if len(s.EOSTokens) != 3 {
		t.Fatalf("expected 3 default EOS tokens, got %v", s.EOSTokens)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEREBRAS_TARGET_MODEL", "gpt-oss-120b")

	_, err := Load()
	if !errors.Is(err, errkind.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoad_SpeculationKOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEREBRAS_API_KEY", "k")
	t.Setenv("CEREBRAS_TARGET_MODEL", "m")
	t.Setenv("SPECULATION_K", "17")

	_, err := Load()
	if !errors.Is(err, errkind.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for out-of-range speculation_k, got %v", err)
	}
}

func TestLoad_TemperatureOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEREBRAS_API_KEY", "k")
	t.Setenv("CEREBRAS_TARGET_MODEL", "m")
	t.Setenv("TEMPERATURE", "2.5")

	_, err := Load()
	if !errors.Is(err, errkind.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for out-of-range temperature, got %v", err)
	}
}

func TestLoad_CORSOriginsSplitsOnComma(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEREBRAS_API_KEY", "k")
	t.Setenv("CEREBRAS_TARGET_MODEL", "m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.CORSOrigins) != 2 || s.CORSOrigins[0] != "https://a.example" || s.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("expected 2 trimmed origins, got %v", s.CORSOrigins)
	}
}
