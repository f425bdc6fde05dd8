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

// Package config loads the process-wide settings from the environment,
// the same os.Getenv-plus-defaults shape the teacher uses in its
// context-guard example, extended with the range validation the spec
// requires for the speculation knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speculatoviz/speculator/errkind"
)

// Settings is the full settings surface for a speculator process.
type Settings struct {
	// CerebrasAPIKey and CerebrasTargetModel configure the Target
	// Collaborator's OpenAI-compatible endpoint. CerebrasAPIKey is
	// required; CerebrasTargetModel is required.
	CerebrasAPIKey      string
	CerebrasTargetModel string
	CerebrasBaseURL     string

	// DraftModel names the local draft backend to load. The reference
	// collaborator ignores it; a real MLX/GGUF backend would not.
	DraftModel string

	SpeculationK int
	Temperature  float64
	MaxTokens    int

	Host string
	Port int

	CORSOrigins []string
	EOSTokens   []string

	DraftPacing  time.Duration
	VerifyPacing time.Duration
	WindowSize   int

	RedisAddr string

	OTELEndpoint string
}

// Load reads Settings from the environment and validates the speculation
// knobs' ranges (spec §7 ConfigInvalid), mirroring the bounds the
// original pydantic settings enforced (speculation_k in [1,16],
// temperature in [0,2], max_tokens in [1,4096]).
func Load() (Settings, error) {
	s := Settings{
		CerebrasAPIKey:      os.Getenv("CEREBRAS_API_KEY"),
		CerebrasTargetModel: os.Getenv("CEREBRAS_TARGET_MODEL"),
		CerebrasBaseURL:     getEnvOrDefault("CEREBRAS_BASE_URL", "https://api.cerebras.ai/v1"),
		DraftModel:          getEnvOrDefault("DRAFT_MODEL", "mlx-community/Llama-3.2-3B-Instruct-4bit"),

		SpeculationK: getEnvInt("SPECULATION_K", 8),
		Temperature:  getEnvFloat("TEMPERATURE", 0.7),
		MaxTokens:    getEnvInt("MAX_TOKENS", 512),

		Host: getEnvOrDefault("HOST", "0.0.0.0"),
		Port: getEnvInt("PORT", 8000),

		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
		EOSTokens:   getEnvList("EOS_TOKENS", []string{"<|eot_id|>", "<|end_of_text|>", "</s>"}),

		DraftPacing:  getEnvDuration("DRAFT_PACING_MS", 50*time.Millisecond),
		VerifyPacing: getEnvDuration("VERIFY_PACING_MS", 80*time.Millisecond),
		WindowSize:   getEnvInt("METRICS_WINDOW_SIZE", 50),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		OTELEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.CerebrasAPIKey == "" {
		return fmt.Errorf("%w: CEREBRAS_API_KEY is required", errkind.ErrConfigInvalid)
	}
	if s.CerebrasTargetModel == "" {
		return fmt.Errorf("%w: CEREBRAS_TARGET_MODEL is required", errkind.ErrConfigInvalid)
	}
	if s.SpeculationK < 1 || s.SpeculationK > 16 {
		return fmt.Errorf("%w: SPECULATION_K must be in [1,16], got %d", errkind.ErrConfigInvalid, s.SpeculationK)
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("%w: TEMPERATURE must be in [0,2], got %v", errkind.ErrConfigInvalid, s.Temperature)
	}
	if s.MaxTokens < 1 || s.MaxTokens > 4096 {
		return fmt.Errorf("%w: MAX_TOKENS must be in [1,4096], got %d", errkind.ErrConfigInvalid, s.MaxTokens)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: PORT must be a valid TCP port, got %d", errkind.ErrConfigInvalid, s.Port)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
