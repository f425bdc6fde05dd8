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

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/speculatoviz/speculator/collaborator/draft"
)

func TestRunBench_ProducesDoneSummary(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := runBench(cmd, "the quick brown fox", 8, 2, 0); err != nil {
		t.Fatalf("runBench returned error: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "done:") {
		t.Fatalf("expected output to contain a done summary, got: %q", output)
	}
	if !strings.Contains(output, "generated:") {
		t.Fatalf("expected output to contain the generated text, got: %q", output)
	}
}

func TestEchoReferenceTarget_VerifyProducesPositions(t *testing.T) {
	ref := draft.NewReference()
	tgt := echoReferenceTarget{ref: ref}

	result, err := tgt.Verify(context.Background(), "hello world", "", 3)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if len(result.Positions) == 0 {
		t.Fatal("expected at least one verified position")
	}
}
