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

// Command speculator is the process entrypoint: "serve" runs the
// WebSocket/HTTP server described in SPEC_FULL.md, "bench" drives a
// single headless run against the reference collaborators and prints a
// metrics summary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "speculator",
		Short: "Speculative-decoding orchestrator with live event streaming",
		Long: `speculator drafts tokens locally, verifies them against a remote
target model in one call per round, and streams the accept/reject
decisions as a sequence of JSON events for a visualisation client.`,
	}

	AddServeCommand(rootCmd)
	AddBenchCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
