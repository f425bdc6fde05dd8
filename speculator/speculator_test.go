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

package speculator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/speculatoviz/speculator/collaborator/draft"
	"github.com/speculatoviz/speculator/collaborator/target"
	"github.com/speculatoviz/speculator/errkind"
	"github.com/speculatoviz/speculator/events"
)

// wordID and idWord are a tiny word<->id scheme shared by both fakes
// below: token text is always "w" followed by its integer id, so Tokenize
// and Decode round-trip trivially without a real vocabulary.
func wordID(text string) int {
	id, err := strconv.Atoi(strings.TrimPrefix(text, "w"))
	if err != nil {
		return -1
	}
	return id
}

func idWord(id int) string { return "w" + strconv.Itoa(id) }

// fakeDraft returns one scripted []draft.Token slice per call to
// Generate, in order, so a test can pin exactly what gets drafted each
// round.
type fakeDraft struct {
	rounds [][]draft.Token
	calls  int
	err    error
}

func (f *fakeDraft) ApplyChatTemplate(prompt string) []int { return f.Tokenize(prompt) }

func (f *fakeDraft) Tokenize(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, w := range fields {
		ids = append(ids, wordID(w))
	}
	return ids
}

func (f *fakeDraft) Decode(ids []int) string {
	words := make([]string, len(ids))
	for i, id := range ids {
		words[i] = idWord(id)
	}
	return strings.Join(words, " ")
}

func (f *fakeDraft) Generate(ctx context.Context, contextIDs []int, k int, temperature float64) ([]draft.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.rounds) {
		return nil, errors.New("fakeDraft: no more scripted rounds")
	}
	out := f.rounds[f.calls]
	f.calls++
	return out, nil
}

var _ draft.Collaborator = (*fakeDraft)(nil)

// fakeTarget returns one scripted target.Result per call to Verify.
type fakeTarget struct {
	rounds []target.Result
	calls  int
	err    error
}

func (f *fakeTarget) Verify(ctx context.Context, prompt, generatedText string, k int) (target.Result, error) {
	if f.err != nil {
		return target.Result{}, f.err
	}
	if f.calls >= len(f.rounds) {
		return target.Result{}, errors.New("fakeTarget: no more scripted rounds")
	}
	out := f.rounds[f.calls]
	f.calls++
	return out, nil
}

var _ target.Collaborator = (*fakeTarget)(nil)

func tok(id int, logprob float64) draft.Token {
	return draft.Token{ID: id, Text: idWord(id), Logprob: logprob}
}

func pos(id int, logprob float64, topExtra ...int) target.Position {
	top := map[string]float64{idWord(id): logprob}
	for _, extra := range topExtra {
		top[idWord(extra)] = logprob - 1
	}
	return target.Position{Text: idWord(id), TokenLogprob: logprob, TopLogprobs: top}
}

func collectEvents(seq func(func(events.Event) bool)) []events.Event {
	var out []events.Event
	seq(func(e events.Event) bool {
		out = append(out, e)
		return true
	})
	return out
}

func TestGenerate_AllAcceptedPlusBonus(t *testing.T) {
	fd := &fakeDraft{rounds: [][]draft.Token{
		{tok(1, -0.1), tok(2, -0.1)},
	}}
	ft := &fakeTarget{rounds: []target.Result{
		{Positions: []target.Position{pos(1, -0.1), pos(2, -0.1), pos(3, -0.1)}},
	}}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 3, K: 2}))

	var verifyCount, metricsCount int
	var done *events.DoneEvent
	for _, e := range got {
		switch ev := e.(type) {
		case events.VerifyResultEvent:
			verifyCount++
		case events.MetricsEvent:
			metricsCount++
		case events.DoneEvent:
			d := ev
			done = &d
		case events.ErrorEvent:
			t.Fatalf("unexpected error event: %s", ev.Message)
		}
	}
	if verifyCount != 3 {
		t.Fatalf("expected 3 verify_result events (2 accepted + 1 bonus), got %d", verifyCount)
	}
	if metricsCount != 1 {
		t.Fatalf("expected 1 metrics event, got %d", metricsCount)
	}
	if done == nil {
		t.Fatal("expected a terminal done event")
	}
	if done.TotalTokens != 3 {
		t.Fatalf("expected 3 tokens committed (2 accepted + 1 bonus), got %d", done.TotalTokens)
	}
	if done.GeneratedText != "w1 w2 w3" {
		t.Fatalf("expected generated text 'w1 w2 w3', got %q", done.GeneratedText)
	}
}

func TestGenerate_FirstPositionRejectionResamples(t *testing.T) {
	fd := &fakeDraft{rounds: [][]draft.Token{
		{tok(1, -0.1)},
	}}
	ft := &fakeTarget{rounds: []target.Result{
		{Positions: []target.Position{pos(9, -0.1)}}, // draft id 1 absent from top-logprobs -> reject
	}}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 1, K: 1}))

	var verifyEvents []events.VerifyResultEvent
	for _, e := range got {
		if ev, ok := e.(events.VerifyResultEvent); ok {
			verifyEvents = append(verifyEvents, ev)
		}
	}
	if len(verifyEvents) != 1 {
		t.Fatalf("expected exactly 1 verify_result event (rejected folded into resampled), got %d", len(verifyEvents))
	}
	if verifyEvents[0].TokenID != 9 {
		t.Fatalf("expected resampled token id 9, got %d", verifyEvents[0].TokenID)
	}
}

func TestGenerate_StopsAtMaxTokens(t *testing.T) {
	fd := &fakeDraft{rounds: [][]draft.Token{
		{tok(1, -0.1), tok(2, -0.1)},
	}}
	ft := &fakeTarget{rounds: []target.Result{
		{Positions: []target.Position{pos(1, -0.1), pos(2, -0.1)}},
	}}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 2, K: 2}))

	last := got[len(got)-1]
	done, ok := last.(events.DoneEvent)
	if !ok {
		t.Fatalf("expected last event to be done, got %T", last)
	}
	if done.TotalTokens != 2 {
		t.Fatalf("expected exactly 2 tokens produced before stopping, got %d", done.TotalTokens)
	}
	if fd.calls != 1 {
		t.Fatalf("expected exactly 1 draft round before max_tokens cut off further rounds, got %d", fd.calls)
	}
}

func TestGenerate_StopsOnEOS(t *testing.T) {
	const eosID = 5
	fd := &fakeDraft{rounds: [][]draft.Token{
		{tok(eosID, -0.1)},
		{tok(1, -0.1)}, // must never be reached
	}}
	ft := &fakeTarget{rounds: []target.Result{
		{Positions: []target.Position{pos(eosID, -0.1)}},
		{Positions: []target.Position{pos(1, -0.1)}},
	}}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0), EOSTokens: []string{idWord(eosID)}})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 100, K: 1}))

	last := got[len(got)-1]
	done, ok := last.(events.DoneEvent)
	if !ok {
		t.Fatalf("expected last event to be done, got %T", last)
	}
	if done.TotalTokens != 1 {
		t.Fatalf("expected the run to stop right after the EOS token, got %d tokens", done.TotalTokens)
	}
	if fd.calls != 1 {
		t.Fatalf("expected generation to stop after round 1 on EOS, draft was called %d times", fd.calls)
	}
}

func TestGenerate_DraftFailureEmitsErrorEvent(t *testing.T) {
	fd := &fakeDraft{err: errors.New("boom")}
	ft := &fakeTarget{}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 10, K: 1}))

	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal error event, got %d events", len(got))
	}
	errEvent, ok := got[0].(events.ErrorEvent)
	if !ok {
		t.Fatalf("expected an error event, got %T", got[0])
	}
	if !strings.Contains(errEvent.Message, errkind.ErrDraftFailure.Error()) {
		t.Fatalf("expected error message to classify as draft failure, got %q", errEvent.Message)
	}
}

func TestGenerate_TargetFailureEmitsErrorEvent(t *testing.T) {
	fd := &fakeDraft{rounds: [][]draft.Token{{tok(1, -0.1)}}}
	ft := &fakeTarget{err: errors.New("unreachable")}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})
	got := collectEvents(s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 10, K: 1}))

	last := got[len(got)-1]
	errEvent, ok := last.(events.ErrorEvent)
	if !ok {
		t.Fatalf("expected a terminal error event, got %T", last)
	}
	if !strings.Contains(errEvent.Message, errkind.ErrTargetFailure.Error()) {
		t.Fatalf("expected error message to classify as target failure, got %q", errEvent.Message)
	}
}

func TestGenerate_ConsumerStopEndsRunWithoutDone(t *testing.T) {
	fd := &fakeDraft{rounds: [][]draft.Token{
		{tok(1, -0.1), tok(2, -0.1)},
	}}
	ft := &fakeTarget{rounds: []target.Result{
		{Positions: []target.Position{pos(1, -0.1), pos(2, -0.1), pos(3, -0.1)}},
	}}

	s := New(Config{Draft: fd, Target: ft, Rand: fixedRand(0)})

	var seen int
	s.Generate(context.Background(), Request{Prompt: "start", MaxTokens: 10, K: 2})(func(e events.Event) bool {
		seen++
		return false // stop immediately after the first event, like a dead transport
	})
	if seen != 1 {
		t.Fatalf("expected the iterator to stop after exactly 1 event, got %d", seen)
	}
}

// fixedRand always returns the same draw, letting tests pin the
// accept/reject branch deterministically (mirrors sampling's own
// fixedRand helper).
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }
