// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "bare object",
			raw:  `{"sufficient": true}`,
			want: `{"sufficient": true}`,
		},
		{
			name: "bare array",
			raw:  `[{"id": 1}, {"id": 2}]`,
			want: `[{"id": 1}, {"id": 2}]`,
		},
		{
			name: "surrounding whitespace",
			raw:  "\n\t  {\"ok\": 1}  \n",
			want: `{"ok": 1}`,
		},
		{
			name: "fenced with language tag",
			raw:  "```json\n{\"score\": 7.5}\n```",
			want: `{"score": 7.5}`,
		},
		{
			name: "fenced without language tag",
			raw:  "```\n{\"score\": 7.5}\n```",
			want: `{"score": 7.5}`,
		},
		{
			name: "prose around fence",
			raw:  "Here is my analysis:\n```json\n{\"verdict\": \"keep\"}\n```\nLet me know if you need more.",
			want: `{"verdict": "keep"}`,
		},
		{
			name: "first fence invalid, second valid",
			raw:  "```json\nnot json at all\n```\n```json\n{\"n\": 2}\n```",
			want: `{"n": 2}`,
		},
		{
			name: "no json present",
			raw:  "I could not produce a structured answer.",
			want: "",
		},
		{
			name: "empty string",
			raw:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.raw)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("ExtractJSON(%q) = %s, want nil", tt.raw, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("ExtractJSON(%q) = nil, want %q", tt.raw, tt.want)
			}
			var a, b any
			if err := json.Unmarshal(got, &a); err != nil {
				t.Fatalf("extracted payload is not valid JSON: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &b); err != nil {
				t.Fatalf("bad want fixture: %v", err)
			}
			gotNorm, _ := json.Marshal(a)
			wantNorm, _ := json.Marshal(b)
			if string(gotNorm) != string(wantNorm) {
				t.Fatalf("ExtractJSON(%q) = %s, want %s", tt.raw, gotNorm, wantNorm)
			}
		})
	}
}

func TestNewResponseRejectsEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t\n"} {
		if _, err := newResponse(raw); !errors.Is(err, ErrEmptyResponse) {
			t.Fatalf("newResponse(%q) error = %v, want ErrEmptyResponse", raw, err)
		}
	}
}

func TestNewResponseKeepsRawWhenUnparseable(t *testing.T) {
	resp, err := newResponse("no structure here")
	if err != nil {
		t.Fatalf("newResponse: %v", err)
	}
	if resp.Parsed != nil {
		t.Fatalf("Parsed = %s, want nil", resp.Parsed)
	}
	if resp.Raw != "no structure here" {
		t.Fatalf("Raw = %q", resp.Raw)
	}
}

func TestScriptedConsumesInOrder(t *testing.T) {
	s := NewScripted(`{"a": 1}`, `{"b": 2}`)

	ctx := context.Background()
	first, err := s.GenerateJSON(ctx, Request{Model: "m1", Prompt: "one"})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := s.GenerateJSON(ctx, Request{Model: "m2", Prompt: "two"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(first.Parsed) != `{"a": 1}` || string(second.Parsed) != `{"b": 2}` {
		t.Fatalf("responses out of order: %s, %s", first.Parsed, second.Parsed)
	}

	calls := s.Calls()
	if len(calls) != 2 || calls[0].Prompt != "one" || calls[1].Prompt != "two" {
		t.Fatalf("recorded calls = %+v", calls)
	}

	if _, err := s.GenerateJSON(ctx, Request{Prompt: "three"}); err == nil {
		t.Fatal("expected exhaustion error on third call")
	}
}

func TestScriptedEmbedDeterministic(t *testing.T) {
	s := NewScripted()
	ctx := context.Background()

	a, err := s.Embed(ctx, "strategy alpha")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := s.Embed(ctx, "strategy alpha")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	c, err := s.Embed(ctx, "strategy beta")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if len(a) != 8 {
		t.Fatalf("dimension = %d, want 8", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text produced different vectors at %d: %v vs %v", i, a[i], b[i])
		}
		if a[i] < 0 || a[i] > 1 {
			t.Fatalf("component %d out of range: %v", i, a[i])
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical vectors")
	}

	if got := s.EmbedCalls(); len(got) != 3 {
		t.Fatalf("recorded %d embed calls, want 3", len(got))
	}
}

func TestScriptedQueuedEmbeddingWins(t *testing.T) {
	s := NewScripted()
	s.QueueEmbedding([]float64{1, 2, 3})

	vec, err := s.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 || vec[2] != 3 {
		t.Fatalf("vec = %v, want [1 2 3]", vec)
	}
}

func TestFallbackFailsOver(t *testing.T) {
	primary := NewScripted()
	primary.GenerateErr = fmt.Errorf("upstream 500")
	secondary := NewScripted(`{"rescued": true}`)

	f := NewFallback(primary, secondary)
	resp, err := f.GenerateJSON(context.Background(), Request{Prompt: "q"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(resp.Parsed) != `{"rescued": true}` {
		t.Fatalf("Parsed = %s", resp.Parsed)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Fatalf("call counts: primary=%d secondary=%d", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestFallbackAllProvidersFail(t *testing.T) {
	a := NewScripted()
	a.GenerateErr = fmt.Errorf("down")
	b := NewScripted()
	b.GenerateErr = fmt.Errorf("also down")

	f := NewFallback(a, b)
	_, err := f.GenerateJSON(context.Background(), Request{Prompt: "q"})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("error = %v, want ErrAllProvidersFailed", err)
	}
}

func TestFallbackStopsOnCancelledContext(t *testing.T) {
	primary := NewScripted()
	primary.GenerateErr = fmt.Errorf("down")
	secondary := NewScripted(`{"never": "used"}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFallback(primary, secondary)
	_, err := f.GenerateJSON(ctx, Request{Prompt: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary was called %d times after cancel", len(secondary.Calls()))
	}
}

func TestFallbackEmbedFailsOver(t *testing.T) {
	primary := NewScripted()
	primary.EmbedErr = fmt.Errorf("down")
	secondary := NewScripted()
	secondary.QueueEmbedding([]float64{0.5})

	f := NewFallback(primary, secondary)
	vec, err := f.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1 || vec[0] != 0.5 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestRateLimitedDelegates(t *testing.T) {
	inner := NewScripted(`{"pass": "through"}`)
	rl := NewRateLimited(inner, 100, 100)

	resp, err := rl.GenerateJSON(context.Background(), Request{Prompt: "q"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(resp.Parsed) != `{"pass": "through"}` {
		t.Fatalf("Parsed = %s", resp.Parsed)
	}

	if _, err := rl.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.EmbedCalls()) != 1 {
		t.Fatal("Embed did not reach the inner backend")
	}
}

func TestOpenAIVaultInjectsAuthorization(t *testing.T) {
	t.Setenv("EVOLVE_INSECURE_MEMORY", "true")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "{\"ok\": true}"}}]}`)
	}))
	defer srv.Close()

	vault, err := NewKeyVault("sk-test")
	if err != nil {
		t.Fatalf("NewKeyVault: %v", err)
	}
	defer vault.Destroy()

	svc, err := NewOpenAIService(OpenAIConfig{
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
		Vault:   vault,
	})
	if err != nil {
		t.Fatalf("NewOpenAIService: %v", err)
	}

	resp, err := svc.GenerateJSON(context.Background(), Request{Prompt: "ping"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if string(resp.Parsed) != `{"ok": true}` {
		t.Fatalf("Parsed = %s", resp.Parsed)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want %q", gotAuth, "Bearer sk-test")
	}
}
