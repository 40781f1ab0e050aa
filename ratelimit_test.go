package vybe

import (
	"context"
	"testing"
	"time"
)

func TestWithRateLimit_RPM_AllowsWithinLimit(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "a"}},
		{resp: ChatResponse{Content: "b"}},
	}}
	p := WithRateLimit(stub, RPM(60))

	for _, want := range []string{"a", "b"} {
		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Content != want {
			t.Errorf("got %q, want %q", resp.Content, want)
		}
	}
}

func TestWithRateLimit_RPM_BlocksWhenExceeded(t *testing.T) {
	stub := &stubProvider{}
	p := WithRateLimit(stub, RPM(1))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.ChatWithTools(ctx, ChatRequest{}, nil); err == nil {
		t.Fatal("expected the second request to be throttled")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRateLimit_TPM_BlocksAfterBudgetSpent(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Usage: Usage{InputTokens: 900, OutputTokens: 300}}},
		{resp: ChatResponse{Content: "late"}},
	}}
	p := WithRateLimit(stub, TPM(1000))

	// The first request crosses the budget and still completes.
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected the second request to wait for tokens")
	}
}

func TestWithRateLimit_NoLimits(t *testing.T) {
	stub := &stubProvider{}
	p := WithRateLimit(stub)
	for i := 0; i < 5; i++ {
		if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
			t.Fatal(err)
		}
	}
	if stub.calls != 5 {
		t.Errorf("got %d calls, want 5", stub.calls)
	}
}

func TestWithRateLimit_Name(t *testing.T) {
	if got := WithRateLimit(&stubProvider{}, RPM(10)).Name(); got != "stub" {
		t.Errorf("Name() = %q", got)
	}
}
