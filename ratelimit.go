package vybe

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitProvider throttles requests before they reach the inner Provider.
type rateLimitProvider struct {
	inner Provider
	rpm   int
	tpm   int

	requests *rate.Limiter // nil when rpm <= 0
	tokens   *rate.Limiter // nil when tpm <= 0
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM sets the maximum tokens per minute (input + output). Usage is charged
// after each response, so the request that crosses the budget completes and
// later requests wait for the bucket to refill.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with proactive rate limiting:
//
//	llm = vybe.WithRateLimit(vybe.WithRetry(provider), vybe.RPM(60))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	if r.rpm > 0 {
		r.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rpm)), r.rpm)
	}
	if r.tpm > 0 {
		r.tokens = rate.NewLimiter(rate.Limit(float64(r.tpm)/60), r.tpm)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.charge(resp.Usage)
	}
	return resp, err
}

func (r *rateLimitProvider) ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error) {
	if err := r.wait(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.ChatWithTools(ctx, req, tools)
	if err == nil {
		r.charge(resp.Usage)
	}
	return resp, err
}

func (r *rateLimitProvider) wait(ctx context.Context) error {
	if r.tokens != nil {
		if err := r.tokens.Wait(ctx); err != nil {
			return err
		}
	}
	if r.requests != nil {
		return r.requests.Wait(ctx)
	}
	return nil
}

// charge debits consumed tokens, driving the bucket negative when a response
// was larger than what was left.
func (r *rateLimitProvider) charge(u Usage) {
	if r.tokens == nil {
		return
	}
	n := u.InputTokens + u.OutputTokens
	if n <= 0 {
		return
	}
	r.tokens.ReserveN(time.Now(), min(n, r.tpm))
}

var _ Provider = (*rateLimitProvider)(nil)
