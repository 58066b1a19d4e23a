package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimitedProvider admits at most rpm calls in any sliding minute.
type RateLimitedProvider struct {
	provider Provider
	rpm      int
	now      func() time.Time

	mu     sync.Mutex
	recent []time.Time // admission times inside the last minute, oldest first
}

// NewRateLimitedProvider wraps provider so that at most rpm requests start
// per minute. rpm <= 0 returns provider unchanged.
func NewRateLimitedProvider(provider Provider, rpm int) Provider {
	if rpm <= 0 {
		return provider
	}
	return &RateLimitedProvider{provider: provider, rpm: rpm, now: time.Now}
}

func (r *RateLimitedProvider) Name() string { return r.provider.Name() }

// SupportsImages reports whether the wrapped provider accepts images.
func (r *RateLimitedProvider) SupportsImages() bool { return SupportsImages(r.provider) }

func (r *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	for {
		wait := r.admit()
		if wait <= 0 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return r.provider.Complete(ctx, req)
}

// admit records a call and returns 0, or returns how long until a slot frees.
func (r *RateLimitedProvider) admit() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cut := 0
	for cut < len(r.recent) && now.Sub(r.recent[cut]) >= time.Minute {
		cut++
	}
	r.recent = r.recent[cut:]
	if len(r.recent) < r.rpm {
		r.recent = append(r.recent, now)
		return 0
	}
	return r.recent[0].Add(time.Minute).Sub(now)
}
