package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a ChatModel with a token-bucket limiter shared by every
// caller, so fan-out branches cannot exceed a provider's request rate.
type RateLimited struct {
	next    ChatModel
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
// rps <= 0 disables limiting.
func NewRateLimited(next ChatModel, rps float64, burst int) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Chat waits for a token, then delegates.
func (r *RateLimited) Chat(ctx context.Context, messages []Message, opts Options) (ChatOut, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ChatOut{}, err
	}
	return r.next.Chat(ctx, messages, opts)
}
