package resilience

import (
	"context"
)

// Guard is the composition every outbound tracker call goes through: rate
// limiter first, then circuit breaker. Batching sits behind the guard for
// the call types that opt in.
type Guard struct {
	limiter *Limiter
	breaker *Breaker
}

func NewGuard(limiter *Limiter, breaker *Breaker) *Guard {
	return &Guard{limiter: limiter, breaker: breaker}
}

// Call runs fn if a token is available for key and the breaker admits the
// call. Returns ErrRateLimited or ErrCircuitOpen without invoking fn.
func (g *Guard) Call(ctx context.Context, key string, fn func(context.Context) error) error {
	if !g.limiter.Acquire(key) {
		return ErrRateLimited
	}
	return g.breaker.Do(ctx, fn)
}

func (g *Guard) Breaker() *Breaker { return g.breaker }
func (g *Guard) Limiter() *Limiter { return g.limiter }
