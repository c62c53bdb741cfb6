package gateway

import "golang.org/x/time/rate"

// RateLimiter bounds RPC calls per connection. A zero or negative
// per-second rate disables limiting.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a token-bucket limiter.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	if perSec <= 0 {
		return &RateLimiter{}
	}
	if burst <= 0 {
		burst = int(perSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Allow reports whether one more call may proceed now.
func (r *RateLimiter) Allow() bool {
	if r.limiter == nil {
		return true
	}
	return r.limiter.Allow()
}
