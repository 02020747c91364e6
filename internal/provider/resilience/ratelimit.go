package resilience

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RateLimitedClient waits for a token before forwarding each request.
// Used for upstreams with a published usage policy (e.g. Nominatim's 1 req/s).
type RateLimitedClient struct {
	next    Doer
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps next with a token bucket of rps requests per
// second and the given burst.
func NewRateLimitedClient(next Doer, rps float64, burst int) *RateLimitedClient {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Do waits for the limiter or the request context, then forwards the request.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return c.next.Do(req)
}
