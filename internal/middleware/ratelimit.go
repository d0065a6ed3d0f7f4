package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/step-security-bot/neucore/internal/errors"
	"github.com/step-security-bot/neucore/pkg/logger"
)

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	log      *logger.Logger
}

// NewRateLimiter creates a per-client rate limiter allowing rps requests per
// second with the given burst.
func NewRateLimiter(rps float64, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
}

// Handler returns the middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(r.RemoteAddr).Allow() {
			rl.log.WithField("client", r.RemoteAddr).Warn("rate limit exceeded")
			err := errors.RateLimitExceeded(rl.burst, "1s")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(err.HTTPStatus)
			_, _ = w.Write([]byte(`{"error":"` + err.Message + `"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[client] = limiter
	}
	return limiter
}
