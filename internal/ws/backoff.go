package ws

import (
	"math"
	"math/rand/v2"
	"time"
)

// Sessions that stayed up this long start the backoff over.
const stableConnection = 60 * time.Second

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg Config) *reconnector {
	base := cfg.ReconnectBaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay < base {
		maxDelay = 30 * time.Second
	}
	return &reconnector{
		baseDelay:   base,
		maxDelay:    maxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
		connectedAt: time.Now(),
	}
}

// shouldReconnect reports whether another attempt is allowed. Zero
// maxAttempts means unlimited.
func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableConnection {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}

	jitter := rand.Float64() * float64(r.baseDelay) * 0.5
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+jitter,
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
