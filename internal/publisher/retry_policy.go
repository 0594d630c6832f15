package publisher

import (
	"errors"
	"math"
	"time"

	"github.com/JakeFAU/ccextract/internal/queue"
)

// RetryPolicy bounds delivery attempts and computes the wait between them.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy returns three attempts with 1s initial and 15s maximum
// backoff growing by 1.5.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     15 * time.Second,
		Multiplier:     1.5,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// ShouldRetry reports whether another attempt may follow the given failed one.
// Only connection failures are retried.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return errors.Is(err, queue.ErrConnection)
}

// Backoff returns the wait before retry n, counting from zero:
// min(initial * multiplier^n, max).
func (p RetryPolicy) Backoff(n int) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	return time.Duration(delay)
}
