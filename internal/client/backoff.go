package client

import (
	"math"
	"time"
)

// Backoff computes capped exponential retry delays.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Delay returns min(Base * Factor^attempt, Max). A Factor below 1 is
// treated as 1 and a non-positive Max disables the cap.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Base) * math.Pow(factor, float64(attempt))
	if b.Max > 0 && (d > float64(b.Max) || math.IsInf(d, 1)) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
