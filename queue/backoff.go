package queue

import (
	"fmt"
	"time"
)

// Backoff computes the delay before the next retry attempt.
// attempt is the number of attempts already made (1 after the first failure).
type Backoff interface {
	Delay(attempt int) time.Duration
	String() string
}

// ExponentialBackoff grows the delay as Base * Factor^(attempt-1), capped at Max.
type ExponentialBackoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	delay := time.Duration(d)
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

func (b ExponentialBackoff) String() string {
	return fmt.Sprintf("exponential(base=%v, factor=%g, max=%v)", b.Base, b.Factor, b.Max)
}

// FixedBackoff waits the same delay between every attempt.
type FixedBackoff struct {
	Every time.Duration
}

func (b FixedBackoff) Delay(int) time.Duration { return b.Every }

func (b FixedBackoff) String() string { return fmt.Sprintf("fixed(%v)", b.Every) }

// LinearBackoff waits Step * attempt between attempts.
type LinearBackoff struct {
	Step time.Duration
}

func (b LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * b.Step
}

func (b LinearBackoff) String() string { return fmt.Sprintf("linear(step=%v)", b.Step) }

// DefaultBackoff is the queue-level default: 30s, 1m, 2m, ... capped at 15m.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{Base: 30 * time.Second, Factor: 2, Max: 15 * time.Minute}
}
