package worker

import "time"

// RetryPolicy configures retries of transient worker failures (timeouts and
// transport errors). Worker-reported failures are never retried.
//
// The zero policy performs no retries, preserving fail-fast semantics; retry
// behavior is opt-in via configuration.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first. Default: 0.
	MaxRetries int

	// InitialBackoff is the wait before the first retry. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier grows the backoff between attempts. Default: 2.
	Multiplier float64
}

// ApplyDefaults fills unset backoff fields. MaxRetries is left alone: zero
// is a meaningful value.
func (p *RetryPolicy) ApplyDefaults() {
	if p.InitialBackoff == 0 {
		p.InitialBackoff = time.Second
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier == 0 {
		p.Multiplier = 2.0
	}
}

// next returns the backoff following the current one, capped at MaxBackoff.
func (p *RetryPolicy) next(backoff time.Duration) time.Duration {
	n := time.Duration(float64(backoff) * p.Multiplier)
	if n > p.MaxBackoff {
		n = p.MaxBackoff
	}
	return n
}
