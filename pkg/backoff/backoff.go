// Package backoff computes the redelivery delay applied when a message is
// negatively acknowledged.
package backoff

import (
	"time"

	"github.com/c360/syncbus/errors"
)

const (
	transientBase = 500 * time.Millisecond
	defaultBase   = 2 * time.Second

	// Exponent cap keeps the raw delay bounded before clamping
	maxExponent = 6

	minDelay = 1 * time.Second
	maxDelay = 60 * time.Second
)

// Delay returns the nak delay for a redelivery attempt. Transient errors
// (timeouts, broker hiccups) back off from a shorter base than handler
// failures, on the theory that the condition clears quickly. The result is
// always within [1s, 60s].
func Delay(deliveries int, err error) time.Duration {
	base := defaultBase
	if errors.IsTransient(err) {
		base = transientBase
	}

	exponent := deliveries - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent > maxExponent {
		exponent = maxExponent
	}

	delay := base << uint(exponent)

	if delay < minDelay {
		return minDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
