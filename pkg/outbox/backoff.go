package outbox

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Backoff parameters for intent redelivery.
const (
	backoffBaseMs   = 1000
	backoffMaxMs    = 5 * 60 * 1000
	backoffJitterMs = 500
)

// NextDelay computes the delay before the given attempt using exponential
// backoff with deterministic jitter: the same intent and attempt always get
// the same delay, keeping replays reproducible.
func NextDelay(intentID string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := int64(backoffBaseMs) * factor
	if delay > backoffMaxMs {
		delay = backoffMaxMs
	}
	return time.Duration(delay+jitter(intentID, attempt)) * time.Millisecond
}

func jitter(intentID string, attempt int) int64 {
	seed := fmt.Sprintf("%s:%d", intentID, attempt)
	sum := sha256.Sum256([]byte(seed))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % backoffJitterMs) //nolint:gosec // bounded by backoffJitterMs
}
