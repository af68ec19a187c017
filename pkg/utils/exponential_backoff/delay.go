package exponential_backoff

import (
	"math/rand"
	"time"
)

// DelayFactor is how much each next delay grows.
const DelayFactor = 2

// JitterFraction is the upper bound of the random addition relative to a delay.
const JitterFraction = 10

// Delay returns a poll delay for the attempt number: initialDelay for attempt 0,
// then doubled on each attempt plus up to 10% of jitter. The result never exceeds maxDelay.
//
// Example for 500ms and 10s:
//
//	Attempt 0: 500ms
//	Attempt 1: 1s
//	Attempt 2: 2s
//	Attempt 3: 4s
//	Attempt 4: 8s
//	Attempt 5: 10s
func Delay(initialDelay time.Duration, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 || initialDelay >= maxDelay {
		return min(initialDelay, maxDelay)
	}

	delay := initialDelay
	for i := 0; i < attempt; i++ {
		delay *= DelayFactor
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}

	if jitter := int64(delay) / JitterFraction; jitter > 0 {
		delay += time.Duration(rand.Int63n(jitter))
	}
	delay = delay.Truncate(10 * time.Millisecond)

	return min(delay, maxDelay)
}
