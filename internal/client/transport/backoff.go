package transport

import "time"

// BackoffDelay returns min(base * 2^attempt, max). Attempt counting starts
// at zero, so consecutive failures wait 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
// with the default base and cap.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	// Guard the shift: past 62 bits the duration overflows long before
	// any realistic cap applies.
	if attempt > 32 {
		return max
	}

	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}

	return d
}
