package backoff

import "time"

// Policy computes reconnection delays. Growth is linear with a hard
// cap rather than exponential: a brief network blip is the common case
// and should not punish the user with multi-minute waits.
type Policy struct {
	Step time.Duration // delay increment per attempt
	Max  time.Duration // upper bound on any single delay
}

// Default matches the production tuning: 1s per attempt, capped at 10s.
func Default() Policy {
	return Policy{
		Step: time.Second,
		Max:  10 * time.Second,
	}
}

// Delay returns the wait before attempt n (1-indexed): min(Step*n, Max).
// Attempts below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.Step
	if d > p.Max {
		return p.Max
	}
	return d
}
