package events

import "time"

const (
	DefaultReconnectInitial = 250 * time.Millisecond
	DefaultReconnectMax     = 10 * time.Second
)

// Backoff doubles from Initial up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultReconnectInitial
	}
	maxDelay := b.Max
	if maxDelay <= 0 {
		maxDelay = DefaultReconnectMax
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
