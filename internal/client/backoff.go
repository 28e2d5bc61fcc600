package client

import "time"

// DefaultSchedule escalates from an immediate retry to a steady 30s.
var DefaultSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}

// Backoff walks a delay schedule and repeats its last step once exhausted.
type Backoff struct {
	schedule []time.Duration
	attempt  int
}

// NewBackoff uses DefaultSchedule when schedule is empty.
func NewBackoff(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	return &Backoff{schedule: append([]time.Duration(nil), schedule...)}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	idx := b.attempt
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}
	b.attempt++
	return b.schedule[idx]
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Reset starts the schedule over after a successful connection.
func (b *Backoff) Reset() { b.attempt = 0 }
