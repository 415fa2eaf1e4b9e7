package pds

import "time"

// Backoff computes the next scan time from the consecutive failure count.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultBackoff doubles the interval per failure from one hour, capped at a day.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Hour, Max: 24 * time.Hour, Factor: 2}
}

// Delay returns the wait after failures consecutive failures; zero failures is
// the base interval.
func (b Backoff) Delay(failures int) time.Duration {
	d := b.Base
	for i := 0; i < failures; i++ {
		d = time.Duration(float64(d) * b.Factor)
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// Next returns the next scan time after failures consecutive failures.
func (b Backoff) Next(now time.Time, failures int) time.Time {
	return now.Add(b.Delay(failures))
}
