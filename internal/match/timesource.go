package match

import "time"

// Timer is the subset of *time.Timer sessions use.
type Timer interface {
	Stop() bool
}

// TimeSource provides wall time and one-shot timers. Tests inject a fake.
type TimeSource interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemTime is the production TimeSource.
type SystemTime struct{}

func (SystemTime) Now() time.Time { return time.Now() }

func (SystemTime) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
