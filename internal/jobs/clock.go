package jobs

import "time"

// Clock abstracts the time source used for scheduling and backoff so tests
// can control it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// RealClock returns the wall-clock time source.
func RealClock() Clock { return realClock{} }
