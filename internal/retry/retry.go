package retry

import (
	"errors"
	"time"
)

// Policy is a bounded attempt count plus the wait that follows each failed attempt.
// Callers run one attempt per job and schedule the next one after Delay, so no
// goroutine sleeps through the backoff.
type Policy struct {
	Attempts int
	Delay    func(attempt int) time.Duration
}

// Linear waits attempt * unit after attempt n
func Linear(attempts int, unit time.Duration) Policy {
	return Policy{
		Attempts: attempts,
		Delay: func(attempt int) time.Duration {
			return time.Duration(attempt) * unit
		},
	}
}

// Exponential waits base, 2*base, 4*base ...
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{
		Attempts: attempts,
		Delay: func(attempt int) time.Duration {
			return base << (attempt - 1)
		},
	}
}

// Next reports the wait before the attempt after attempt, and whether one is allowed
func (p Policy) Next(attempt int, err error) (time.Duration, bool) {
	if err == nil || IsStop(err) || attempt >= p.Attempts {
		return 0, false
	}
	return p.Delay(attempt), true
}

type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop marks err as not worth retrying
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// IsStop reports whether err was marked with Stop
func IsStop(err error) bool {
	var stop stopError
	return errors.As(err, &stop)
}

// Cause strips the Stop marker from err
func Cause(err error) error {
	var stop stopError
	if errors.As(err, &stop) {
		return stop.err
	}
	return err
}
