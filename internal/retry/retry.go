// Package retry provides the bounded retry policy shared by filesystem
// operations and external archiver invocations.
package retry

import "time"

// Policy retries an operation a fixed number of times with a fixed delay
// between attempts.
type Policy struct {
	// Attempts is the total number of tries. Values below 1 mean one try.
	Attempts int
	// Delay is slept between consecutive attempts.
	Delay time.Duration
	// Sleep is invoked to wait between attempts. Nil means time.Sleep;
	// tests inject a no-op to avoid real delays.
	Sleep func(time.Duration)
}

// Do runs fn until it succeeds or attempts are exhausted and returns the
// last error.
func (p Policy) Do(fn func() error) error {
	return p.DoIf(fn, func(error) bool { return true })
}

// DoIf retries only while retryable reports the error as transient. A
// non-transient error is returned immediately.
func (p Policy) DoIf(fn func() error, retryable func(error) bool) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if i < attempts-1 {
			p.sleep()
		}
	}
	return err
}

func (p Policy) sleep() {
	if p.Sleep != nil {
		p.Sleep(p.Delay)
		return
	}
	time.Sleep(p.Delay)
}
