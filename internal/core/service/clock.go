package service

import "time"

// Clock is the trusted time source for every expiry decision.
type Clock func() time.Time

// SystemClock returns the current UTC time.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Metrics receives authentication outcomes. Results are short labels such
// as "success" or "invalid_credentials".
type Metrics interface {
	LoginAttempt(result string)
	RefreshAttempt(result string)
	ReuseDetected()
	SessionsRevoked(reason string, n int64)
}

type nopMetrics struct{}

func (nopMetrics) LoginAttempt(string)           {}
func (nopMetrics) RefreshAttempt(string)         {}
func (nopMetrics) ReuseDetected()                {}
func (nopMetrics) SessionsRevoked(string, int64) {}
