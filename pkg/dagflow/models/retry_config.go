package models

import "time"

type RetryConfig struct {
	MaxRetryCount    int
	RetryIntervalMin time.Duration
	RetryIntervalMax time.Duration
}

// FixedRetry builds a config whose interval never changes between attempts.
func FixedRetry(retries int, delay time.Duration) RetryConfig {
	return RetryConfig{MaxRetryCount: retries, RetryIntervalMin: delay, RetryIntervalMax: delay}
}

// SlidingInterval returns a retry interval between min and max based on the current retry attempt.
func (rc *RetryConfig) SlidingInterval(retryNum int) time.Duration {
	if retryNum <= 0 || rc.MaxRetryCount <= 0 {
		return rc.RetryIntervalMin
	}
	if retryNum >= rc.MaxRetryCount {
		return rc.RetryIntervalMax
	}
	scale := float64(retryNum) / float64(rc.MaxRetryCount)
	return rc.RetryIntervalMin + time.Duration(scale*float64(rc.RetryIntervalMax-rc.RetryIntervalMin))
}

// CanRetry reports whether a task that just failed on tryNumber gets another attempt.
// tryNumber starts at 1, so retries=5 allows six tries in total.
func (rc *RetryConfig) CanRetry(tryNumber int) bool {
	return tryNumber <= rc.MaxRetryCount
}
