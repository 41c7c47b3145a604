package retry

import "time"

// Stats is a snapshot of executor activity.
type Stats struct {
	// TotalAttempts counts every call to the operation, first attempts included.
	TotalAttempts int64 `json:"total_attempts"`
	// TotalRetries counts attempts that were followed by a backoff.
	TotalRetries int64 `json:"total_retries"`
	Successes    int64 `json:"successes"`
	// Exhausted counts calls that ran out of attempts on a retryable error.
	Exhausted    int64         `json:"exhausted"`
	NonRetryable int64         `json:"non_retryable"`
	Canceled     int64         `json:"canceled"`
	MaxBackoff   time.Duration `json:"max_backoff"`
}

// Stats returns cumulative counters for e.
func (e *Executor) Stats() Stats {
	return Stats{
		TotalAttempts: e.stats.attempts.Load(),
		TotalRetries:  e.stats.retries.Load(),
		Successes:     e.stats.successes.Load(),
		Exhausted:     e.stats.exhausted.Load(),
		NonRetryable:  e.stats.nonRetryable.Load(),
		Canceled:      e.stats.canceled.Load(),
		MaxBackoff:    time.Duration(e.stats.maxBackoff.Load()),
	}
}
