package ratelimit

import "time"

// Status is the window snapshot for a single key.
type Status struct {
	Key         string    `json:"key"`
	Used        int       `json:"used"`
	Remaining   int       `json:"remaining"`
	Limit       int       `json:"limit"`
	ResetAt     time.Time `json:"reset_at"`
	QueueLength int       `json:"queue_length"`
	IsPaused    bool      `json:"is_paused"`
	// Utilization is Used as a percentage of Limit.
	Utilization float64 `json:"utilization"`
}

// Stats are cumulative limiter counters.
type Stats struct {
	Granted     int64 `json:"granted"`
	Queued      int64 `json:"queued"`
	Canceled    int64 `json:"canceled"`
	Waits       int64 `json:"waits"`
	QueueLength int   `json:"queue_length"`
	LocalKeys   int   `json:"local_keys"`
	Degraded    bool  `json:"degraded"`
}

// Observer receives limiter events for metrics export.
type Observer interface {
	Granted(key string, waited time.Duration, queued bool)
	QueueDepth(depth int)
	Degraded(degraded bool)
}

type noopObserver struct{}

func (noopObserver) Granted(string, time.Duration, bool) {}
func (noopObserver) QueueDepth(int)                      {}
func (noopObserver) Degraded(bool)                       {}
