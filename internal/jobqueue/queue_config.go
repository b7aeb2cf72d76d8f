package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	// Worker Configuration
	MaxWorkers int // Number of talks cycled concurrently by this process (default: 8)

	// Retry Configuration
	MaxAttempts int           // Attempts of one talk cycle before it is discarded (default: 3)
	JobTimeout  time.Duration // Maximum time a single talk cycle can run (default: 2 minutes)

	// Interval is how often every active talk gets a cycle (default: 1 minute)
	Interval time.Duration
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers:  8,
		MaxAttempts: 3,
		JobTimeout:  2 * time.Minute,
		Interval:    time.Minute,
	}
}

// QueueConfigFromMap reads the [engine] section of the configuration;
// missing or invalid values keep their defaults.
func QueueConfigFromMap(m map[string]interface{}) *QueueConfig {
	config := DefaultQueueConfig()
	if n, ok := intValue(m["max_workers"]); ok && n > 0 {
		config.MaxWorkers = n
	}
	if n, ok := intValue(m["max_attempts"]); ok && n > 0 {
		config.MaxAttempts = n
	}
	if d, ok := durationValue(m["job_timeout"]); ok {
		config.JobTimeout = d
	}
	if d, ok := durationValue(m["interval"]); ok {
		config.Interval = d
	}
	return config
}

func intValue(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func durationValue(v interface{}) (time.Duration, bool) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil && parsed > 0
	case time.Duration:
		return d, d > 0
	}
	return 0, false
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
