package batch

import (
	"runtime"
	"time"
)

// Config holds configuration for the pool that cycles over talks
type Config struct {
	MaxWorkers int           // Maximum number of talks cycled at once
	MaxRetries int           // Maximum number of retries of a failed talk cycle
	RetryDelay time.Duration // Delay between retries
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxWorkers: runtime.NumCPU(),
		MaxRetries: 2,
		RetryDelay: 2 * time.Second,
	}
}

// ConfigFromMap creates a Config from a map (typically the [engine] section
// of the TOML config)
func ConfigFromMap(configMap map[string]interface{}) Config {
	config := DefaultConfig()

	if n, ok := positive(configMap["max_workers"]); ok {
		config.MaxWorkers = n
	}
	if n, ok := positive(configMap["max_retries"]); ok {
		config.MaxRetries = n
	}
	if n, ok := positive(configMap["retry_delay_ms"]); ok {
		config.RetryDelay = time.Duration(n) * time.Millisecond
	}

	return config
}

// positive accepts the numeric types TOML and JSON decoders produce.
func positive(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, n > 0
	case int64:
		return int(n), n > 0
	case float64:
		return int(n), n > 0
	}
	return 0, false
}

// ConfigureTaskQueue configures a TaskQueue based on Config
func ConfigureTaskQueue(config Config) *TaskQueue {
	queue := NewTaskQueue(config.MaxWorkers)
	queue.SetMaxRetries(config.MaxRetries)
	queue.SetRetryDelay(config.RetryDelay)
	return queue
}
