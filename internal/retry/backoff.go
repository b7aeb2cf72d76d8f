// Package retry retries tracker and runner calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/rs/zerolog"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"` // Retries after the first attempt
	BaseDelay  time.Duration `json:"base_delay"`  // Delay before the first retry
	MaxDelay   time.Duration `json:"max_delay"`   // Cap on any single delay, Retry-After included
	Multiplier float64       `json:"multiplier"`  // Growth of the delay per attempt
	Jitter     bool          `json:"jitter"`      // Spread delays by up to 10%
	LogRetries bool          `json:"log_retries"`
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// TrackerRetryConfig returns a retry configuration for issue-tracker API calls.
// A cycle must stay bounded, so delays are short and the cap is low.
func TrackerRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// RetryWithBackoff runs operation until it succeeds, the retries are used
// up or ctx is done. The caller decides which errors are worth retrying;
// an operation that should stop early returns nil and records its error
// elsewhere.
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	start := time.Now()
	var result RetryResult
	logging := config.LogRetries && logger != nil

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		err := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(start)
			if logging && attempt > 0 {
				logger.Info().Int("retries", attempt).Dur("duration", result.TotalDuration).Msg("operation succeeded after retries")
			}
			return result
		}
		result.LastError = err

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(start)
			if logging {
				logger.Warn().Err(err).Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("operation failed")
			}
			return result
		}

		delay := calculateDelay(config, attempt)
		if wait := RetryAfter(err); wait > delay {
			delay = min(wait, config.MaxDelay)
		}
		if logging {
			logger.Warn().Err(err).Int("attempt", attempt+1).Int("max", config.MaxRetries+1).
				Dur("delay", delay).Msg("operation failed, waiting before retry")
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			if logging {
				logger.Warn().Err(ctx.Err()).Msg("operation cancelled during backoff delay")
			}
			return result
		case <-time.After(delay):
		}
	}
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// RetryAfter returns how long the tracker asked us to back off, or zero.
func RetryAfter(err error) time.Duration {
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return *abuse.RetryAfter
	}
	var limited *github.RateLimitError
	if errors.As(err, &limited) {
		if wait := time.Until(limited.Rate.Reset.Time); wait > 0 {
			return wait
		}
	}
	return 0
}

func statusRetryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// IsRetryableError reports whether err is transient: rate limits, 5xx
// answers, timeouts and network failures. Typed errors of the GitHub and
// GitLab clients are checked first; anything else falls back to matching
// well-known messages.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var abuse *github.AbuseRateLimitError
	var limited *github.RateLimitError
	if errors.As(err, &abuse) || errors.As(err, &limited) {
		return true
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return statusRetryable(ghErr.Response.StatusCode)
	}
	var glErr *gitlab.ErrorResponse
	if errors.As(err, &glErr) && glErr.Response != nil {
		return statusRetryable(glErr.Response.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range transientMessages {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"no such host",
	"network unreachable",
	"broken pipe",
	"unexpected eof",
}
