package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is the structured form of an upstream 429. Adapters may
// return it directly; plain errors matching the known message patterns are
// recognised too.
type RateLimitError struct {
	Message    string
	StatusCode int
	// RetryAfter carries the upstream reset hint in the upstream's units:
	// values below 1000 are seconds (HTTP Retry-After style), larger values
	// are milliseconds.
	RetryAfter float64
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit exceeded"
}

var rateLimitPatterns = []string{
	"rate limit",
	"too many requests",
	"429",
	"quota exceeded",
}

// IsRateLimit reports whether an error represents upstream rate limiting.
// Rate-limited attempts are requeued without consuming the retry budget.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range rateLimitPatterns {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}

// RetryAfter extracts the reset delay from a rate-limit error, falling back
// to def when the upstream gave no hint.
func RetryAfter(err error, def time.Duration) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		v := rl.RetryAfter
		if v < 1000 {
			v *= 1000
		}
		return time.Duration(v) * time.Millisecond
	}
	return def
}

// ErrTaskTimeout marks an attempt that exceeded its task timeout. It counts
// as a normal retryable error.
var ErrTaskTimeout = errors.New("task timeout")

func timeoutError(taskID string, timeout time.Duration) error {
	return fmt.Errorf("%w: task %s exceeded %v", ErrTaskTimeout, taskID, timeout)
}
