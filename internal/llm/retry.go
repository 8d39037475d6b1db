package llm

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// rateLimitError signals an upstream 429. Message may carry a
// server-suggested delay.
type rateLimitError struct {
	message string
}

func (e *rateLimitError) Error() string { return "rate limited: " + e.message }

var retryDelayPattern = regexp.MustCompile(`retry in ([\d.]+)s`)

const (
	defaultRetryDelay = 5 * time.Second
	maxRetryDelay     = 60 * time.Second
	maxRetries        = 1
)

// retryDelay extracts the server-suggested wait from a rate-limit message.
// The suggestion gets one extra second of slack and is capped at
// maxRetryDelay; without a suggestion the default applies.
func retryDelay(message string) time.Duration {
	m := retryDelayPattern.FindStringSubmatch(message)
	if m == nil {
		return defaultRetryDelay
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return defaultRetryDelay
	}
	d := time.Duration((seconds + 1) * float64(time.Second))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// withRateLimitRetry runs call, retrying once on a rate-limit error after
// the suggested delay. Any other error is returned as-is; callers degrade
// to their stub on it.
func withRateLimitRetry(ctx context.Context, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var rl *rateLimitError
		if !errors.As(err, &rl) || attempt == maxRetries {
			return "", err
		}

		select {
		case <-time.After(retryDelay(rl.message)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func isRateLimited(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests
}
