package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/go-telegram/bot"
)

const (
	retryMaxAttempts = 5
	retryBackoffMin  = time.Second
	retryBackoffMax  = 3 * time.Minute
)

// RateLimitRetry invokes call, retrying only when Telegram answers with
// "too many requests". The wait between attempts is the server-advised
// retry-after when the error carries one, otherwise exponential backoff
// between 1 second and 3 minutes. After 5 attempts the last error is
// returned to the caller.
func RateLimitRetry[T any](ctx context.Context, call func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	backoff := retryBackoffMin
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		result, err = call(ctx)
		if err == nil {
			return result, nil
		}
		wait, retriable := rateLimitWait(err)
		if !retriable {
			return result, err
		}
		if wait == 0 {
			wait = backoff
			backoff *= 2
			if backoff > retryBackoffMax {
				backoff = retryBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}
	return result, err
}

// rateLimitWait reports whether err is a Telegram rate-limit rejection and
// the server-advised wait, zero when the server gave none.
func rateLimitWait(err error) (time.Duration, bool) {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return time.Duration(tooMany.RetryAfter) * time.Second, true
	}
	if errors.Is(err, bot.ErrorTooManyRequests) {
		return 0, true
	}
	return 0, false
}
