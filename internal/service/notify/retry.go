package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusError is a non-2xx answer from a messaging API.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func newStatusError(resp *http.Response, body []byte) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return se
}

// retryPolicy is jittered exponential backoff with a cap on both the
// number of attempts and the wait between them.
type retryPolicy struct {
	attempts  int
	initial   time.Duration
	maxWait   time.Duration
	rateLimit time.Duration // default wait after a 429 without Retry-After
}

var defaultRetry = retryPolicy{
	attempts:  3,
	initial:   2 * time.Second,
	maxWait:   5 * time.Minute,
	rateLimit: 60 * time.Second,
}

func (p retryPolicy) do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxInterval = p.maxWait
	b.MaxElapsedTime = 0

	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var se *StatusError
		if !errors.As(err, &se) {
			return err
		}
		switch se.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden:
			return backoff.Permanent(err)
		case http.StatusTooManyRequests:
			wait := se.RetryAfter
			if wait <= 0 {
				wait = p.rateLimit
			}
			if err := sleep(ctx, min(wait, p.maxWait)); err != nil {
				return backoff.Permanent(err)
			}
		}
		return err
	}, policy)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
