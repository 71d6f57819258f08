package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultAttemptTimeout  = 10 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// FetchPolicy bounds the retries of Fetch.
type FetchPolicy struct {
	AttemptTimeout  time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// FetchObserver is told about every attempt outcome ("success", "retry", "failure").
type FetchObserver func(outcome string)

func (p FetchPolicy) withDefaults() FetchPolicy {
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaultMaxInterval
	}
	return p
}

// Fetch reads objectPath with a per-attempt timeout and bounded exponential retry.
// Missing objects and invalid paths are not retried.
func Fetch(ctx context.Context, store Store, objectPath string, policy FetchPolicy, observe FetchObserver) ([]byte, error) {
	policy = policy.withDefaults()
	if observe == nil {
		observe = func(string) {}
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialInterval
	exponential.MaxInterval = policy.MaxInterval

	operation := func() ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, policy.AttemptTimeout)
		defer cancel()
		data, err := store.Get(attemptCtx, objectPath)
		if err == nil {
			observe("success")
			return data, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) {
			observe("failure")
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exponential),
		backoff.WithMaxTries(policy.MaxAttempts),
		backoff.WithNotify(func(error, time.Duration) {
			observe("retry")
		}),
	)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidPath) {
			observe("failure")
		}
		return nil, err
	}
	return data, nil
}
