package agentbus

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
)

// RetryConfig parameterizes the exponential-backoff retry loop of §4.5.5.
//
// Classifier lets an integrator teach the retry loop what "transient"
// means for their own downstream failures: a handler is free to return a
// plain error (not a *cbperr.Error) for a failure it doesn't model as one
// of this module's own kinds, and Classifier maps that error to the
// cbperr.Kind whose Retriable() decides whether the loop tries again. A
// nil Classifier keeps the default behavior: only *cbperr.Error values are
// ever classified, everything else is treated as non-retriable.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Base         float64 // default 2.0
	Jitter       bool
	Classifier   func(error) cbperr.Kind
}

// DefaultRetryConfig returns the in-process retry defaults: 3 retries, a
// 100ms initial delay, a 5s delay cap, base 2.0, jitter on.
// DefaultFileConfig's retry section uses a 1s initial delay and a 30s cap
// instead.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Base:         2.0,
		Jitter:       true,
		Classifier:   defaultErrorClassifier,
	}
}

// defaultErrorClassifier recognizes this module's own *cbperr.Error values
// and otherwise reports a kind whose Retriable() is false, matching the
// behavior before RetryConfig.Classifier existed.
func defaultErrorClassifier(err error) cbperr.Kind {
	if ce, ok := err.(*cbperr.Error); ok {
		return ce.Kind()
	}
	return cbperr.KindInvalidInput
}

// toExponentialBackOff adapts RetryConfig onto cenkalti/backoff's
// ExponentialBackOff, which already implements "delay = min(initial *
// multiplier^attempt, max)" with an optional randomization factor — the
// same shape as §4.5.5's attempt formula. Jitter off maps to
// RandomizationFactor 0, matching "multiply by a uniform factor in
// [0.5, 1.5]" being skipped entirely.
func (c RetryConfig) toExponentialBackOff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialDelay
	eb.MaxInterval = c.MaxDelay
	eb.Multiplier = c.Base
	if c.Jitter {
		eb.RandomizationFactor = 0.5
	} else {
		eb.RandomizationFactor = 0
	}
	eb.MaxElapsedTime = 0 // bounded by MaxRetries, not wall-clock elapsed time
	eb.Reset()
	return eb
}

// retryingSendAndWait retries send_and_wait against transient failures
// only (§4.5.5: timeout, network, resource; invalid_input and permission
// are never retried). It surfaces the last error on exhaustion.
func retryingSendAndWait(
	ctx context.Context,
	cfg RetryConfig,
	attempt func(context.Context) (message.Message, error),
	onRetry func(attemptNum int, err error, delay time.Duration),
) (message.Message, error) {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = defaultErrorClassifier
	}

	eb := cfg.toExponentialBackOff()
	bo := backoff.WithMaxRetries(eb, uint64(maxInt(cfg.MaxRetries, 0)))
	bo = backoff.WithContext(bo, ctx)

	var reply message.Message
	attemptNum := 0

	op := func() error {
		attemptNum++
		r, err := attempt(ctx)
		if err == nil {
			reply = r
			return nil
		}
		if !classifier(err).Retriable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if onRetry != nil {
			onRetry(attemptNum, err, delay)
		}
	}

	err := backoff.RetryNotify(op, bo, notify)
	if err != nil {
		if perr, ok := err.(*backoff.PermanentError); ok {
			return message.Message{}, perr.Err
		}
		return message.Message{}, err
	}
	return reply, nil
}

func isRetriable(err error) bool {
	if ce, ok := err.(*cbperr.Error); ok {
		return ce.Kind().Retriable()
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
