package agentbus

import (
	"context"
	"time"

	"github.com/jeeves-cluster-organization/cbp-bus/cbperr"
	"github.com/jeeves-cluster-organization/cbp-bus/commbus"
	"github.com/jeeves-cluster-organization/cbp-bus/message"
)

// ResilientOptions configures the composed call of §4.5.9.
type ResilientOptions struct {
	Timeout    time.Duration
	Retry      RetryConfig
	UseDedup   bool
	DedupCache *DedupCache // shared across callers; see NewDedupCache
}

// DedupCache is the exported handle around the internal TTL cache so
// callers can share one instance across multiple ResilientSendAndWait
// call sites (§4.5.7: "opt-in per call site").
type DedupCache struct{ inner *dedupCache }

// NewDedupCache creates a dedup cache with the given TTL (DefaultDedupTTL
// if ttl<=0).
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{inner: newDedupCache(ttl)}
}

// PurgeExpired drops every entry past its TTL. Callers may run this
// periodically; it is never required for correctness since lookup also
// evicts on a stale read.
func (c *DedupCache) PurgeExpired() { c.inner.purgeExpired() }

// ResilientSendAndWait implements §4.5.9's composition: fingerprint ->
// cache lookup -> circuit breaker check -> retrying send -> on success
// populate cache and record breaker success -> on terminal failure record
// breaker failure and surface the error.
func (b *Bus) ResilientSendAndWait(ctx context.Context, request message.Message, opts ResilientOptions) (message.Message, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	var fp uint64
	if opts.UseDedup && opts.DedupCache != nil {
		fp = requestFingerprint(request)
		if reply, ok := opts.DedupCache.inner.lookup(fp); ok {
			recordDedupHit()
			b.publishDiag(&commbus.DedupCacheHit{Caller: uint8(request.Sender), Callee: uint8(request.Receiver)})
			return reply, nil
		}
	}

	cb := b.breakers.get(request.Sender, request.Receiver)
	if !cb.canExecute() {
		return message.Message{}, cbperr.New(cbperr.KindCircuitOpen, "circuit open for this (caller, callee) pair").
			WithContext(map[string]any{"caller": request.Sender, "callee": request.Receiver})
	}

	reply, err := retryingSendAndWait(ctx, opts.Retry, func(ctx context.Context) (message.Message, error) {
		return b.SendAndWait(ctx, request, opts.Timeout)
	}, func(attemptNum int, retryErr error, delay time.Duration) {
		b.logger.Warn("resilient_send_retry", "attempt", attemptNum, "error", retryErr.Error(), "delay", delay.String())
	})

	if err != nil {
		cb.recordFailure()
		return message.Message{}, err
	}

	cb.recordSuccess()
	if opts.UseDedup && opts.DedupCache != nil {
		opts.DedupCache.inner.store(fp, reply)
	}
	return reply, nil
}
