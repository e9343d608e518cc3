// Package retry implements C1, the retry classifier: it maps a transport
// error and the current attempt number to a RetryDecision, per spec §4.1.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/NamanBalaji/fluxion/internal/ferrors"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

const (
	defaultBase       = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
	defaultMaxRetries = 5
	maxRetryAfter     = 120 * time.Second
)

// Classifier is created per-fetch and discarded at the end, per spec §3
// lifecycles.
type Classifier struct {
	mu sync.Mutex
	r  *rand.Rand

	base       time.Duration
	maxBackoff time.Duration
	maxRetries int
}

// New creates a retry classifier with the spec's default policy.
func New() *Classifier {
	return &Classifier{
		r:          rand.New(rand.NewSource(time.Now().UnixNano())),
		base:       defaultBase,
		maxBackoff: defaultMaxBackoff,
		maxRetries: defaultMaxRetries,
	}
}

// MaxRetries is the attempt budget a caller should enforce per chunk.
func (c *Classifier) MaxRetries() int { return c.maxRetries }

// Classify maps err and the current attempt (1-based, the attempt that just
// failed) to a RetryDecision.
func (c *Classifier) Classify(err error, attempt int) fluxtype.RetryDecision {
	kind, ok := ferrors.Kindof(err)
	if !ok {
		// Unclassified error: treat conservatively as transient.
		kind = ferrors.TransientNetwork
	}

	switch kind {
	case ferrors.TlsFailure, ferrors.PinMismatch, ferrors.IntegrityMismatch,
		ferrors.LocalIo, ferrors.UnsupportedScheme, ferrors.ResourceError:
		return fluxtype.RetryDecision{Verdict: fluxtype.RetryFail, Category: string(kind)}

	case ferrors.Cancelled:
		return fluxtype.RetryDecision{Verdict: fluxtype.RetryFail, Category: string(kind)}

	case ferrors.ProtocolDegraded:
		// Non-retryable at chunk level; recoverable at plan level (C8
		// falls back PARALLEL -> SINGLE). The scheduler must recognise
		// this category and propagate rather than re-enqueue.
		return fluxtype.RetryDecision{Verdict: fluxtype.RetryFail, Category: string(kind)}

	case ferrors.ServerBackoff:
		if attempt >= c.maxRetries {
			return fluxtype.RetryDecision{Verdict: fluxtype.RetryFail, Category: string(kind)}
		}
		delay := c.serverBackoffDelay(err, attempt)
		return fluxtype.RetryDecision{Verdict: fluxtype.RetryAfter, Delay: delay, Category: string(kind)}

	case ferrors.TransientNetwork:
		fallthrough
	default:
		if attempt >= c.maxRetries {
			return fluxtype.RetryDecision{Verdict: fluxtype.RetryFail, Category: string(ferrors.TransientNetwork)}
		}
		delay := c.jitteredBackoff(attempt)
		return fluxtype.RetryDecision{Verdict: fluxtype.RetryAfter, Delay: delay, Category: string(ferrors.TransientNetwork)}
	}
}

// jitteredBackoff computes base * 2^(attempt-1), capped at maxBackoff, then
// draws uniformly from [0, computed] (full jitter).
func (c *Classifier) jitteredBackoff(attempt int) time.Duration {
	computed := c.base * time.Duration(1<<uint(attempt-1))
	if computed > c.maxBackoff || computed <= 0 {
		computed = c.maxBackoff
	}
	return c.fullJitter(computed)
}

// serverBackoffDelay honours Retry-After when present and sane (<=120s),
// otherwise falls back to the exponential schedule.
func (c *Classifier) serverBackoffDelay(err error, attempt int) time.Duration {
	var fe *ferrors.FetchError
	if ferrors.As(err, &fe) && fe.RetryAfter > 0 && fe.RetryAfter <= maxRetryAfter {
		return fe.RetryAfter
	}
	return c.jitteredBackoff(attempt)
}

func (c *Classifier) fullJitter(computed time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if computed <= 0 {
		return 0
	}
	return time.Duration(c.r.Int63n(int64(computed) + 1))
}
