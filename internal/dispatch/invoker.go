package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbatch/internal/metrics"
)

// Transport is the long-lived authenticated handle to the remote inference
// endpoint. Implementations must tolerate concurrent calls.
type Transport interface {
	Invoke(ctx context.Context, contentType string, body []byte) ([]byte, error)
}

// Decoder turns a raw endpoint response into the keyed structure the
// merger operates on.
type Decoder func(raw []byte) (map[string]any, error)

// DecodeJSON is the default Decoder.
func DecodeJSON(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// maxBackoff caps the exponential retry delay.
const maxBackoff = 3 * time.Second

// invoker performs one page's endpoint call with bounded retries and
// exponential backoff, consulting the shared breaker before every attempt.
type invoker struct {
	transport   Transport
	decode      Decoder
	breaker     *Breaker
	maxAttempts int
	backoffBase time.Duration
	callTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func newInvoker(cfg Config, t Transport, b *Breaker) *invoker {
	return &invoker{
		transport:   t,
		decode:      cfg.Decoder,
		breaker:     b,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		callTimeout: cfg.CallTimeout,
		sleep:       sleepCtx,
	}
}

// InvokeOne runs the retry loop for a single page. An open circuit counts
// as a failed attempt rather than aborting outright: the cooldown window
// is finite and may pass before the attempt budget runs out.
func (iv *invoker) InvokeOne(ctx context.Context, p PagePayload) (InvokeResult, error) {
	var lastErr error

	for attempt := 0; attempt < iv.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return InvokeResult{}, err
		}

		if err := iv.breaker.Check(); err != nil {
			lastErr = err
		} else {
			res, err := iv.attempt(ctx, p)
			if err == nil {
				iv.breaker.RecordSuccess()
				return res, nil
			}
			if ctx.Err() != nil {
				// Batch-level cancellation, not a page failure.
				return InvokeResult{}, ctx.Err()
			}
			lastErr = err
			iv.breaker.RecordFailure()
		}

		if attempt < iv.maxAttempts-1 {
			metrics.IncRetry()
			delay := backoffDelay(iv.backoffBase, attempt)
			log.Debug().
				Int("page", p.Index).
				Str("source", p.SourceName).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("page attempt failed, backing off")
			if err := iv.sleep(ctx, delay); err != nil {
				return InvokeResult{}, err
			}
		}
	}

	return InvokeResult{}, &InvokeError{Page: p.Index, Attempts: iv.maxAttempts, Err: lastErr}
}

// attempt performs one network call plus decode under the per-call
// timeout. A deadline hit here is an attempt failure like any transport
// error; only the parent context aborts the loop.
func (iv *invoker) attempt(ctx context.Context, p PagePayload) (InvokeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, iv.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := iv.transport.Invoke(cctx, p.ContentType, p.Body)
	if err != nil {
		metrics.ObserveInvoke("error", time.Since(start))
		return InvokeResult{}, err
	}

	payload, err := iv.decode(raw)
	if err != nil {
		metrics.ObserveInvoke("decode_error", time.Since(start))
		return InvokeResult{}, err
	}

	metrics.ObserveInvoke("ok", time.Since(start))
	return InvokeResult{Index: p.Index, Raw: payload}, nil
}

// backoffDelay grows exponentially per attempt with a small linear jitter
// term so sibling pages do not retry in lockstep.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt > 30 {
		return maxBackoff
	}
	d := base*(1<<uint(attempt)) + time.Duration(attempt+1)*10*time.Millisecond
	if d > maxBackoff || d < 0 {
		d = maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
