package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbatch/internal/metrics"
)

// Dispatcher fans page payloads out against one inference endpoint under
// bounded parallelism. The circuit breaker is shared across the lifetime
// of the Dispatcher; everything else is scoped to a single Analyze call.
type Dispatcher struct {
	cfg     Config
	breaker *Breaker
	invoker *invoker
}

// New creates a Dispatcher around a long-lived transport. Zero config
// fields get the documented defaults.
func New(cfg Config, t Transport) *Dispatcher {
	cfg.applyDefaults()
	b := NewBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown)
	return &Dispatcher{
		cfg:     cfg,
		breaker: b,
		invoker: newInvoker(cfg, t, b),
	}
}

// Breaker exposes the shared circuit state, mainly for tests.
func (d *Dispatcher) Breaker() *Breaker { return d.breaker }

// Analyze runs every payload through the retrying invoker, at most
// min(len(payloads), MaxWorkers) in flight at once, under the total batch
// deadline. It either returns the full result set sorted ascending by
// page index or a terminal error; there is no partial-success mode.
func (d *Dispatcher) Analyze(ctx context.Context, payloads []PagePayload) ([]InvokeResult, error) {
	if len(payloads) == 0 {
		return nil, &FailedError{Reason: "no results returned"}
	}

	limit := d.cfg.MaxWorkers
	if len(payloads) < limit {
		limit = len(payloads)
	}

	total := d.cfg.TotalTimeout
	if total <= 0 {
		total = defaultTotalTimeout(d.cfg.CallTimeout, len(payloads), limit)
	}

	log.Info().
		Int("pages", len(payloads)).
		Int("workers", limit).
		Dur("total_timeout", total).
		Msg("starting batch analysis")

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make([]InvokeResult, 0, len(payloads))
		firstErr error
	)
	sem := make(chan struct{}, limit)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for _, p := range payloads {
		wg.Add(1)
		go func(p PagePayload) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-tctx.Done():
				return
			}
			defer func() { <-sem }()

			res, err := d.invoker.InvokeOne(tctx, p)
			if err != nil {
				// Cancellation fallout from a sibling failure or the
				// batch deadline is not this page's failure.
				if tctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
					return
				}
				fail(err)
				return
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	elapsed := time.Since(start)

	switch {
	case firstErr != nil:
		metrics.ObserveBatch("failed", elapsed)
		var ie *InvokeError
		if errors.As(firstErr, &ie) {
			log.Error().
				Int("page", ie.Page).
				Int("attempts", ie.Attempts).
				Dur("elapsed", elapsed).
				Msg("batch aborted: page exhausted retries")
			return nil, firstErr
		}
		return nil, &FailedError{Reason: "page invocation failed", Err: firstErr}

	case tctx.Err() != nil && ctx.Err() == nil && len(results) < len(payloads):
		metrics.ObserveBatch("timeout", elapsed)
		log.Error().
			Dur("limit", total).
			Int("completed", len(results)).
			Int("pages", len(payloads)).
			Msg("batch deadline exceeded, discarding partial results")
		return nil, &TimeoutError{Limit: total}

	case ctx.Err() != nil && len(results) < len(payloads):
		metrics.ObserveBatch("cancelled", elapsed)
		return nil, ctx.Err()
	}

	if len(results) == 0 {
		metrics.ObserveBatch("failed", elapsed)
		return nil, &FailedError{Reason: "no results returned"}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	metrics.ObserveBatch("ok", elapsed)
	log.Info().
		Int("pages", len(results)).
		Dur("elapsed", elapsed).
		Msg("batch analysis completed")
	return results, nil
}

// defaultTotalTimeout budgets sequential waves of parallel calls plus 50%
// slack.
func defaultTotalTimeout(perCall time.Duration, pages, limit int) time.Duration {
	waves := (pages + limit - 1) / limit
	return time.Duration(float64(perCall) * float64(waves) * 1.5)
}
