package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedTransport answers each call through fn, counting calls.
type scriptedTransport struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]byte, error)
}

func (s *scriptedTransport) Invoke(_ context.Context, _ string, _ []byte) ([]byte, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	return s.fn(call)
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestInvoker(t Transport, b *Breaker, maxAttempts int) *invoker {
	iv := newInvoker(Config{
		Decoder:     DecodeJSON,
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		CallTimeout: time.Second,
	}, t, b)
	iv.sleep = func(context.Context, time.Duration) error { return nil }
	return iv
}

func TestInvokeOneExhaustsAttempts(t *testing.T) {
	transport := &scriptedTransport{fn: func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	iv := newTestInvoker(transport, NewBreaker(100, time.Minute), 5)

	_, err := iv.InvokeOne(context.Background(), PagePayload{Index: 3})
	var ie *InvokeError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvokeError, got %v", err)
	}
	if ie.Page != 3 || ie.Attempts != 5 {
		t.Fatalf("got page=%d attempts=%d, want page=3 attempts=5", ie.Page, ie.Attempts)
	}
	if n := transport.callCount(); n != 5 {
		t.Fatalf("transport called %d times, want 5", n)
	}
}

func TestInvokeOneSucceedsAfterRetries(t *testing.T) {
	transport := &scriptedTransport{fn: func(call int) ([]byte, error) {
		if call < 2 {
			return nil, errors.New("transient")
		}
		return []byte(`{"result":["ok"]}`), nil
	}}
	b := NewBreaker(100, time.Minute)
	iv := newTestInvoker(transport, b, 5)

	res, err := iv.InvokeOne(context.Background(), PagePayload{Index: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Index != 1 {
		t.Fatalf("got index %d, want 1", res.Index)
	}
	if n := transport.callCount(); n != 3 {
		t.Fatalf("transport called %d times, want 3", n)
	}
	// Two failures then a success: consecutive-failure counter is back at
	// zero, so the breaker needs a full threshold run to open.
	if b.Check() != nil {
		t.Fatal("breaker should be closed after success")
	}
}

func TestInvokeOneOpenCircuitConsumesAttempts(t *testing.T) {
	transport := &scriptedTransport{fn: func(int) ([]byte, error) {
		return []byte(`{"result":[]}`), nil
	}}
	b := NewBreaker(1, time.Hour)
	b.RecordFailure() // open for an hour
	iv := newTestInvoker(transport, b, 3)

	_, err := iv.InvokeOne(context.Background(), PagePayload{Index: 0})
	var ie *InvokeError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvokeError, got %v", err)
	}
	if !IsCircuitOpen(ie.Err) {
		t.Fatalf("last error should be the circuit rejection, got %v", ie.Err)
	}
	if n := transport.callCount(); n != 0 {
		t.Fatalf("transport called %d times while circuit open, want 0", n)
	}
}

func TestInvokeOneRecoversWhenCircuitCloses(t *testing.T) {
	transport := &scriptedTransport{fn: func(int) ([]byte, error) {
		return []byte(`{"result":["ok"]}`), nil
	}}

	base := time.Now()
	clock := base
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return clock }
	b.RecordFailure()

	iv := newTestInvoker(transport, b, 3)
	// The cooldown passes while the invoker backs off.
	iv.sleep = func(context.Context, time.Duration) error {
		clock = clock.Add(11 * time.Second)
		return nil
	}

	res, err := iv.InvokeOne(context.Background(), PagePayload{Index: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Index != 2 {
		t.Fatalf("got index %d, want 2", res.Index)
	}
	if n := transport.callCount(); n != 1 {
		t.Fatalf("transport called %d times, want 1", n)
	}
}

func TestInvokeOneDecodeFailureRetries(t *testing.T) {
	transport := &scriptedTransport{fn: func(call int) ([]byte, error) {
		if call == 0 {
			return []byte("not json"), nil
		}
		return []byte(`{"result":["ok"]}`), nil
	}}
	iv := newTestInvoker(transport, NewBreaker(100, time.Minute), 3)

	if _, err := iv.InvokeOne(context.Background(), PagePayload{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := transport.callCount(); n != 2 {
		t.Fatalf("transport called %d times, want 2", n)
	}
}

func TestInvokeOneParentCancellation(t *testing.T) {
	transport := &scriptedTransport{fn: func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	iv := newTestInvoker(transport, NewBreaker(100, time.Minute), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := iv.InvokeOne(ctx, PagePayload{Index: 0})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := transport.callCount(); n != 0 {
		t.Fatalf("transport called %d times after cancel, want 0", n)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 200 * time.Millisecond

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(base, attempt)
		if d < prev {
			t.Fatalf("delay shrank at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > maxBackoff {
			t.Fatalf("delay %v exceeds cap at attempt %d", d, attempt)
		}
		prev = d
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 210 * time.Millisecond},
		{1, 420 * time.Millisecond},
		{2, 830 * time.Millisecond},
		{3, 1640 * time.Millisecond},
		{4, maxBackoff},
		{40, maxBackoff},
	}
	for _, tc := range cases {
		if got := backoffDelay(base, tc.attempt); got != tc.want {
			t.Errorf("backoffDelay(%v, %d) = %v, want %v", base, tc.attempt, got, tc.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	out, err := DecodeJSON([]byte(`{"result":["a"],"version":"1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["version"] != "1" {
		t.Fatalf("got %v", out)
	}

	if _, err := DecodeJSON([]byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}
