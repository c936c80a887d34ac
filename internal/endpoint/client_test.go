package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInvokeSuccess(t *testing.T) {
	var gotContentType, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":["ok"]}`))
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, APIKey: "secret"})
	raw, err := c.Invoke(context.Background(), "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"result":["ok"]}` {
		t.Fatalf("got body %q", raw)
	}
	if gotContentType != "image/jpeg" {
		t.Fatalf("got Content-Type %q", gotContentType)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("got Authorization %q", gotAuth)
	}
	if string(gotBody) != "jpeg-bytes" {
		t.Fatalf("got request body %q", gotBody)
	}
}

func TestInvokeNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL})
	_, err := c.Invoke(context.Background(), "image/jpeg", nil)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadGateway {
		t.Fatalf("got status %d", he.StatusCode)
	}
	if he.Body != "upstream unavailable" {
		t.Fatalf("got body %q", he.Body)
	}
}

func TestInvokeContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(Options{URL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Invoke(ctx, "image/jpeg", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Fatalf("got %q", got)
	}
}
