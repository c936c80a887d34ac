package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/local/docbatch/internal/config"
	"github.com/local/docbatch/internal/dispatch"
	"github.com/local/docbatch/internal/rasterize"
	"github.com/local/docbatch/internal/store"
)

// fakeTransport answers every page with {"result":["p-<body>"]}, failing
// bodies listed in failFor on every attempt.
type fakeTransport struct {
	mu           sync.Mutex
	contentTypes []string
	failFor      map[string]bool
}

func (f *fakeTransport) Invoke(_ context.Context, contentType string, body []byte) ([]byte, error) {
	f.mu.Lock()
	f.contentTypes = append(f.contentTypes, contentType)
	f.mu.Unlock()

	if f.failFor[string(body)] {
		return nil, errors.New("endpoint rejected page")
	}
	if !strings.HasPrefix(string(body), "page") {
		// Binary payloads (raw image passthrough) get an opaque answer.
		return []byte(`{"result":["img"]}`), nil
	}
	return []byte(fmt.Sprintf(`{"result":["p-%s"]}`, body)), nil
}

// fakeRasterizer expands any document into n synthetic page buffers.
type fakeRasterizer struct{ n int }

func (f *fakeRasterizer) Expand(context.Context, string, int) ([][]byte, error) {
	pages := make([][]byte, f.n)
	for i := range pages {
		pages[i] = []byte(fmt.Sprintf("page%d", i))
	}
	return pages, nil
}

func (f *fakeRasterizer) ContentType() string { return "image/jpeg" }

// statusRecorder keeps every progress snapshot in order.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []store.Status
}

func (s *statusRecorder) Set(_ context.Context, _ string, st store.Status) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, st)
	s.mu.Unlock()
	return nil
}

func (s *statusRecorder) last() (store.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return store.Status{}, false
	}
	return s.statuses[len(s.statuses)-1], true
}

func testConfig() config.Config {
	return config.Config{
		Client: config.ClientConfig{
			MaxWorkers:     2,
			MaxAttempts:    2,
			BackoffBase:    time.Millisecond,
			RequestTimeout: time.Second,
			MergeKey:       "result",
		},
		Raster: config.RasterConfig{DPI: 72, JPEGQuality: 85},
	}
}

func writeFakePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\n%%EOF\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyzeFileMergesAllPages(t *testing.T) {
	rec := &statusRecorder{}
	a := New(testConfig(), Dependencies{
		Transport:  &fakeTransport{},
		Rasterizer: &fakeRasterizer{n: 3},
		Status:     rec,
	})

	merged, err := a.AnalyzeFile(context.Background(), writeFakePDF(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []any{"p-page0", "p-page1", "p-page2"}
	if !reflect.DeepEqual(merged["result"], want) {
		t.Fatalf("got %v, want %v", merged["result"], want)
	}

	last, ok := rec.last()
	if !ok || last.Status != "success" || last.Progress != 100 {
		t.Fatalf("final status %+v", last)
	}
}

func TestAnalyzeFilePageFailureAbortsBatch(t *testing.T) {
	rec := &statusRecorder{}
	a := New(testConfig(), Dependencies{
		Transport:  &fakeTransport{failFor: map[string]bool{"page1": true}},
		Rasterizer: &fakeRasterizer{n: 3},
		Status:     rec,
	})

	_, err := a.AnalyzeFile(context.Background(), writeFakePDF(t), nil)
	var ie *dispatch.InvokeError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InvokeError, got %v", err)
	}
	if ie.Page != 1 || ie.Attempts != 2 {
		t.Fatalf("got page=%d attempts=%d, want page=1 attempts=2", ie.Page, ie.Attempts)
	}

	last, ok := rec.last()
	if !ok || last.Status != "failed" {
		t.Fatalf("final status %+v", last)
	}
}

func TestAnalyzeFileWithPageFilter(t *testing.T) {
	a := New(testConfig(), Dependencies{
		Transport:  &fakeTransport{},
		Rasterizer: &fakeRasterizer{n: 5},
	})

	merged, err := a.AnalyzeFile(context.Background(), writeFakePDF(t), rasterize.PageFilter{0, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []any{"p-page0", "p-page3"}
	if !reflect.DeepEqual(merged["result"], want) {
		t.Fatalf("got %v, want %v", merged["result"], want)
	}
}

func TestAnalyzeFileRejectsOutOfRangeFilter(t *testing.T) {
	a := New(testConfig(), Dependencies{
		Transport:  &fakeTransport{},
		Rasterizer: &fakeRasterizer{n: 2},
	})

	if _, err := a.AnalyzeFile(context.Background(), writeFakePDF(t), rasterize.PageFilter{7}); err == nil {
		t.Fatal("out-of-range page filter accepted")
	}
}

func TestAnalyzeFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.xyz")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := New(testConfig(), Dependencies{Transport: &fakeTransport{}})
	if _, err := a.AnalyzeFile(context.Background(), path, nil); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}

func TestAnalyzeFileImagePassthrough(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{}
	a := New(testConfig(), Dependencies{Transport: transport})

	merged, err := a.AnalyzeFile(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["result"] == nil {
		t.Fatalf("got %v", merged)
	}
	if len(transport.contentTypes) != 1 || transport.contentTypes[0] != "image/png" {
		t.Fatalf("image sent as %v, want native image/png", transport.contentTypes)
	}
}
