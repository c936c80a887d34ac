package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/docbatch/internal/config"
	"github.com/local/docbatch/internal/converter"
	"github.com/local/docbatch/internal/dispatch"
	"github.com/local/docbatch/internal/filetype"
	"github.com/local/docbatch/internal/metrics"
	"github.com/local/docbatch/internal/rasterize"
	"github.com/local/docbatch/internal/store"
)

// StatusStore reports batch progress; a nil store disables reporting.
type StatusStore interface {
	Set(ctx context.Context, batchID string, st store.Status) error
}

// Converter turns Office documents into PDFs before rasterization.
type Converter interface {
	ConvertToPDF(job converter.Job) converter.Result
}

// Storage resolves s3:// inputs to local files.
type Storage interface {
	DownloadToTemp(ctx context.Context, uri, password string) (string, error)
}

// Dependencies are the collaborators the analyzer is built from. Only
// Transport is required.
type Dependencies struct {
	Transport  dispatch.Transport
	Rasterizer rasterize.Rasterizer
	Detector   *filetype.Detector
	Converter  Converter
	Storage    Storage
	Status     StatusStore
}

// Analyzer is the batch document analysis client: it expands one input
// document into page payloads and runs them through the dispatcher into a
// single merged result.
type Analyzer struct {
	cfg        config.Config
	deps       Dependencies
	dispatcher *dispatch.Dispatcher
}

// New wires the analyzer. The dispatcher, its circuit breaker and the
// transport live for the lifetime of the Analyzer and are shared by every
// AnalyzeFile call.
func New(cfg config.Config, deps Dependencies) *Analyzer {
	if deps.Detector == nil {
		deps.Detector = filetype.New()
	}
	if deps.Rasterizer == nil {
		deps.Rasterizer = rasterize.NewFitz(cfg.Raster.JPEGQuality, rasterize.ColorMode(cfg.Raster.ColorMode))
	}

	d := dispatch.New(dispatch.Config{
		MaxWorkers:       cfg.Client.MaxWorkers,
		MaxAttempts:      cfg.Client.MaxAttempts,
		BackoffBase:      cfg.Client.BackoffBase,
		CircuitThreshold: cfg.Client.CircuitThreshold,
		CircuitCooldown:  cfg.Client.CircuitCooldown,
		CallTimeout:      cfg.Client.CallTimeout(),
		TotalTimeout:     cfg.Client.TotalTimeout,
		MergeKey:         cfg.Client.MergeKey,
	}, deps.Transport)

	return &Analyzer{cfg: cfg, deps: deps, dispatcher: d}
}

// AnalyzeFile analyzes one document end to end and returns the merged
// result payload. filter optionally restricts the 0-based page indices.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string, filter rasterize.PageFilter) (map[string]any, error) {
	batchID := uuid.NewString()
	startTime := time.Now()

	log.Info().Str("batch_id", batchID).Str("file", path).Msg("starting document analysis")
	a.setStatus(ctx, batchID, "processing", 5, "Starting analysis", &startTime, nil, map[string]any{"file": path})

	localPath, cleanup, err := a.prepareLocalFile(ctx, path)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		a.fail(ctx, batchID, startTime, err)
		return nil, err
	}

	payloads, err := a.buildPayloads(ctx, localPath, filter)
	if err != nil {
		a.fail(ctx, batchID, startTime, err)
		return nil, err
	}

	a.setStatus(ctx, batchID, "processing", 40, fmt.Sprintf("Dispatching %d pages", len(payloads)), &startTime, nil, map[string]any{
		"file":  path,
		"pages": len(payloads),
	})

	results, err := a.dispatcher.Analyze(ctx, payloads)
	if err != nil {
		metrics.IncPages("failed", len(payloads))
		a.fail(ctx, batchID, startTime, err)
		return nil, err
	}
	metrics.IncPages("ok", len(results))

	merged := a.dispatcher.Merge(results)

	endTime := time.Now()
	a.setStatus(ctx, batchID, "success", 100, "Analysis completed", &startTime, &endTime, map[string]any{
		"file":             path,
		"pages":            len(results),
		"duration_seconds": time.Since(startTime).Seconds(),
	})

	log.Info().
		Str("batch_id", batchID).
		Int("pages", len(results)).
		Dur("duration", time.Since(startTime)).
		Msg("document analysis completed")
	return merged, nil
}

// prepareLocalFile downloads s3:// inputs, verifies the file type and
// converts Office documents to PDF. Returns the local path to analyze and
// a cleanup function for any temp files.
func (a *Analyzer) prepareLocalFile(ctx context.Context, path string) (string, func(), error) {
	var cleanupFuncs []func()
	cleanup := func() {
		for _, fn := range cleanupFuncs {
			fn()
		}
	}

	localPath := path
	if strings.HasPrefix(path, "s3://") {
		if a.deps.Storage == nil {
			return "", cleanup, fmt.Errorf("s3 input %s but no storage configured", path)
		}
		tmp, err := a.deps.Storage.DownloadToTemp(ctx, path, a.cfg.Storage.FilePassword)
		if err != nil {
			return "", cleanup, err
		}
		cleanupFuncs = append(cleanupFuncs, func() { os.Remove(tmp) })
		localPath = tmp
	}

	// Extension first: unrecognized inputs fail before any byte is read.
	if _, err := filetype.ResolveContentType(localPath); err != nil {
		return "", cleanup, err
	}

	info, err := a.deps.Detector.Detect(localPath)
	if err != nil {
		return "", cleanup, err
	}
	if !info.Supported {
		return "", cleanup, fmt.Errorf("unsupported file type: %s", info.Description)
	}

	if info.NeedsConversion {
		if a.deps.Converter == nil {
			return "", cleanup, fmt.Errorf("input %s needs PDF conversion but no converter configured", path)
		}
		converted := filepath.Join(os.TempDir(), fmt.Sprintf("docbatch_%s.pdf", uuid.NewString()))
		res := a.deps.Converter.ConvertToPDF(converter.Job{InputPath: localPath, OutputPath: converted})
		if !res.Success {
			return "", cleanup, fmt.Errorf("conversion failed: %s", res.Error)
		}
		cleanupFuncs = append(cleanupFuncs, func() { os.Remove(res.OutputPath) })
		log.Info().Str("pdf", res.OutputPath).Dur("duration", res.Duration).Msg("converted input to PDF")
		localPath = res.OutputPath
	}

	return localPath, cleanup, nil
}

// buildPayloads expands the document into page buffers, applies the page
// filter and builds one immutable payload per selected page.
func (a *Analyzer) buildPayloads(ctx context.Context, localPath string, filter rasterize.PageFilter) ([]dispatch.PagePayload, error) {
	info, err := a.deps.Detector.Detect(localPath)
	if err != nil {
		return nil, err
	}
	sourceName := filepath.Base(localPath)

	// Plain raster images skip rasterization and go out unmodified.
	// Multi-page TIFFs go through the rasterizer like PDFs.
	if info.IsImage && info.MIMEType != "image/tiff" {
		if _, err := filter.Select(1); err != nil {
			return nil, err
		}
		body, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		return []dispatch.PagePayload{{
			Index:       0,
			ContentType: info.MIMEType,
			Body:        body,
			SourceName:  sourceName,
		}}, nil
	}

	if info.IsPDF {
		// Authoritative page count up front so a bad filter fails before
		// any rendering happens.
		if n, err := api.PageCountFile(localPath); err != nil {
			log.Warn().Err(err).Str("file", sourceName).Msg("pdf page count failed, deferring validation to rasterizer")
		} else if _, err := filter.Select(n); err != nil {
			return nil, err
		}
	}

	buffers, err := a.deps.Rasterizer.Expand(ctx, localPath, a.cfg.Raster.DPI)
	if err != nil {
		return nil, fmt.Errorf("rasterize %s: %w", sourceName, err)
	}

	selected, err := filter.Select(len(buffers))
	if err != nil {
		return nil, err
	}

	contentType := a.deps.Rasterizer.ContentType()
	payloads := make([]dispatch.PagePayload, 0, len(selected))
	for _, idx := range selected {
		payloads = append(payloads, dispatch.PagePayload{
			Index:       idx,
			ContentType: contentType,
			Body:        buffers[idx],
			SourceName:  sourceName,
		})
	}

	log.Info().
		Str("file", sourceName).
		Int("total_pages", len(buffers)).
		Int("selected_pages", len(payloads)).
		Msg("document expanded into page payloads")
	return payloads, nil
}

func (a *Analyzer) setStatus(ctx context.Context, batchID, status string, progress int, msg string, start, end *time.Time, meta map[string]any) {
	if a.deps.Status == nil {
		return
	}
	_ = a.deps.Status.Set(ctx, batchID, store.Status{
		Status:   status,
		Progress: progress,
		Message:  msg,
		Start:    start,
		End:      end,
		Metadata: meta,
	})
}

func (a *Analyzer) fail(ctx context.Context, batchID string, startTime time.Time, err error) {
	endTime := time.Now()
	a.setStatus(ctx, batchID, "failed", 100, err.Error(), &startTime, &endTime, nil)
	log.Error().Err(err).Str("batch_id", batchID).Dur("duration", time.Since(startTime)).Msg("document analysis failed")
}
