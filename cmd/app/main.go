package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/docbatch/internal/config"
	"github.com/local/docbatch/internal/converter"
	"github.com/local/docbatch/internal/docmodel"
	"github.com/local/docbatch/internal/endpoint"
	"github.com/local/docbatch/internal/logger"
	"github.com/local/docbatch/internal/metrics"
	"github.com/local/docbatch/internal/orchestrator"
	"github.com/local/docbatch/internal/rasterize"
	"github.com/local/docbatch/internal/storage"
	"github.com/local/docbatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docbatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	output := flag.String("o", "", "write merged result JSON to this file (default stdout)")
	pages := flag.String("pages", os.Getenv("PAGE_INDEX"), "comma-separated 0-based page indices to analyze (default all)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: docbatch [flags] <input-file | s3://bucket/key>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("exactly one input expected")
	}
	input := flag.Arg(0)

	if err := logger.Init(logger.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send,
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	if cfg.Client.EndpointURL == "" {
		return fmt.Errorf("ENDPOINT_URL is required")
	}

	filter, err := rasterize.ParsePageFilter(*pages)
	if err != nil {
		return err
	}

	metrics.Init()
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := orchestrator.Dependencies{
		Transport: endpoint.New(endpoint.Options{
			URL:            cfg.Client.EndpointURL,
			APIKey:         cfg.Client.APIKey,
			ConnectTimeout: cfg.Client.ConnectTimeout,
			ReadTimeout:    cfg.Client.ReadTimeout,
		}),
	}

	lo := converter.NewLibreOffice(cfg.Client.MaxWorkers)
	if lo.Available() {
		deps.Converter = lo
	}

	var s3cli *storage.Client
	if strings.HasPrefix(input, "s3://") || cfg.Storage.OutputURI != "" {
		s3cli, err = storage.New(ctx, storage.Options{
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			return err
		}
		deps.Storage = s3cli
	}

	if cfg.Status.RedisURL != "" {
		rs, err := store.NewRedisStatus(cfg.Status.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("status store unavailable, continuing without progress reporting")
		} else {
			defer rs.Close()
			deps.Status = rs
		}
	}

	analyzer := orchestrator.New(cfg, deps)

	merged, err := analyzer.AnalyzeFile(ctx, input, filter)
	if err != nil {
		return err
	}

	validatePages(merged, cfg.Client.MergeKey)

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if *output != "" {
		if err := os.WriteFile(*output, out, 0o644); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		log.Info().Str("file", *output).Msg("result written")
	} else {
		fmt.Println(string(out))
	}

	if cfg.Storage.OutputURI != "" {
		uri := resultURI(cfg.Storage.OutputURI, input)
		if err := s3cli.UploadJSON(ctx, uri, out); err != nil {
			return err
		}
	}
	return nil
}

// validatePages runs the typed sanity checks over the merged payload and
// logs anything suspicious; a malformed page is not fatal at this point.
func validatePages(merged map[string]any, key string) {
	pages, err := docmodel.ParsePages(merged, key)
	if err != nil {
		log.Warn().Err(err).Msg("merged result did not parse as typed pages")
		return
	}
	for i, p := range pages {
		if err := p.Validate(); err != nil {
			log.Warn().Int("page", i).Err(err).Msg("page failed validation")
		}
	}
}

// resultURI derives the upload destination: a URI ending in .json is used
// as-is, anything else is treated as a prefix.
func resultURI(outputURI, input string) string {
	if strings.HasSuffix(outputURI, ".json") {
		return outputURI
	}
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSuffix(outputURI, "/") + "/" + name + ".json"
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics listener failed")
	}
}
