package converter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LibreOffice converts Office documents to PDF via headless soffice, one
// fresh profile directory per conversion so parallel runs do not collide.
type LibreOffice struct {
	semaphore chan struct{}
}

// Job represents a document conversion job.
type Job struct {
	InputPath  string
	OutputPath string
	Timeout    time.Duration
}

// Result represents the result of a conversion operation.
type Result struct {
	Success    bool
	OutputPath string
	Error      string
	Duration   time.Duration
}

// NewLibreOffice creates a converter allowing maxWorkers concurrent
// conversions.
func NewLibreOffice(maxWorkers int) *LibreOffice {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	return &LibreOffice{semaphore: make(chan struct{}, maxWorkers)}
}

// Available reports whether LibreOffice is installed.
func (l *LibreOffice) Available() bool {
	out, err := exec.Command("libreoffice", "--version").Output()
	if err != nil {
		return false
	}
	log.Debug().Str("version", strings.TrimSpace(string(out))).Msg("LibreOffice found")
	return true
}

// ConvertToPDF converts a document to PDF format.
func (l *LibreOffice) ConvertToPDF(job Job) Result {
	startTime := time.Now()

	l.semaphore <- struct{}{}
	defer func() { <-l.semaphore }()

	log.Info().Str("input", job.InputPath).Str("output", job.OutputPath).Msg("starting conversion")

	if err := validateInput(job.InputPath); err != nil {
		return Result{Error: fmt.Sprintf("input validation failed: %v", err), Duration: time.Since(startTime)}
	}

	profileDir := filepath.Join(os.TempDir(), "libreoffice_profile_"+uuid.New().String())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return Result{Error: fmt.Sprintf("create profile directory: %v", err), Duration: time.Since(startTime)}
	}
	defer os.RemoveAll(profileDir)

	outputDir := filepath.Dir(job.OutputPath)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{Error: fmt.Sprintf("create output directory: %v", err), Duration: time.Since(startTime)}
	}

	cmd := exec.Command(
		"libreoffice",
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outputDir,
		job.InputPath,
	)

	timeout := job.Timeout
	if timeout == 0 {
		timeout = 180 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Run() }()

	select {
	case err := <-done:
		if err != nil {
			return Result{Error: fmt.Sprintf("conversion failed: %v", err), Duration: time.Since(startTime)}
		}
	case <-time.After(timeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return Result{Error: fmt.Sprintf("conversion timeout after %v", timeout), Duration: time.Since(startTime)}
	}

	// LibreOffice names the output after the input file.
	expected := expectedOutputPath(job.InputPath, outputDir)
	actual := job.OutputPath
	if expected != actual {
		if _, err := os.Stat(expected); err == nil {
			if err := os.Rename(expected, actual); err != nil {
				log.Warn().Err(err).Str("from", expected).Str("to", actual).Msg("failed to rename")
				actual = expected
			}
		}
	}

	if _, err := os.Stat(actual); err != nil {
		return Result{Error: fmt.Sprintf("output file not created: %v", err), Duration: time.Since(startTime)}
	}

	log.Info().Str("output", actual).Dur("duration", time.Since(startTime)).Msg("conversion successful")
	return Result{Success: true, OutputPath: actual, Duration: time.Since(startTime)}
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file")
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty")
	}
	return nil
}

func expectedOutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, name+".pdf")
}
