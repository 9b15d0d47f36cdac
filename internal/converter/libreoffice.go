package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WorkDirPrefix names the per-conversion scratch directories under TempDir.
const WorkDirPrefix = "pdfdesk_convert_"

var (
	// ErrNotInstalled means no LibreOffice binary was found.
	ErrNotInstalled = errors.New("libreoffice not installed")
	// ErrProtected means the office document is password protected.
	ErrProtected = errors.New("document is password protected")
)

// Options configures the converter.
type Options struct {
	// Binary is the LibreOffice executable; empty means search PATH for
	// soffice then libreoffice.
	Binary     string
	MaxWorkers int
	Timeout    time.Duration
	TempDir    string
}

// LibreOffice converts office documents to PDF with headless LibreOffice.
// Each conversion gets its own user profile so conversions can run in parallel.
type LibreOffice struct {
	binary    string
	version   string
	timeout   time.Duration
	tempDir   string
	semaphore chan struct{}
}

// NewLibreOffice locates the binary and verifies it runs.
func NewLibreOffice(opts Options) (*LibreOffice, error) {
	bin, err := locate(opts.Binary)
	if err != nil {
		return nil, err
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	l := &LibreOffice{
		binary:    bin,
		timeout:   opts.Timeout,
		tempDir:   opts.TempDir,
		semaphore: make(chan struct{}, opts.MaxWorkers),
	}
	if err := l.checkInstallation(); err != nil {
		return nil, err
	}
	log.Info().Str("binary", bin).Str("version", l.version).Int("max_workers", opts.MaxWorkers).Msg("LibreOffice converter initialized")
	return l, nil
}

func locate(bin string) (string, error) {
	candidates := []string{"soffice", "libreoffice"}
	if bin != "" {
		candidates = []string{bin}
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotInstalled, strings.Join(candidates, ", "))
}

// checkInstallation verifies LibreOffice is available
func (l *LibreOffice) checkInstallation() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, l.binary, "--version").Output()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}
	l.version = strings.TrimSpace(string(out))
	return nil
}

// Version is the output of --version captured at startup.
func (l *LibreOffice) Version() string { return l.version }

// ConvertToPDF converts the office document data, named name, to PDF bytes.
func (l *LibreOffice) ConvertToPDF(ctx context.Context, name string, data []byte) ([]byte, error) {
	start := time.Now()
	if len(data) == 0 {
		return nil, errors.New("input validation failed: file is empty")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !IsSupported(ext) {
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}

	select {
	case l.semaphore <- struct{}{}:
		defer func() { <-l.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	work := filepath.Join(l.tempDir, WorkDirPrefix+uuid.NewString())
	profileDir := filepath.Join(work, "profile")
	outDir := filepath.Join(work, "out")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	defer os.RemoveAll(work)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	input := filepath.Join(work, "input"+ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, l.binary, l.args(profileDir, outDir, input)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")
	if err := cmd.Run(); err != nil {
		if cctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("conversion timeout after %v", l.timeout)
		}
		if looksProtected(output.String()) {
			return nil, ErrProtected
		}
		return nil, fmt.Errorf("conversion failed: %w: %s", err, strings.TrimSpace(output.String()))
	}

	pdf, err := os.ReadFile(expectedOutputPath(input, outDir))
	if err != nil {
		if looksProtected(output.String()) {
			return nil, ErrProtected
		}
		return nil, fmt.Errorf("output file not created: %w", err)
	}
	log.Info().Str("input", name).Int("bytes", len(pdf)).Dur("duration", time.Since(start)).Msg("conversion successful")
	return pdf, nil
}

func (l *LibreOffice) args(profileDir, outDir, input string) []string {
	return []string{
		"-env:UserInstallation=file://" + filepath.ToSlash(profileDir),
		"--headless",
		"--nologo",
		"--nofirststartwizard",
		"--nolockcheck",
		"--convert-to", "pdf",
		"--outdir", outDir,
		input,
	}
}

func looksProtected(out string) bool {
	s := strings.ToLower(out)
	return strings.Contains(s, "password") || strings.Contains(s, "encrypted")
}

// expectedOutputPath is where LibreOffice writes the converted file.
func expectedOutputPath(inputPath, outputDir string) string {
	base := filepath.Base(inputPath)
	return filepath.Join(outputDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
}

var supported = map[string]bool{
	"doc": true, "docx": true, "rtf": true, "odt": true, // Word processing
	"xls": true, "xlsx": true, "ods": true, // Spreadsheets
	"ppt": true, "pptx": true, "odp": true, // Presentations
}

// SupportedExtensions returns the extensions accepted for conversion.
func SupportedExtensions() []string {
	return []string{"doc", "docx", "rtf", "odt", "xls", "xlsx", "ods", "ppt", "pptx", "odp"}
}

// IsSupported checks if a file extension is supported for conversion
func IsSupported(extension string) bool {
	return supported[strings.ToLower(strings.TrimPrefix(extension, "."))]
}
