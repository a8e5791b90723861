// Package documents turns uploaded files into the plain text a duel is
// grounded on. Plain text and DOCX are decoded in process; PDF and images
// are handed to external programs.
package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ahrav/go-versus/infrastructure/cache"
	"github.com/ahrav/go-versus/infrastructure/command"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

// MIME types dispatched by the extractor.
const (
	MIMEPlainText = "text/plain"
	MIMEPDF       = "application/pdf"
	MIMEDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEZip       = "application/zip"
)

// rasterImages are the image types handed to the OCR command.
var rasterImages = []string{"image/png", "image/jpeg", "image/gif", "image/bmp", "image/tiff", "image/webp"}

// ErrTooLarge is returned for documents above the configured size limit.
var ErrTooLarge = errors.New("document too large")

var _ ports.TextExtractor = (*Extractor)(nil)

// Config controls extraction limits and the external programs.
type Config struct {
	// MaxBytes rejects larger inputs before any work is done.
	MaxBytes int64
	// PDFCommand reads a PDF on stdin and writes text to stdout.
	PDFCommand string
	// OCRCommand reads an image on stdin and writes text to stdout. Empty
	// disables image support.
	OCRCommand string
	// CacheTTL is how long extracted text is kept, keyed by content hash.
	CacheTTL time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the function used to run external programs.
func WithRunner(r command.Runner) Option { return func(e *Extractor) { e.run = r } }

// WithCache replaces the default in-memory text cache.
func WithCache(c ports.CacheStore) Option { return func(e *Extractor) { e.cache = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(e *Extractor) { e.logger = l } }

// Extractor implements ports.TextExtractor.
type Extractor struct {
	maxBytes int64
	pdfArgs  []string
	ocrArgs  []string
	ttl      time.Duration

	run    command.Runner
	cache  ports.CacheStore
	logger *slog.Logger
}

// NewExtractor parses the configured command lines and returns an Extractor.
func NewExtractor(cfg Config, opts ...Option) (*Extractor, error) {
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("documents: max bytes must be positive, got %d", cfg.MaxBytes)
	}
	pdfArgs, err := command.Parse(cfg.PDFCommand)
	if err != nil {
		return nil, fmt.Errorf("documents: pdf command: %w", err)
	}
	if len(pdfArgs) == 0 {
		return nil, errors.New("documents: pdf command is required")
	}
	ocrArgs, err := command.Parse(cfg.OCRCommand)
	if err != nil {
		return nil, fmt.Errorf("documents: ocr command: %w", err)
	}

	e := &Extractor{
		maxBytes: cfg.MaxBytes,
		pdfArgs:  pdfArgs,
		ocrArgs:  ocrArgs,
		ttl:      cfg.CacheTTL,
		run:      command.Exec,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = cache.NewMemoryStore(cfg.CacheTTL)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Extract returns the trimmed text of data. name is only used in errors and
// logs; the format is sniffed from the content.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &ports.ExtractionError{Name: name, Err: domain.ErrEmptyDocument}
	}
	if int64(len(data)) > e.maxBytes {
		return "", &ports.ExtractionError{
			Name: name,
			Err:  fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), e.maxBytes),
		}
	}

	sum := sha256.Sum256(data)
	key := "doc:" + hex.EncodeToString(sum[:])
	if v, ok, err := e.cache.Get(ctx, key); err == nil && ok {
		if text, ok := v.(string); ok {
			return text, nil
		}
	}

	mime := mimetype.Detect(data)
	start := time.Now()
	text, err := e.dispatch(ctx, mime, data)
	if err != nil {
		return "", &ports.ExtractionError{Name: name, MIMEType: mime.String(), Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ports.ExtractionError{Name: name, MIMEType: mime.String(), Err: domain.ErrEmptyDocument}
	}

	if err := e.cache.Set(ctx, key, text, e.ttl); err != nil {
		e.logger.WarnContext(ctx, "extracted text not cached", "name", name, "error", err)
	}
	e.logger.DebugContext(ctx, "document extracted",
		"name", name,
		"mime", mime.String(),
		"bytes", len(data),
		"chars", utf8.RuneCountInString(text),
		"duration", time.Since(start))
	return text, nil
}

func (e *Extractor) dispatch(ctx context.Context, mime *mimetype.MIME, data []byte) (string, error) {
	switch {
	case mime.Is(MIMEPDF):
		return e.runCommand(ctx, e.pdfArgs, data)
	case isZipFamily(mime):
		return extractDOCX(data)
	case strings.HasPrefix(mime.String(), "image/"):
		if !isRaster(mime) {
			return "", fmt.Errorf("%w: %s is not a raster image", ports.ErrUnsupportedFormat, mime.String())
		}
		if len(e.ocrArgs) == 0 {
			return "", fmt.Errorf("%w: image text recognition is not configured", ports.ErrUnsupportedFormat)
		}
		return e.runCommand(ctx, e.ocrArgs, data)
	case isTextFamily(mime):
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: text is not valid UTF-8", ports.ErrUnsupportedFormat)
		}
		return string(data), nil
	default:
		return "", ports.ErrUnsupportedFormat
	}
}

func (e *Extractor) runCommand(ctx context.Context, argv []string, data []byte) (string, error) {
	out, err := e.run(ctx, argv, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func isRaster(mime *mimetype.MIME) bool {
	for _, m := range rasterImages {
		if mime.Is(m) {
			return true
		}
	}
	return false
}

func isTextFamily(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is(MIMEPlainText) {
			return true
		}
	}
	return false
}

func isZipFamily(mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if m.Is(MIMEDOCX) || m.Is(MIMEZip) {
			return true
		}
	}
	return false
}
