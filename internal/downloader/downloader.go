// Package downloader fetches gzip-compressed byte ranges over HTTP and returns
// the decompressed content.
package downloader

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// DefaultBaseURL is the public Common Crawl data endpoint.
const DefaultBaseURL = "https://data.commoncrawl.org"

// Config controls the HTTP range fetcher.
type Config struct {
	// BaseURL is joined with the resource name of each pointer.
	BaseURL string
	// Timeout bounds a single request.
	Timeout time.Duration
	// MaxRetries enables transport-level retries. Zero leaves retry decisions to callers.
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	// Limiter throttles requests when set.
	Limiter Limiter
}

// Limiter blocks until a request to url may be sent.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Downloader implements pipeline.RangeDownloader.
type Downloader struct {
	http      *retryablehttp.Client
	baseURL   string
	userAgent string
	limiter   Limiter
	logger    *zap.Logger
}

var _ pipeline.RangeDownloader = (*Downloader)(nil)

// New builds a Downloader from cfg.
func New(cfg Config, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = cfg.Timeout
	client.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.Logger = leveledLogger{sugar: logger.Sugar()}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Downloader{
		http:      client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   cfg.Limiter,
		logger:    logger,
	}
}

// Fetch issues a range GET for ptr and gunzips the body.
func (d *Downloader) Fetch(ctx context.Context, ptr pipeline.ChunkPointer) ([]byte, error) {
	if ptr.Length == 0 {
		return nil, &pipeline.TransferError{Pointer: ptr, Err: fmt.Errorf("zero length range")}
	}
	url := d.resourceURL(ptr.ResourceName)
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, url); err != nil {
			return nil, &pipeline.TransferError{Pointer: ptr, Err: err}
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &pipeline.TransferError{Pointer: ptr, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Range", rangeHeader(ptr))
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	start := time.Now()
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, &pipeline.TransferError{Pointer: ptr, Err: fmt.Errorf("http get %s: %w", url, err)}
	}
	defer resp.Body.Close() //nolint:errcheck // body fully consumed below

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &pipeline.TransferError{
			Pointer:    ptr,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s", resp.Status),
		}
	}

	compressed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pipeline.TransferError{Pointer: ptr, Err: fmt.Errorf("read body: %w", err)}
	}
	data, err := gunzip(compressed)
	if err != nil {
		return nil, &pipeline.TransferError{Pointer: ptr, Err: err}
	}
	d.logger.Debug("range fetched",
		zap.String("resource", ptr.ResourceName),
		zap.Uint64("offset", ptr.Offset),
		zap.Int("compressed_bytes", len(compressed)),
		zap.Int("bytes", len(data)),
		zap.Duration("dur", time.Since(start)),
	)
	return data, nil
}

func (d *Downloader) resourceURL(name string) string {
	return d.baseURL + "/" + strings.TrimLeft(name, "/")
}

func rangeHeader(ptr pipeline.ChunkPointer) string {
	return fmt.Sprintf("bytes=%d-%d", ptr.Offset, ptr.Offset+ptr.Length-1)
}

// gunzip decompresses every gzip member in data; WARC and CDX ranges may
// hold several concatenated members.
func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // reader over memory
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
