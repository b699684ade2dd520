package fetch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kubiGamer6000/gemini-video-recognition-api/internal/shared/telemetry"
)

const (
	fetchTimeout = 5 * time.Minute

	genericBinaryType = "application/octet-stream"
	defaultVideoType  = "video/mp4"
	defaultVideoExt   = ".mp4"
)

// Many CDNs and social platforms serve video with a generic or missing
// content-type header; these substrings identify URLs that are video anyway.
var videoHostSubstrings = []string{
	"tiktokcdn",
	"tiktok.com",
	"youtube.com",
	"youtu.be",
	"instagram",
	"fbcdn",
	"twimg",
}

var extensionTypes = []struct {
	ext      string
	mimeType string
}{
	{".mp4", "video/mp4"},
	{".webm", "video/webm"},
	{".mov", "video/quicktime"},
	{".avi", "video/x-msvideo"},
}

var videoExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",
}

var videoPathTokens = []string{"video", "watch", "stream"}

// RetrievalError reports a failed attempt to retrieve a remote video.
type RetrievalError struct {
	URL string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.URL, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Download describes a fetched video on local disk.
type Download struct {
	Path     string
	MimeType string
	Size     int64
}

// Fetcher retrieves remote videos into local temporary storage.
type Fetcher struct {
	tmpDir string
	client *http.Client
}

// New constructs a Fetcher that stores downloads under tmpDir.
func New(tmpDir string) *Fetcher {
	if strings.TrimSpace(tmpDir) == "" {
		tmpDir = os.TempDir()
	}
	return &Fetcher{
		tmpDir: tmpDir,
		client: &http.Client{
			Timeout: fetchTimeout, // Videos can be large
		},
	}
}

// Fetch downloads the resource at sourceURL to a temporary file and infers
// its media type. It returns the download and a cleanup function that removes
// the file; the caller should always invoke the cleanup function when the file
// is no longer needed.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) (Download, func() error, error) {
	probeType := f.probeContentType(ctx, sourceURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	declared := cleanContentType(resp.Header.Get("Content-Type"))
	if declared == "" {
		declared = probeType
	}
	if declared == "" {
		declared = genericBinaryType
	}
	mimeType := correctVideoType(declared, sourceURL)

	if err := os.MkdirAll(f.tmpDir, 0o755); err != nil {
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: fmt.Errorf("ensure tmp dir: %w", err)}
	}

	path := filepath.Join(f.tmpDir, randomHex(16)+extensionForType(mimeType))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: fmt.Errorf("create tmp file: %w", err)}
	}

	size, err := io.Copy(dst, &progressReader{r: resp.Body, total: resp.ContentLength, url: sourceURL})
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: fmt.Errorf("copy download: %w", err)}
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return Download{}, nil, &RetrievalError{URL: sourceURL, Err: fmt.Errorf("close tmp file: %w", err)}
	}

	telemetry.Info("fetch.complete", map[string]any{
		"url":       sourceURL,
		"path":      path,
		"mime_type": mimeType,
		"size":      humanize.Bytes(uint64(size)),
	})

	cleanup := func() error {
		return os.Remove(path)
	}
	return Download{Path: path, MimeType: mimeType, Size: size}, cleanup, nil
}

// probeContentType issues a header-only request for the declared content type.
// Probe failures are non-fatal; the full retrieval may still yield a type.
func (f *Fetcher) probeContentType(ctx context.Context, sourceURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return ""
	}
	resp, err := f.client.Do(req)
	if err != nil {
		telemetry.Warn("fetch.probe_failed", map[string]any{"url": sourceURL, "error": err.Error()})
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		telemetry.Warn("fetch.probe_failed", map[string]any{"url": sourceURL, "status": resp.StatusCode})
		return ""
	}
	return cleanContentType(resp.Header.Get("Content-Type"))
}

// correctVideoType recovers a concrete video type from the source URL when the
// declared type is too generic to act on.
func correctVideoType(declared, sourceURL string) string {
	if !isGenericType(declared) {
		return declared
	}
	lowerURL := strings.ToLower(sourceURL)
	for _, host := range videoHostSubstrings {
		if strings.Contains(lowerURL, host) {
			return defaultVideoType
		}
	}
	for _, et := range extensionTypes {
		if strings.Contains(lowerURL, et.ext) {
			return et.mimeType
		}
	}
	for _, token := range videoPathTokens {
		if strings.Contains(lowerURL, token) {
			return defaultVideoType
		}
	}
	return declared
}

func isGenericType(mimeType string) bool {
	switch mimeType {
	case "", genericBinaryType, "binary/octet-stream", "application/binary":
		return true
	}
	return false
}

func extensionForType(mimeType string) string {
	if ext, ok := videoExtensions[mimeType]; ok {
		return ext
	}
	return defaultVideoExt
}

// cleanContentType strips parameters such as charset from a content-type header.
func cleanContentType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		if i := strings.Index(raw, ";"); i >= 0 {
			raw = raw[:i]
		}
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// progressReader logs transfer progress roughly every 10% when the total
// size is known.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastDecile int
	url        string
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		decile := int(p.read * 10 / p.total)
		if decile > p.lastDecile {
			p.lastDecile = decile
			telemetry.Info("fetch.progress", map[string]any{
				"url":      p.url,
				"percent":  decile * 10,
				"received": humanize.Bytes(uint64(p.read)),
				"total":    humanize.Bytes(uint64(p.total)),
			})
		}
	}
	return n, err
}
