// Package download names and writes finished videos.
package download

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/internal/config"
)

// DefaultMaxLen bounds the prompt-derived part of a file name.
const DefaultMaxLen = 60

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// ErrUnsupportedURL is returned for schemes that cannot be fetched outside
// the page, such as blob: URLs.
var ErrUnsupportedURL = errors.New("unsupported video URL")

// SanitizeFilename keeps ASCII letters, digits, space, underscore and
// hyphen, trims, joins words with underscores and truncates to maxLen.
// An empty result becomes "video".
func SanitizeFilename(text string, maxLen int) string {
	s := unsafeChars.ReplaceAllString(text, "")
	s = strings.TrimSpace(s)
	s = whitespace.ReplaceAllString(s, "_")
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	if s == "" {
		return "video"
	}
	return s
}

// Filename returns flow_<sanitized prompt>_<unix ms>.mp4, under folder when
// one is set. Folder separators are always forward slashes.
func Filename(folder, prompt string, t time.Time) string {
	base := "flow_" + SanitizeFilename(prompt, DefaultMaxLen) + "_" + strconv.FormatInt(t.UnixMilli(), 10) + ".mp4"
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return base
	}
	return path.Join(folder, base)
}

// Downloader writes videos under one directory.
type Downloader struct {
	dir    string
	client *http.Client
	logger *zap.Logger
}

// New creates a Downloader for cfg.Dir, expanding a leading ~.
func New(cfg config.DownloadConfig, logger *zap.Logger) (*Downloader, error) {
	dir, err := homedir.Expand(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("invalid download dir %q: %w", cfg.Dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		dir:    dir,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("downloader"),
	}, nil
}

// Dir returns the expanded download directory.
func (d *Downloader) Dir() string { return d.dir }

// Download fetches rawURL into name, a slash-separated path relative to the
// download directory, and returns the written path.
func (d *Downloader) Download(ctx context.Context, rawURL, name string) (string, error) {
	dest, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid video URL: %w", err)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = d.fetch(ctx, rawURL)
	case "data":
		body, err = decodeDataURL(rawURL)
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if err != nil {
		return "", err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("could not create download folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return "", fmt.Errorf("could not create file: %w", err)
	}
	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("could not write video: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("could not move video into place: %w", err)
	}
	d.logger.Info("Video saved.", zap.String("path", dest), zap.Int64("bytes", n))
	return dest, nil
}

// resolve maps name into the download directory, refusing paths that
// would escape it.
func (d *Downloader) resolve(name string) (string, error) {
	dest := filepath.Join(d.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(d.dir, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file name %q is outside the download directory", name)
	}
	return dest, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP status %s", resp.Status)
	}
	return resp.Body, nil
}

// decodeDataURL returns the payload of a data: URL.
func decodeDataURL(raw string) (io.ReadCloser, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data URL: %w", err)
		}
		return io.NopCloser(strings.NewReader(string(data))), nil
	}
	data, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data URL: %w", err)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}
