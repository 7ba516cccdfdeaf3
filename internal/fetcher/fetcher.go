// Package fetcher downloads municipal permit exports over HTTP(S) or FTP so
// the parser can read them from local disk.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/config"
	"github.com/sells-group/permit-leads/internal/resilience"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures both transports.
type Options struct {
	UserAgent string
	Timeout   time.Duration
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Retry     resilience.RetryConfig
}

// OptionsFrom builds Options from application config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RateLimit: cfg.Fetch.RateLimit,
		Retry:     resilience.FromRetryConfig(cfg.Retry, "fetch"),
	}
}

// ForURL returns the fetcher for the URL's scheme.
func ForURL(rawURL string, opts Options) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: parse url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPFetcher(opts), nil
	case "ftp":
		return NewFTPFetcher(opts), nil
	}
	return nil, eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
}

// DownloadToFile fetches rawURL into path and returns the bytes written. The
// body is written to a sibling temp file and renamed into place, so a failed
// download never leaves a truncated file at path.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		return n, eris.Wrap(err, "fetcher: write file")
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrap(err, "fetcher: close file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, eris.Wrap(err, "fetcher: rename file")
	}

	zap.L().Info("fetcher: downloaded",
		zap.String("url", redact(rawURL)),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return n, nil
}

// Fetch picks the transport for rawURL and downloads it into path.
func Fetch(ctx context.Context, rawURL, path string, opts Options) (int64, error) {
	f, err := ForURL(rawURL, opts)
	if err != nil {
		return 0, err
	}
	return DownloadToFile(ctx, f, rawURL, path)
}

// redact drops credentials from a URL before logging it.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	return u.Redacted()
}
