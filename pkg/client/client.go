// Package client fetches the published manifest and catalog files over HTTP,
// retrying transient failures.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/manifest"
	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/retry"
)

// ErrManifestUnavailable is returned with an empty manifest when the
// published manifest cannot be retrieved or decoded.
var ErrManifestUnavailable = errors.New("manifest unavailable")

// FetchError describes a failed file download.
type FetchError struct {
	Path       string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: server returned %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Client reads from a server that serves manifest.json and the catalog files
// under their manifest paths.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	log         *zap.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Logger      *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		log:         cfg.Logger,
	}
	c.retryConfig.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.log.Debug("retrying request",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return c
}

// EncodePath percent-encodes each segment of a catalog path, leaving the
// separators intact.
func EncodePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// Fetch downloads the file listed under path. Non-2xx responses fail with a
// *FetchError; server errors and transport errors are retried first.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	target := c.baseURL + EncodePath(path)

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &FetchError{Path: path, Err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, retry.Retryable(&FetchError{Path: path, Err: err})
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			ferr := &FetchError{Path: path, StatusCode: resp.StatusCode}
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(ferr)
			}
			return nil, ferr
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.Retryable(&FetchError{Path: path, Err: err})
		}
		return data, nil
	})
}

// FetchManifest retrieves the published manifest, bypassing HTTP caches. On
// any failure it returns an empty manifest together with an error wrapping
// ErrManifestUnavailable, so callers can still render an empty catalog.
func (c *Client) FetchManifest(ctx context.Context) (*manifest.Manifest, error) {
	m, err := retry.DoWithResult(ctx, c.retryConfig, func() (*manifest.Manifest, error) {
		target := c.baseURL + "/" + manifest.FileName + "?_=" + strconv.FormatInt(time.Now().UnixNano(), 10)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
			}
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}
		return manifest.Decode(resp.Body)
	})
	if err != nil {
		c.log.Warn("manifest fetch failed", zap.String("base_url", c.baseURL), zap.Error(err))
		return manifest.Empty(), fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}
	return m, nil
}
