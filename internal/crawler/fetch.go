package crawler

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// FetchConfig carries the layered timeouts and transport options of
// spec.md §4.5 step 5: connect, read (2x connect), write (1x connect),
// pool (3x connect).
type FetchConfig struct {
	ConnectTimeout  time.Duration
	UserAgent       string
	FollowRedirects bool
	InsecureTLS     bool
	ProxyURL        string
}

// DefaultFetchConfig returns the spec's default layered timeout set
// with a 30s connect baseline.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		ConnectTimeout:  30 * time.Second,
		UserAgent:       "sitesearch-crawler/1.0",
		FollowRedirects: true,
	}
}

// NewHTTPClient builds an *http.Client whose transport timeouts derive
// from cfg.ConnectTimeout per spec.md §4.5 step 5, with the configured
// proxy, TLS verification flag and cookie jar applied.
func NewHTTPClient(cfg FetchConfig) *http.Client {
	connect := cfg.ConnectTimeout
	read := 2 * connect
	write := connect
	pool := 3 * connect

	proxyFunc := http.ProxyFromEnvironment
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			proxyFunc = http.ProxyURL(proxyURL)
		}
	}

	transport := &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
		TLSHandshakeTimeout: connect,
		IdleConnTimeout:     pool,
		WriteBufferSize:     0,
	}

	jar, _ := cookiejar.New(nil)

	client := &http.Client{
		Timeout:   read + write,
		Transport: transport,
		Jar:       jar,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// FetchResult is the raw outcome of fetching one URL.
type FetchResult struct {
	StatusCode int
	MimeType   string
	Body       []byte
	Headers    map[string]string
}

// SkipError classifies a fetch outcome that should not retry or fail
// the worker, but must still be acked (spec.md §4.5 step 5, §7).
type SkipError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("crawler: skip %s (status %d): %s", e.URL, e.StatusCode, e.Reason)
}

// Fetch performs the HTTP GET of spec.md §4.5 step 5.
func Fetch(ctx context.Context, client *http.Client, cfg FetchConfig, url string) (FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return FetchResult{StatusCode: resp.StatusCode}, &SkipError{URL: url, StatusCode: resp.StatusCode, Reason: "non-2xx status"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return FetchResult{}, fmt.Errorf("crawler: read body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return FetchResult{
		StatusCode: resp.StatusCode,
		MimeType:   resp.Header.Get("Content-Type"),
		Body:       body,
		Headers:    headers,
	}, nil
}
