package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 5 * time.Second
	maxBodyBytes          = 4 << 20
)

// SourceOptions parameterise the HTTP source.
type SourceOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
}

// HTTPSource performs plain GET requests against the rate feed.
type HTTPSource struct {
	opts   SourceOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTPSource constructs an HTTP source with fixed timeouts.
func NewHTTPSource(opts SourceOptions, logger zerolog.Logger) *HTTPSource {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &HTTPSource{
		opts:   opts,
		logger: logger.With().Str("component", "rate_source").Logger(),
		client: &http.Client{
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
			Transport: transport,
		},
	}
}

// Fetch retrieves the body at url. Non-200 responses are errors.
func (s *HTTPSource) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, &FetchError{Kind: KindTransport, URL: url, Err: fmt.Errorf("feed url not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json, text/tab-separated-values, text/plain")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "bullionwatch/1.0")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		fe := classify(url, err)
		s.logger.Debug().Err(err).Str("kind", string(fe.Kind)).Dur("elapsed", time.Since(start)).Msg("fetch failed")
		return nil, fe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{Kind: KindNonSuccessStatus, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(url, err)
	}

	s.logger.Debug().Int("bytes", len(body)).Dur("elapsed", time.Since(start)).Msg("fetched feed")
	return body, nil
}

var _ Source = (*HTTPSource)(nil)
