package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ybbus/httpretry"

	"retail-analytics-pipeline/internal/domain"
	"retail-analytics-pipeline/internal/logger"
)

const maxResponseBytes = 16 << 20

// APIOptions configures the product API source.
type APIOptions struct {
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int           // total attempts, including the first
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// APIProductSource fetches products from a REST product API such as fakestoreapi.com.
// Timeouts, network errors, 408, 429 and 5xx responses are retried with exponential
// backoff; other 4xx responses and malformed bodies fail immediately.
type APIProductSource struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewAPIProductSource creates an APIProductSource.
func NewAPIProductSource(opts APIOptions, log *logger.Logger) *APIProductSource {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: opts.Timeout}).DialContext,
			TLSHandshakeTimeout:   opts.Timeout,
			ResponseHeaderTimeout: opts.Timeout,
		}
	}

	client := httpretry.NewCustomClient(
		&http.Client{Transport: transport},
		httpretry.WithMaxRetryCount(opts.MaxAttempts-1),
		httpretry.WithRetryPolicy(func(statusCode int, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return isRetryableStatus(statusCode)
		}),
		httpretry.WithBackoffPolicy(exponentialBackoff(opts.BackoffMin, opts.BackoffMax)),
	)
	if opts.Timeout > 0 {
		// Bound the whole exchange, retries and backoff included.
		client.Timeout = time.Duration(opts.MaxAttempts)*opts.Timeout + time.Duration(opts.MaxAttempts)*opts.BackoffMax
	}

	return &APIProductSource{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		log:     log.With("source", "api"),
	}
}

// FetchProducts returns every product from GET {base}/products.
func (s *APIProductSource) FetchProducts(ctx context.Context) ([]domain.RawRecord, error) {
	var records []domain.RawRecord
	if err := s.getJSON(ctx, s.baseURL+"/products", &records); err != nil {
		return nil, err
	}
	s.log.Info("fetched products from API", "count", len(records))
	return records, nil
}

func (s *APIProductSource) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error("API request failed", "url", url, "error", err, "elapsed", time.Since(started))
		return fmt.Errorf("%w: GET %s: %w", ErrSourceUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		statusErr := &StatusError{URL: url, StatusCode: resp.StatusCode}
		s.log.Error("API returned an error status", "url", url, "status", resp.StatusCode, "retryable", isRetryableStatus(resp.StatusCode))
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrSourceUnavailable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.log.Error("API returned a malformed body", "url", url, "error", err)
		return fmt.Errorf("%w: %w: %w", ErrSourceUnavailable, ErrMalformedResponse, err)
	}
	return nil
}

func isRetryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// exponentialBackoff doubles the wait per attempt between min and max, with +/-20% jitter.
func exponentialBackoff(lo, hi time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		if lo <= 0 {
			return 0
		}
		wait := lo
		for i := 0; i < attempt && wait < hi; i++ {
			wait *= 2
		}
		if hi > 0 && wait > hi {
			wait = hi
		}
		delta := float64(wait) * 0.2
		return time.Duration(float64(wait) - delta + rand.Float64()*2*delta)
	}
}
