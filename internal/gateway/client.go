// Package gateway provides the resilient HTTP client for the media gateway.
//
// The client wraps the standard http.Client and adds the features live HLS
// capture needs to survive a flaky gateway:
//   - Circuit breaker to stop hammering a host that is down
//   - Automatic retries with exponential backoff
//   - Per-request timeouts and bounded response reads
//   - Transparent decompression (gzip, deflate, brotli)
//   - Structured logging with credential obfuscation
package gateway

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/jmylchreest/nvarr/internal/observability"
	"github.com/jmylchreest/nvarr/internal/urlutil"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds size limit")
)

// Default configuration values.
const (
	DefaultPlaylistTimeout      = 5 * time.Second
	DefaultSegmentTimeout       = 10 * time.Second
	DefaultMaxPlaylistBytes     = 256 * 1024
	DefaultMaxSegmentBytes      = 64 * 1024 * 1024
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultCircuitThreshold     = 5
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "nvarr/1.0"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// reloadPathsEndpoint is the gateway operation that re-reads camera path
// configuration.
const reloadPathsEndpoint = "/v3/config/paths/reload"

// StatusError is returned for non-2xx responses that are not retryable,
// such as a 404 for a camera path the gateway no longer serves.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Config holds the configuration for the gateway client.
type Config struct {
	// BaseURL is the media gateway base URL, e.g. "http://gateway:8888".
	BaseURL string

	// PlaylistTimeout is the total budget for one playlist fetch,
	// retries included.
	PlaylistTimeout time.Duration

	// SegmentTimeout is the total budget for one init or media segment
	// fetch, retries included.
	SegmentTimeout time.Duration

	// MaxPlaylistBytes caps a playlist response body.
	MaxPlaylistBytes int64

	// MaxSegmentBytes caps an init or media segment response body.
	MaxSegmentBytes int64

	// RetryAttempts is the number of retry attempts for failed requests.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the maximum delay between retries.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// CircuitThreshold is the number of failures before the circuit opens.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open before probing.
	CircuitTimeout time.Duration

	// CircuitHalfOpenMax is the max requests allowed in half-open state.
	CircuitHalfOpenMax int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// EnableDecompression enables automatic response decompression.
	// Playlists are commonly served compressed; media segments are not.
	EnableDecompression bool

	// BaseClient is the underlying http.Client to use.
	// If nil, a default client is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults. BaseURL must still
// be set by the caller.
func DefaultConfig() Config {
	cfg := Config{EnableDecompression: true}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.PlaylistTimeout <= 0 {
		c.PlaylistTimeout = DefaultPlaylistTimeout
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = DefaultSegmentTimeout
	}
	if c.MaxPlaylistBytes <= 0 {
		c.MaxPlaylistBytes = DefaultMaxPlaylistBytes
	}
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = DefaultCircuitThreshold
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = DefaultCircuitTimeout
	}
	if c.CircuitHalfOpenMax <= 0 {
		c.CircuitHalfOpenMax = DefaultCircuitHalfOpenMax
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgentHeader
	}
}

// Client is the resilient HTTP client for the media gateway. One client (and
// one circuit breaker) is shared by all cameras: they all talk to the same
// gateway host, so its health is a single property.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a gateway client. Zero config fields take defaults; BaseURL is
// normalized so both "gateway:8888" and "http://gateway:8888/" work.
func New(logger *slog.Logger, cfg Config) *Client {
	cfg.applyDefaults()
	cfg.BaseURL = urlutil.NormalizeBaseURL(cfg.BaseURL)

	if logger == nil {
		logger = slog.Default()
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		// Per-call contexts carry the timeout; the client itself has none.
		baseClient = &http.Client{}
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  observability.WithComponent(logger, "gateway"),
	}
}

// BaseURL returns the normalized gateway base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// FetchPlaylist retrieves an HLS playlist (master or media). The whole fetch,
// retries included, completes within PlaylistTimeout, and the response body
// is capped at MaxPlaylistBytes.
func (c *Client) FetchPlaylist(ctx context.Context, playlistURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.PlaylistTimeout)
	defer cancel()
	return c.fetch(ctx, playlistURL, c.config.MaxPlaylistBytes)
}

// FetchInit retrieves an initialization segment (ftyp+moov bytes).
func (c *Client) FetchInit(ctx context.Context, initURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SegmentTimeout)
	defer cancel()
	return c.fetch(ctx, initURL, c.config.MaxSegmentBytes)
}

// FetchSegment retrieves a media segment (moof+mdat bytes).
func (c *Client) FetchSegment(ctx context.Context, segmentURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SegmentTimeout)
	defer cancel()
	return c.fetch(ctx, segmentURL, c.config.MaxSegmentBytes)
}

// ReloadPaths asks the gateway to re-read its camera path configuration.
// Called after camera paths change. The response body is discarded; any
// non-2xx status is an error.
func (c *Client) ReloadPaths(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.SegmentTimeout)
	defer cancel()

	reloadURL := urlutil.JoinPath(c.config.BaseURL, reloadPathsEndpoint)
	resp, err := c.do(ctx, http.MethodPost, reloadURL)
	if err != nil {
		return fmt.Errorf("reloading gateway paths: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, URL: obfuscateURL(resp.Request.URL)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Info("gateway paths reloaded", slog.Int("status", resp.StatusCode))
	return nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit resets the circuit breaker to closed state.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// fetch performs a GET and reads at most maxBytes of the body.
func (c *Client) fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, URL: obfuscateURL(resp.Request.URL)}
	}

	data, err := readBounded(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", obfuscateURL(resp.Request.URL), err)
	}
	return data, nil
}

// do executes a request with circuit breaker protection and automatic
// retries. Non-2xx statuses outside the retryable set are returned to the
// caller as-is.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			// Exponential backoff
			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping request",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("state", c.breaker.State().String()),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)

			// Don't retry on context errors
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastErr = &StatusError{Code: resp.StatusCode, URL: obfuscateURL(req.URL)}
			c.logger.Warn("retryable status code",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.Int64("content_length", resp.ContentLength),
		)

		if c.config.EnableDecompression {
			resp.Body = c.wrapDecompression(resp)
		}

		return resp, nil
	}

	if lastErr != nil {
		// Both sentinels stay unwrappable so callers can classify the
		// failure (timeout vs disconnect vs circuit open).
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// readBounded reads at most limit bytes and errors if the body is larger.
// A truncated segment must never reach the archive.
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrResponseTooLarge, limit)
	}
	return data, nil
}

// wrapDecompression wraps the response body with appropriate decompression.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingDeflate:
		reader := flate.NewReader(resp.Body)
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingBrotli:
		reader := brotli.NewReader(resp.Body)
		return &decompressReader{reader: reader, closer: resp.Body}

	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// obfuscateURL returns a URL string with sensitive query parameters obfuscated.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	// Make a copy to avoid modifying the original
	sanitized := *u
	query := sanitized.Query()

	sensitiveParams := []string{
		"password", "passwd", "pass", "pwd",
		"token", "api_key", "apikey", "key",
		"secret", "auth", "authorization",
		"credential", "credentials",
	}

	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}

	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
