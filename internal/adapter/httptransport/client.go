package httptransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quaffio/quaff/internal/domain"
	"github.com/quaffio/quaff/internal/port"
)

// Config contains HTTP transport settings
type Config struct {
	UserAgent             string
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	ProbeTimeout          time.Duration
	SkipTLSVerify         bool
	BufferSize            int
}

// Client implements port.Transport on top of net/http. It performs
// single-shot requests and maps responses onto the domain error taxonomy.
// Retry policy lives in the fetch service, not here.
type Client struct {
	probeClient  *http.Client
	streamClient *http.Client
	userAgent    string
	logger       *zap.Logger
}

// Ensure Client implements port.Transport
var _ port.Transport = (*Client)(nil)

// NewClient creates a new HTTP transport client
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 128 * 1024
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout == 0 {
		probeTimeout = 15 * time.Second
	}

	headerTimeout := cfg.ResponseHeaderTimeout
	if headerTimeout == 0 {
		headerTimeout = 30 * time.Second
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	probeTransport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	streamTransport := &http.Transport{
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,

		WriteBufferSize: bufferSize,
		ReadBufferSize:  bufferSize,

		ForceAttemptHTTP2: true,

		// Raw bytes, so resumed ranges line up with staging offsets
		DisableCompression: true,

		ResponseHeaderTimeout: headerTimeout,
	}

	return &Client{
		probeClient: &http.Client{
			Transport: probeTransport,
			Timeout:   probeTimeout,
		},
		streamClient: &http.Client{
			Transport: streamTransport,
			// No overall timeout, bodies may stream for a long time
			Timeout: 0,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Probe inspects the resource via HEAD, falling back to a zero-length
// range GET for servers that reject HEAD. Any failure here means the
// resource cannot be opened and is never retried.
func (c *Client) Probe(ctx context.Context, url string) (*domain.RemoteResource, error) {
	if url == "" {
		return nil, domain.ErrEmptyURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, domain.NewUnreachableError(url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.probeClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewUnreachableError(url, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res := c.resourceFromResponse(url, resp, resp.ContentLength)
		c.logger.Debug("probe ok",
			zap.String("url", url),
			zap.Int64("size", res.Size),
			zap.Bool("accepts_ranges", res.AcceptsRanges))
		return res, nil

	case resp.StatusCode == http.StatusMethodNotAllowed,
		resp.StatusCode == http.StatusNotImplemented,
		resp.StatusCode == http.StatusForbidden:
		// Some servers and presigned URLs reject HEAD outright
		c.logger.Debug("head rejected, probing with range get",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return c.probeWithRangeGet(ctx, url)

	default:
		return nil, domain.NewUnreachableError(url, fmt.Errorf("probe status %s", resp.Status))
	}
}

// probeWithRangeGet asks for the first byte only and reads the answer
// from the response headers.
func (c *Client) probeWithRangeGet(ctx context.Context, url string) (*domain.RemoteResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewUnreachableError(url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.probeClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewUnreachableError(url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, crErr := parseContentRange(resp.Header.Get("Content-Range"))
		if crErr != nil {
			total = domain.SizeUnknown
		}
		res := c.resourceFromResponse(url, resp, total)
		res.AcceptsRanges = true
		return res, nil

	case http.StatusOK:
		// Range ignored, headers still describe the whole resource
		return c.resourceFromResponse(url, resp, resp.ContentLength), nil

	case http.StatusRequestedRangeNotSatisfiable:
		// A zero-length resource cannot satisfy bytes=0-0
		_, _, total, crErr := parseContentRange(resp.Header.Get("Content-Range"))
		if crErr != nil || total < 0 {
			return nil, domain.NewUnreachableError(url, fmt.Errorf("probe status %s", resp.Status))
		}
		res := c.resourceFromResponse(url, resp, total)
		res.AcceptsRanges = true
		return res, nil

	default:
		return nil, domain.NewUnreachableError(url, fmt.Errorf("probe status %s", resp.Status))
	}
}

// Open starts streaming the resource body at the given byte offset.
func (c *Client) Open(ctx context.Context, url string, offset int64, etag string) (io.ReadCloser, *domain.RemoteResource, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, false, domain.NewUnreachableError(url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if etag != "" {
			// A changed resource comes back 200 with a full body, which
			// the caller detects through the honoured flag.
			req.Header.Set("If-Range", `"`+etag+`"`)
		}
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, false, ctx.Err()
		}
		return nil, nil, false, domain.NewTransientError(err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		start, _, total, crErr := parseContentRange(resp.Header.Get("Content-Range"))
		if crErr != nil {
			resp.Body.Close()
			return nil, nil, false, domain.NewTransientError(fmt.Errorf("malformed Content-Range: %w", crErr))
		}
		if start != offset {
			resp.Body.Close()
			return nil, nil, false, domain.NewTransientError(fmt.Errorf("server opened range at %d, wanted %d", start, offset))
		}
		res := c.resourceFromResponse(url, resp, total)
		res.AcceptsRanges = true
		c.logger.Debug("stream opened",
			zap.String("url", url),
			zap.Int64("offset", offset),
			zap.Int64("total", res.Size))
		return resp.Body, res, true, nil

	case resp.StatusCode == http.StatusOK:
		// Full body. Honoured only when we asked for the whole thing.
		res := c.resourceFromResponse(url, resp, resp.ContentLength)
		c.logger.Debug("stream opened",
			zap.String("url", url),
			zap.Int64("offset", int64(0)),
			zap.Int64("total", res.Size),
			zap.Bool("range_honoured", offset == 0))
		return resp.Body, res, offset == 0, nil

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, nil, false, domain.ErrRangeNotSupported

	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, nil, false, domain.NewTransientError(fmt.Errorf("server error: %s", resp.Status))

	default:
		resp.Body.Close()
		return nil, nil, false, domain.NewUnreachableError(url, fmt.Errorf("status %s", resp.Status))
	}
}

// resourceFromResponse builds a RemoteResource from response headers
func (c *Client) resourceFromResponse(url string, resp *http.Response, size int64) *domain.RemoteResource {
	if size < 0 {
		size = domain.SizeUnknown
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	return &domain.RemoteResource{
		URL:           url,
		Size:          size,
		Filename:      filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType:   contentType,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
	}
}

// filenameFromDisposition extracts the filename parameter from a
// Content-Disposition header. Malformed headers yield "" rather than an
// error, the resolver falls through to its next candidate.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// cleanETag strips the weak prefix and quotes from an ETag value
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// parseContentRange parses a Content-Range header value of the form
// "bytes start-end/total". Total is SizeUnknown for "*". The unsatisfied
// form "bytes */total" returns start == end == -1.
func parseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	if parts[1] == "*" {
		total = domain.SizeUnknown
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	if parts[0] == "*" {
		return -1, -1, total, nil
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	return start, end, total, nil
}
