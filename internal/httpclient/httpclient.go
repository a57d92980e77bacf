// Package httpclient provides the HTTP transport shared by every provider.
//
// Sessions are pooled per (host, credential identity) so that authenticated connections and cookies
// are reused across requests to the same provider. Each host is rate limited, and every non successful
// status is mapped to the error taxonomy of the eodata package.
package httpclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ubuntu/eofetch/internal/constants"
	"github.com/ubuntu/eofetch/internal/credentials"
	"github.com/ubuntu/eofetch/internal/eodata"
	"golang.org/x/time/rate"
)

// Client is a concurrency safe HTTP client pooling sessions per host and credential.
type Client struct {
	opts options

	mu       sync.Mutex
	sessions map[sessionKey]*http.Client
	limiters map[string]*rate.Limiter
}

type sessionKey struct {
	host     string
	identity string
}

type options struct {
	connectTimeout  time.Duration
	readTimeout     time.Duration
	retryAttempts   int
	retryBackoff    time.Duration
	retryMaxBackoff time.Duration
	rateLimit       rate.Limit
	burst           int
	userAgent       string
	proxy           *url.URL
	transport       http.RoundTripper
	logger          *slog.Logger
}

// Options represents an optional function to override Client default values.
type Options func(*options)

// WithTimeouts sets the connect and read timeouts applied to every request.
func WithTimeouts(connect, read time.Duration) Options {
	return func(o *options) {
		o.connectTimeout = connect
		o.readTimeout = read
	}
}

// WithRetry sets the default number of attempts made for a request, and the backoff bounds between attempts.
func WithRetry(attempts int, backoff, maxBackoff time.Duration) Options {
	return func(o *options) {
		o.retryAttempts = max(attempts, 1)
		o.retryBackoff = backoff
		o.retryMaxBackoff = maxBackoff
	}
}

// WithRateLimit limits the number of requests per second sent to each host.
func WithRateLimit(r rate.Limit, burst int) Options {
	return func(o *options) {
		o.rateLimit = r
		o.burst = burst
	}
}

// WithProxy routes every request through the given proxy.
func WithProxy(proxy *url.URL) Options {
	return func(o *options) {
		o.proxy = proxy
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Options {
	return func(o *options) {
		o.userAgent = ua
	}
}

// WithLogger sets the logger of the client.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a new Client.
func New(args ...Options) *Client {
	opts := options{
		connectTimeout:  constants.DefaultConnectTimeout,
		readTimeout:     constants.DefaultReadTimeout,
		retryAttempts:   1,
		retryBackoff:    500 * time.Millisecond,
		retryMaxBackoff: 10 * time.Second,
		rateLimit:       rate.Inf,
		burst:           1,
		userAgent:       constants.CmdName + "/" + constants.Version,
		logger:          slog.Default(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Client{
		opts:     opts,
		sessions: make(map[sessionKey]*http.Client),
		limiters: make(map[string]*rate.Limiter),
	}
}

// request holds the per request settings.
type request struct {
	query      url.Values
	header     http.Header
	credential credentials.Credential
	offset     int64
	attempts   int
}

// RequestOption tweaks a single request.
type RequestOption func(*request)

// WithQuery adds query parameters to the request URL.
func WithQuery(q url.Values) RequestOption {
	return func(r *request) {
		r.query = q
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		r.header.Set(key, value)
	}
}

// WithCredential authenticates the request. Basic authentication is used when a user is set,
// bearer token authentication otherwise.
func WithCredential(c credentials.Credential) RequestOption {
	return func(r *request) {
		r.credential = c
	}
}

// WithOffset requests the content starting at the given byte offset.
// The caller must check for a 206 status: a server ignoring ranges answers with a 200 and the full content.
func WithOffset(offset int64) RequestOption {
	return func(r *request) {
		r.offset = offset
	}
}

// WithAttempts overrides the number of attempts for this request.
func WithAttempts(n int) RequestOption {
	return func(r *request) {
		r.attempts = max(n, 1)
	}
}

// Get issues a GET request and returns the response when its status is 200, or 206 for ranged requests.
// The caller must close the response body.
//
// A 401 status returns an error matching eodata.ErrAuthentication, which is never retried.
// Any other status returns a *eodata.ProviderError. I/O failures return a *eodata.TransportError.
// Transport errors and 5xx statuses are retried with a jittered exponential backoff.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	r := request{header: make(http.Header), attempts: c.opts.retryAttempts}
	for _, opt := range opts {
		opt(&r)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eodata.ParameterErrorf("invalid URL %q: %v", rawURL, err)
	}
	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	backoff := NewBackoff(c.opts.retryBackoff, c.opts.retryMaxBackoff)
	for attempt := 1; ; attempt++ {
		resp, err := c.do(ctx, u, r)
		if err == nil {
			return resp, nil
		}
		if attempt >= r.attempts || !retryable(err) || ctx.Err() != nil {
			return nil, err
		}

		c.opts.logger.Debug("Retrying request", "url", u.Redacted(), "attempt", attempt, "err", err)
		if backoff.Wait(ctx) != nil {
			return nil, err
		}
	}
}

// GetBytes issues a GET request and returns the whole response body.
func (c *Client) GetBytes(ctx context.Context, rawURL string, opts ...RequestOption) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	var te *eodata.TransportError
	if err != nil && !errors.As(err, &te) {
		err = &eodata.TransportError{Op: "read", URL: redact(rawURL), Err: err}
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, u *url.URL, r request) (*http.Response, error) {
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, &eodata.TransportError{Op: "GET", URL: u.Redacted(), Err: err}
	}

	// The request context outlives do: it is cancelled when the body is closed or stays idle.
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, eodata.ParameterErrorf("invalid request: %v", err)
	}
	req.Header = r.header.Clone()
	req.Header.Set("User-Agent", c.opts.userAgent)
	switch {
	case r.credential.User != "":
		req.SetBasicAuth(r.credential.User, r.credential.Password)
	case r.credential.Token != "":
		req.Header.Set("Authorization", "Bearer "+r.credential.Token)
	}
	if r.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.offset))
	}

	resp, err := c.session(u.Host, r.credential.Identity()).Do(req)
	if err != nil {
		cancel()
		return nil, &eodata.TransportError{Op: "GET", URL: u.Redacted(), Err: err}
	}

	if err := checkStatus(resp, r.offset > 0); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}
	resp.Body = newIdleBody(resp.Body, u.Redacted(), c.opts.readTimeout, cancel)
	return resp, nil
}

func checkStatus(resp *http.Response, ranged bool) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusPartialContent && ranged:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", eodata.ErrAuthentication, resp.Request.URL.Redacted())
	default:
		return &eodata.ProviderError{Status: resp.StatusCode, Reason: reason(resp.Body)}
	}
}

// reason returns the first non empty line of a body, which is where providers put their error message.
func reason(body io.Reader) string {
	sc := bufio.NewScanner(io.LimitReader(body, 4096))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			if len(l) > 200 {
				l = l[:200]
			}
			return l
		}
	}
	return ""
}

func retryable(err error) bool {
	if errors.Is(err, eodata.ErrTransport) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	var pe *eodata.ProviderError
	if errors.As(err, &pe) {
		return pe.Status >= 500 || pe.Status == http.StatusTooManyRequests
	}
	return false
}

func (c *Client) session(host, identity string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey{host: host, identity: identity}
	if s, ok := c.sessions[key]; ok {
		return s
	}

	transport := c.opts.transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: c.opts.connectTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.TLSHandshakeTimeout = c.opts.connectTimeout
		t.ResponseHeaderTimeout = c.opts.readTimeout
		if c.opts.proxy != nil {
			t.Proxy = http.ProxyURL(c.opts.proxy)
		}
		transport = t
	}
	// cookiejar.New never fails without options.
	jar, _ := cookiejar.New(nil)
	s := &http.Client{Transport: transport, Jar: jar}
	c.sessions[key] = s
	c.opts.logger.Debug("New HTTP session", "host", host, "identity", identity)
	return s
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.opts.rateLimit, c.opts.burst)
		c.limiters[host] = l
	}
	return l
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
