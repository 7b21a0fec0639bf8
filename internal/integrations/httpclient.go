package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultRateLimit is the default per-provider request rate (requests per second).
	DefaultRateLimit = 5

	userAgent = "markhub/1.0 (bookmark integrations)"

	maxErrorBody = 1024
)

// Option configures an adapter.
type Option func(*options)

type options struct {
	baseURL    string
	authURL    string
	httpClient *http.Client
	guard      *URLGuard
	logger     arbor.ILogger
	rateLimit  float64
	timeout    time.Duration
	bridge     ExtensionBridge
}

// WithBaseURL overrides the provider API base URL.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithAuthURL overrides the provider token endpoint (Reddit).
func WithAuthURL(authURL string) Option {
	return func(o *options) {
		o.authURL = authURL
	}
}

// WithHTTPClient sets the HTTP client used for provider calls. The guard's
// dial hook is not installed on a caller supplied client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithURLGuard(guard *URLGuard) Option {
	return func(o *options) {
		o.guard = guard
	}
}

func WithLogger(logger arbor.ILogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(o *options) {
		o.rateLimit = requestsPerSecond
	}
}

// WithTimeout sets an HTTP client timeout. Zero, the default, means none.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithExtensionBridge sets the browser extension bridge (Chrome).
func WithExtensionBridge(bridge ExtensionBridge) Option {
	return func(o *options) {
		o.bridge = bridge
	}
}

func buildOptions(defaultBaseURL string, opts []Option) *options {
	o := &options{
		baseURL:   defaultBaseURL,
		rateLimit: DefaultRateLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guard == nil {
		o.guard = NewURLGuard()
	}
	if o.logger == nil {
		o.logger = arbor.NewNoOpLogger()
	}
	return o
}

// providerClient performs JSON calls against one provider API.
type providerClient struct {
	provider string
	baseURL  string
	http     *http.Client
	guard    *URLGuard
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

func newProviderClient(provider string, o *options) *providerClient {
	client := o.httpClient
	if client == nil {
		client = newGuardedHTTPClient(o.guard, o.timeout)
	}
	burst := int(o.rateLimit)
	if burst < 1 {
		burst = 1
	}
	return &providerClient{
		provider: provider,
		baseURL:  o.baseURL,
		http:     client,
		guard:    o.guard,
		limiter:  rate.NewLimiter(rate.Limit(o.rateLimit), burst),
		logger:   o.logger,
	}
}

// newGuardedHTTPClient builds a client whose dialer and redirect policy
// both go through the guard, and which always sends the markhub User-Agent.
func newGuardedHTTPClient(guard *URLGuard, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   guard.Control,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: transport, userAgent: userAgent},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			_, err := guard.Check(req.URL.String())
			return err
		},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// request describes one provider call.
type request struct {
	method   string
	endpoint string // absolute URL or path relative to baseURL
	query    url.Values
	body     any
	headers  map[string]string
	// authorize is called last, after the URL and body are final.
	authorize func(*http.Request) error
}

func (c *providerClient) url(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.baseURL + endpoint
}

// do executes r and decodes a JSON response into out when out is non-nil.
func (c *providerClient) do(ctx context.Context, r request, out any) error {
	target := c.url(r.endpoint)
	u, err := c.guard.Check(target)
	if err != nil {
		return err
	}
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.authorize != nil {
		if err := r.authorize(req); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Endpoint:   u.Path,
			Message:    msg,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Endpoint:   u.Path,
			Message:    fmt.Sprintf("malformed response: %v", err),
		}
	}
	return nil
}
