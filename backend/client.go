package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"strdash/core"
	"strdash/metrics"
	"strdash/util"
)

const (
	// maxResponseBytes caps a JSON response body
	maxResponseBytes = 32 * 1024 * 1024
	// userAgent identifies the dashboard to the backend
	userAgent = "strdash/1.0"
)

// Config configures a backend Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	CSRFCookie string
	CSRFHeader string
	// CSRFPath is fetched by Init to obtain the CSRF cookie
	CSRFPath string
	// LoginPath enables a form login during Init when Username is set
	LoginPath string
	Username  string
	Password  string
	Routes    Routes
	Breaker   core.BreakerConfig
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CSRFCookie == "" {
		c.CSRFCookie = "csrftoken"
	}
	if c.CSRFHeader == "" {
		c.CSRFHeader = "X-CSRFToken"
	}
	if c.CSRFPath == "" {
		c.CSRFPath = "/"
	}
	if c.Routes == nil {
		c.Routes = DefaultRoutes()
	}
	if c.Breaker == (core.BreakerConfig{}) {
		c.Breaker = core.DefaultBreakerConfig()
	}
}

// Client posts form-encoded requests to the Django backend. It owns the
// cookie jar holding the backend session and CSRF cookies, so one Client
// represents one backend session. It never retries.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	jar    http.CookieJar
	logger *zap.SugaredLogger

	breakerMu sync.Mutex
	breakers  map[string]*core.CircuitBreaker

	initMu sync.Mutex
	inited bool
}

// NewClient creates a client for the backend at cfg.BaseURL.
func NewClient(cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg.applyDefaults()

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if err := cfg.Routes.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend routes: %w", err)
	}
	if err := cfg.Breaker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend breaker: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		cfg:  cfg,
		base: base,
		jar:  jar,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:   logger,
		breakers: make(map[string]*core.CircuitBreaker),
	}, nil
}

// Init obtains the CSRF cookie and, when service credentials are
// configured, logs in. It is a one-shot: after the first success further
// calls return immediately. Callers await it before the first Do.
func (c *Client) Init(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.inited {
		return nil
	}

	if err := c.get(ctx, "csrf", c.cfg.CSRFPath); err != nil {
		return fmt.Errorf("CSRF bootstrap failed: %w", err)
	}
	if c.CSRFToken() == "" {
		c.logger.Warnw("Backend did not set a CSRF cookie",
			"cookie", c.cfg.CSRFCookie,
			"path", c.cfg.CSRFPath)
	}

	if c.cfg.LoginPath != "" && c.cfg.Username != "" {
		if err := c.login(ctx); err != nil {
			return err
		}
	}

	c.inited = true
	c.logger.Infow("Backend session initialised",
		"base_url", c.base.String(),
		"logged_in", c.cfg.LoginPath != "" && c.cfg.Username != "")
	return nil
}

// CSRFToken returns the CSRF cookie value currently held in the jar.
func (c *Client) CSRFToken() string {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == c.cfg.CSRFCookie {
			return cookie.Value
		}
	}
	return ""
}

// Routes returns the routing table.
func (c *Client) Routes() Routes {
	return c.cfg.Routes
}

// URL resolves a route name to an absolute URL.
func (c *Client) URL(endpoint string) (string, error) {
	p, err := c.cfg.Routes.Path(endpoint)
	if err != nil {
		return "", err
	}
	return c.resolve(p), nil
}

// Do posts form to the named endpoint and decodes the JSON body. A
// success:false body is returned as a Response, not an error.
func (c *Client) Do(ctx context.Context, endpoint string, form map[string]string) (*Response, error) {
	path, err := c.cfg.Routes.Path(endpoint)
	if err != nil {
		return nil, err
	}

	breaker, err := c.breaker(endpoint)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *Response
	err = breaker.Execute(func() error {
		var sendErr error
		resp, sendErr = c.post(ctx, endpoint, path, form)
		return sendErr
	}, countsAgainstBreaker)

	if errors.Is(err, core.ErrBreakerOpen) || errors.Is(err, core.ErrTooManyProbes) {
		err = &Error{Kind: KindUnavailable, Endpoint: endpoint, Err: err}
	}
	c.observe(endpoint, start, resp, err)
	return resp, err
}

// Post is Do with success:false converted into a KindBusiness error.
func (c *Client) Post(ctx context.Context, endpoint string, form map[string]string) (*Response, error) {
	resp, err := c.Do(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// Download streams the named endpoint's body to w with a plain GET and
// returns the filename announced in Content-Disposition.
func (c *Client) Download(ctx context.Context, endpoint string, w io.Writer) (string, int64, error) {
	path, err := c.cfg.Routes.Path(endpoint)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return "", 0, &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
		c.observe(endpoint, start, nil, err)
		return "", 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debugw("Failed to close response body", "endpoint", endpoint, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = &Error{Kind: KindHTTPStatus, Endpoint: endpoint, Status: resp.StatusCode}
		c.observe(endpoint, start, nil, err)
		return "", 0, err
	}
	if mediaType(resp.Header.Get("Content-Type")) == "text/html" {
		err = &Error{Kind: KindInvalidResponse, Endpoint: endpoint, Message: "download returned an HTML page"}
		c.observe(endpoint, start, nil, err)
		return "", 0, err
	}

	filename := ""
	if _, params, perr := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); perr == nil {
		filename = params["filename"]
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		err = &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	c.observe(endpoint, start, nil, err)
	return filename, n, err
}

func (c *Client) post(ctx context.Context, endpoint, path string, form map[string]string) (*Response, error) {
	values := make(url.Values, len(form))
	for k, v := range form {
		values.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path), strings.NewReader(values.Encode()))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.base.String())
	if token := c.CSRFToken(); token != "" {
		req.Header.Set(c.cfg.CSRFHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debugw("Failed to close response body", "endpoint", endpoint, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindHTTPStatus, Endpoint: endpoint, Status: resp.StatusCode}
	}
	if ct := mediaType(resp.Header.Get("Content-Type")); ct != "application/json" {
		return nil, &Error{
			Kind:     KindInvalidResponse,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  fmt.Sprintf("unexpected content type %q", ct),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: endpoint, Err: err}
	}
	return decodeResponse(endpoint, body)
}

func (c *Client) get(ctx context.Context, name, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(path), nil)
	if err != nil {
		return &Error{Kind: KindTransport, Endpoint: name, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Endpoint: name, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return &Error{Kind: KindHTTPStatus, Endpoint: name, Status: resp.StatusCode}
	}
	return nil
}

// login submits the Django login form. Django answers a successful login
// with a redirect, which the client follows.
func (c *Client) login(ctx context.Context) error {
	values := url.Values{}
	values.Set("username", c.cfg.Username)
	values.Set("password", c.cfg.Password)
	values.Set("csrfmiddlewaretoken", c.CSRFToken())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(c.cfg.LoginPath), strings.NewReader(values.Encode()))
	if err != nil {
		return &Error{Kind: KindTransport, Endpoint: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.resolve(c.cfg.LoginPath))
	if token := c.CSRFToken(); token != "" {
		req.Header.Set(c.cfg.CSRFHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Errorw("Backend login failed", "username", c.cfg.Username, "error", util.SanitizeError(err))
		return &Error{Kind: KindTransport, Endpoint: "login", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return &Error{Kind: KindHTTPStatus, Endpoint: "login", Status: resp.StatusCode}
	}
	// Django re-renders the login form with 200 on bad credentials; a
	// successful login lands anywhere else.
	if resp.Request != nil && resp.Request.URL.Path == c.resolveURL(c.cfg.LoginPath).Path {
		return &Error{Kind: KindBusiness, Endpoint: "login", Message: "backend rejected the service credentials"}
	}
	return nil
}

func (c *Client) breaker(endpoint string) (*core.CircuitBreaker, error) {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()

	if cb, ok := c.breakers[endpoint]; ok {
		return cb, nil
	}
	cb, err := core.NewCircuitBreaker(endpoint, c.cfg.Breaker)
	if err != nil {
		return nil, err
	}
	cb.OnStateChange(func(name string, from, to core.BreakerState) {
		c.logger.Warnw("Backend circuit breaker state changed",
			"endpoint", name,
			"from", from,
			"to", to)
		metrics.BreakerState.WithLabelValues(name).Set(breakerGauge(to))
	})
	c.breakers[endpoint] = cb
	return cb, nil
}

func (c *Client) observe(endpoint string, start time.Time, resp *Response, err error) {
	elapsed := time.Since(start)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	outcome := "ok"
	var be *Error
	switch {
	case errors.As(err, &be):
		outcome = string(be.Kind)
	case err != nil:
		outcome = "error"
	case resp != nil && !resp.Success:
		outcome = string(KindBusiness)
	}
	metrics.BackendRequests.WithLabelValues(endpoint, outcome).Inc()

	if err != nil {
		c.logger.Warnw("Backend request failed",
			"endpoint", endpoint,
			"outcome", outcome,
			"duration", elapsed,
			"error", util.SanitizeError(err))
		return
	}
	c.logger.Debugw("Backend request completed",
		"endpoint", endpoint,
		"outcome", outcome,
		"duration", elapsed)
}

func (c *Client) resolve(path string) string {
	return c.resolveURL(path).String()
}

func (c *Client) resolveURL(path string) *url.URL {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return c.base
	}
	return c.base.ResolveReference(ref)
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func breakerGauge(s core.BreakerState) float64 {
	switch s {
	case core.BreakerHalfOpen:
		return 1
	case core.BreakerOpen:
		return 2
	default:
		return 0
	}
}
