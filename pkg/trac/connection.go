package trac

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

// Connection drives an authenticated browsing session against one tracker:
// fetching pages, discovering forms and submitting them. It keeps the last
// fetched page so forms can be filled and posted the way a browser would.
type Connection struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *zap.Logger
	metrics  *Metrics
	loggedIn bool
	page     *page
}

// page is the current browsing state: the page most recently fetched or
// received from a form submission.
type page struct {
	url   *url.URL
	body  string
	title string
	forms []*Form
}

// Response captures the outcome of a form submission.
type Response struct {
	StatusCode int
	Title      string
	URL        string
	Body       string
}

// Success reports whether the tracker answered with a non-error status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 400
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithHTTPClient sets a custom HTTP client. A cookie jar is attached when the
// client has none, since the tracker session lives in cookies.
func WithHTTPClient(client *http.Client) ConnectionOption {
	return func(c *Connection) {
		c.client = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.client.Timeout = d
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithMetrics attaches request counters.
func WithMetrics(metrics *Metrics) ConnectionOption {
	return func(c *Connection) {
		c.metrics = metrics
	}
}

// NewConnection creates a connection to the tracker at baseURL.
func NewConnection(baseURL, username, password string, opts ...ConnectionOption) (*Connection, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, apperrors.NewValidationError("tracker base URL required", nil)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid tracker base URL %q", baseURL), nil)
	}

	c := &Connection{
		baseURL:  baseURL,
		username: username,
		password: password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		c.client.Jar = jar
	}
	return c, nil
}

// User returns the identity this connection authenticates as.
func (c *Connection) User() string {
	return c.username
}

// BaseURL returns the normalized tracker base URL.
func (c *Connection) BaseURL() string {
	return c.baseURL
}

var loggedInMarker = regexp.MustCompile(`(?i)logged in as`)

// EnsureLoggedIn establishes an authenticated session. It is idempotent; once
// a session exists further calls are no-ops.
func (c *Connection) EnsureLoggedIn(ctx context.Context) error {
	if c.loggedIn {
		return nil
	}
	pg, err := c.fetchPage(ctx, "/login")
	if err != nil {
		return err
	}
	if form, index := findForm(pg.forms, loginFormPredicate); form != nil {
		resp, err := c.SubmitForm(ctx, index, map[string]string{
			"user":     c.username,
			"password": c.password,
		})
		if err != nil {
			return err
		}
		if !loggedInMarker.MatchString(resp.Body) {
			return apperrors.NewUnauthorized(fmt.Sprintf("login as %q rejected by tracker", c.username))
		}
	} else if !loggedInMarker.MatchString(pg.body) {
		return apperrors.NewUnauthorized(fmt.Sprintf("no login form and no session for %q", c.username))
	}
	c.loggedIn = true
	c.logger.Debug("tracker session established", zap.String("user", c.username))
	return nil
}

func loginFormPredicate(form *Form) bool {
	return form.HasField("user") && form.HasField("password")
}

// Fetch retrieves a page relative to the base URL and returns its raw body.
// The page becomes the current browsing state.
func (c *Connection) Fetch(ctx context.Context, path string) (string, error) {
	pg, err := c.fetchPage(ctx, path)
	if err != nil {
		return "", err
	}
	return pg.body, nil
}

// DiscoverForm fetches a page and returns the first form matching the
// predicate, along with its ordinal index on the page.
func (c *Connection) DiscoverForm(ctx context.Context, path string, match FormPredicate) (*Form, int, error) {
	pg, err := c.fetchPage(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if form, index := findForm(pg.forms, match); form != nil {
		return form, index, nil
	}
	c.logger.Warn("form not found", zap.String("path", path), zap.Int("forms_on_page", len(pg.forms)))
	return nil, 0, apperrors.NewFormNotFound(path)
}

// SubmitForm fills the indexed form of the current page with its defaults
// overlaid by fields, submits it, and returns the tracker's response. The
// response page becomes the current browsing state.
func (c *Connection) SubmitForm(ctx context.Context, index int, fields map[string]string) (*Response, error) {
	form, target, err := c.submitTarget(index)
	if err != nil {
		return nil, err
	}
	values := form.Values(fields)

	var req *http.Request
	if form.Method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		withQuery := *target
		withQuery.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, withQuery.String(), nil)
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return c.doSubmit(req, target)
}

// SubmitFormFile is the multipart variant of SubmitForm, uploading content
// under the named file field.
func (c *Connection) SubmitFormFile(ctx context.Context, index int, fields map[string]string, fileField, filename string, content io.Reader) (*Response, error) {
	form, target, err := c.submitTarget(index)
	if err != nil {
		return nil, err
	}

	var body strings.Builder
	writer := multipart.NewWriter(&body)
	for name, vals := range form.Values(fields) {
		for _, v := range vals {
			if err := writer.WriteField(name, v); err != nil {
				return nil, apperrors.NewInternalError(err)
			}
		}
	}
	part, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := writer.Close(); err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(body.String()))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.doSubmit(req, target)
}

func (c *Connection) submitTarget(index int) (*Form, *url.URL, error) {
	if c.page == nil {
		return nil, nil, apperrors.NewValidationError("no current page to submit from", nil)
	}
	if index < 0 || index >= len(c.page.forms) {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("form index %d out of range", index), nil)
	}
	form := c.page.forms[index]
	target := c.page.url
	if form.Action != "" {
		action, err := url.Parse(form.Action)
		if err != nil {
			return nil, nil, apperrors.NewParseError("form action", err)
		}
		target = c.page.url.ResolveReference(action)
	}
	return form, target, nil
}

func (c *Connection) doSubmit(req *http.Request, target *url.URL) (*Response, error) {
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordError(target.Path, req.Method, "REMOTE_ERROR")
		return nil, apperrors.NewInternalError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	body := string(raw)
	c.metrics.RecordRequest(target.Path, req.Method, resp.StatusCode)

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	c.page = &page{
		url:   finalURL,
		body:  body,
		title: pageTitle(body),
		forms: parseForms(body),
	}
	c.logger.Debug("form submitted",
		zap.String("url", finalURL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		StatusCode: resp.StatusCode,
		Title:      c.page.title,
		URL:        finalURL.String(),
		Body:       body,
	}, nil
}

func (c *Connection) fetchPage(ctx context.Context, path string) (*page, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	rawURL := c.baseURL + path
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid path %q", path), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordError(parsed.Path, http.MethodGet, "REMOTE_ERROR")
		c.logger.Warn("fetch failed", zap.String("path", path), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	c.metrics.RecordRequest(parsed.Path, http.MethodGet, resp.StatusCode)
	c.logger.Debug("page fetched",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.metrics.RecordError(parsed.Path, http.MethodGet, "UNAUTHORIZED")
		return nil, apperrors.NewUnauthorized(fmt.Sprintf("tracker denied access to %s", path))
	}
	if resp.StatusCode >= 400 {
		c.metrics.RecordError(parsed.Path, http.MethodGet, "REMOTE_ERROR")
		return nil, apperrors.NewRemoteError(resp.StatusCode, path)
	}

	finalURL := parsed
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	body := string(raw)
	c.page = &page{
		url:   finalURL,
		body:  body,
		title: pageTitle(body),
		forms: parseForms(body),
	}
	return c.page, nil
}

func findForm(forms []*Form, match FormPredicate) (*Form, int) {
	for i, form := range forms {
		if match(form) {
			return form, i
		}
	}
	return nil, 0
}

var titleRe = regexp.MustCompile(`(?is)<title>\s*(.*?)\s*</title>`)

func pageTitle(body string) string {
	if m := titleRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
