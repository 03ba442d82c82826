// Package client implements the authenticated session client. It owns one
// HTTP identity (cookies, tokens, user agent, signing) and is the only
// component that talks to the platform; everything else goes through the
// request contract here.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"creatorsync/pkg/auth"
	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
	"creatorsync/pkg/ratelimit"
)

// DefaultBaseURL is the platform API root.
const DefaultBaseURL = "https://onlyfans.com/api2/v2"

// Signer computes the per-request integrity token.
type Signer interface {
	Sign(ctx context.Context, path string, timestampMillis int64) (signature, appToken string, err error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// MinRequestDelay is the enforced gap between requests to one host.
	MinRequestDelay time.Duration
	// Limiter optionally budgets overall request volume.
	Limiter ratelimit.Limiter
	Logger  logger.Logger
}

// Client issues signed requests under one authenticated identity.
type Client struct {
	httpClient *http.Client
	creds      *auth.Credentials
	signer     Signer
	pacer      *ratelimit.HostPacer
	limiter    ratelimit.Limiter
	baseURL    string
	logger     logger.Logger
}

// New creates a session client for one credential set.
func New(creds *auth.Credentials, signer Signer, opts Options) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		signer:     signer,
		pacer:      ratelimit.NewHostPacer(opts.MinRequestDelay),
		limiter:    opts.Limiter,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     log,
	}, nil
}

// Send issues a signed request against an API path and returns the open
// response. Params are folded into the URL before signing so the signature
// covers the query string. Status is already classified; the caller must
// close the body on success.
func (c *Client) Send(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	resp, err := c.doSigned(ctx, method, fullURL)
	if err != nil {
		return nil, err
	}
	if err := c.classifyResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// GetJSON issues a signed GET and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, target interface{}) error {
	resp, err := c.Send(ctx, http.MethodGet, path, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Transient("failed to read response body", resp.StatusCode, err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          resp.Request.URL.String(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errors.Permanent(fmt.Sprintf("failed to parse JSON: %v", err), resp.StatusCode)
	}
	return nil
}

// Fetch issues an unsigned GET against an absolute media URL (CDN hosts do
// not take API signatures) and returns the open response body. The caller
// must close it. Status is already classified into the engine taxonomy.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Permanent(fmt.Sprintf("invalid media URL: %v", err), 0)
	}

	if err := c.throttle(ctx, u.Host); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Permanent(fmt.Sprintf("failed to create request: %v", err), 0)
	}
	if c.creds.UserAgent != "" {
		req.Header.Set("User-Agent", c.creds.UserAgent)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if err := c.classifyResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// FetchTo streams a media URL into dst and returns the byte count. A short
// copy is transient so the caller may retry the whole item.
func (c *Client) FetchTo(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	resp, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		return written, errors.Transient(fmt.Sprintf("media transfer interrupted after %d bytes", written), 0, err)
	}
	return written, nil
}

func (c *Client) doSigned(ctx context.Context, method, fullURL string) (*http.Response, error) {
	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, errors.Permanent(fmt.Sprintf("invalid URL: %v", err), 0)
	}

	if err := c.throttle(ctx, u.Host); err != nil {
		return nil, err
	}

	// The signed path includes the query string.
	signedPath := u.Path
	if u.RawQuery != "" {
		signedPath += "?" + u.RawQuery
	}

	timestamp := time.Now().UnixMilli()
	signature, appToken, err := c.signer.Sign(ctx, signedPath, timestamp)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, errors.Permanent(fmt.Sprintf("failed to create request: %v", err), 0)
	}

	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("App-Token", appToken)
	req.Header.Set("User-Agent", c.creds.UserAgent)
	req.Header.Set("User-Id", c.creds.AuthID)
	req.Header.Set("X-Bc", c.creds.HeaderToken)
	req.Header.Set("Referer", "https://onlyfans.com")
	req.Header.Set("Sign", signature)
	req.Header.Set("Time", strconv.FormatInt(timestamp, 10))

	req.AddCookie(&http.Cookie{Name: "sess", Value: c.creds.Session})
	req.AddCookie(&http.Cookie{Name: "auth_id", Value: c.creds.AuthID})
	req.AddCookie(&http.Cookie{Name: "auth_uid_", Value: c.creds.CookieAuthUID()})

	return c.do(req)
}

func (c *Client) throttle(ctx context.Context, host string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.pacer.Wait(ctx, host)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, errors.Transient(fmt.Sprintf("network error: %v", err), 0, err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// classifyResponse maps the response status into the engine taxonomy.
// Bodies of error responses are drained for a credential marker so an
// auth rejection hiding behind a 400 still surfaces as AuthExpired.
func (c *Client) classifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.logger.WarnWithFields("session rejected by platform", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errors.AuthExpired("session credentials rejected", resp.StatusCode)

	case http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"status":      resp.StatusCode,
			"url":         resp.Request.URL.String(),
			"retry_after": wait,
		})
		return errors.RateLimited(resp.StatusCode, wait)

	default:
		if hasAuthMarker(resp) {
			return errors.AuthExpired("auth marker in error payload", resp.StatusCode)
		}
		err := errors.FromStatusCode(resp.StatusCode, fmt.Sprintf("server returned status %d", resp.StatusCode))
		c.logger.WarnWithFields("request failed", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
			"class":  string(err.Kind),
		})
		return err
	}
}

// hasAuthMarker checks a non-2xx body for the platform's embedded auth
// error code. Reads at most a small prefix; the body is spent afterwards.
func hasAuthMarker(resp *http.Response) bool {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	var payload struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return false
	}
	return payload.Error.Code == 401
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}
