// Package transport sends HTTP requests to a homeserver and keeps the
// session cookie it hands out current.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/pubky/pubky-core-client/pkg/errs"
)

const (
	// SessionCookie carries the opaque session id in both directions.
	SessionCookie = "sessionId"
	// RequestIDHeader correlates client and homeserver logs.
	RequestIDHeader = "X-Request-Id"

	maxResponseBody = 16 << 20
)

// Session is the authenticated state held for one identity. The homeserver may
// rotate ID on any response; Do updates it in place.
type Session struct {
	Homeserver *url.URL
	ID         string
}

// Active reports whether a session id is held.
func (s *Session) Active() bool { return s != nil && s.ID != "" }

// Clear forgets the session id and returns the previous one.
func (s *Session) Clear() string {
	old := s.ID
	s.ID = ""
	return old
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: %d %s", errs.ErrRequestFailed, e.Method, e.URL, e.Status, http.StatusText(e.Status))
	if len(e.Body) > 0 {
		msg += ": " + string(bytes.TrimSpace(e.Body))
	}
	return msg
}

func (e *HTTPError) Unwrap() error { return errs.ErrRequestFailed }

// Is maps well-known statuses onto the shared sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case errs.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case errs.ErrNotFound:
		return e.Status == http.StatusNotFound
	case errs.ErrAlreadyExists:
		return e.Status == http.StatusConflict
	case errs.ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// Client is a thin wrapper around http.Client.
type Client struct {
	http      *http.Client
	log       *zap.Logger
	userAgent string
	maxBody   int64
}

type Option func(*Client)

// WithHTTPClient replaces the default client with a 30s timeout.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithMaxResponseBody bounds the bytes read from a response. Larger bodies
// fail with errs.ErrTooLarge.
func WithMaxResponseBody(n int64) Option { return func(c *Client) { c.maxBody = n } }

func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zap.NewNop(),
		userAgent: "pubky-go",
		maxBody:   maxResponseBody,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends one request and returns the response body.
//
// When sess holds an id it is sent as the session cookie, and any session
// cookie in the response replaces it. A nil sess sends no cookie.
func (c *Client) Do(ctx context.Context, method string, u *url.URL, sess *Session, headers http.Header, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRequestFailed, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	rid, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: request id: %v", errs.ErrRequestFailed, err)
	}
	req.Header.Set(RequestIDHeader, rid.String())
	if sess.Active() {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sess.ID})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("url", u.String()),
			zap.String("request_id", rid.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", errs.ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if sess != nil {
		rotate(sess, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errs.ErrRequestFailed, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: %w: response body exceeds %d bytes", errs.ErrRequestFailed, errs.ErrTooLarge, c.maxBody)
	}
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("url", u.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
		zap.String("request_id", rid.String()),
	)
	if resp.StatusCode/100 != 2 {
		return nil, &HTTPError{Method: method, URL: u.String(), Status: resp.StatusCode, Body: data}
	}
	return data, nil
}

// rotate applies a session cookie from resp to sess. An expired or empty
// cookie clears the session.
func rotate(sess *Session, resp *http.Response) {
	for _, ck := range resp.Cookies() {
		if ck.Name != SessionCookie {
			continue
		}
		if ck.Value == "" || ck.MaxAge < 0 {
			sess.ID = ""
			continue
		}
		sess.ID = ck.Value
	}
}
