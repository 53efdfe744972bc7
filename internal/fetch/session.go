// Package fetch owns the HTTP surface of the client: one cookie-bearing
// session shared by every component, streaming protobuf fetches with retry
// and a per-host circuit breaker, and plain JSON/HTML requests.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/metrics"
)

const (
	// DefaultUserAgent pins a current desktop Chrome; the watch page serves
	// a degraded shell to unknown agents.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	connectTimeout = 15 * time.Second
	requestTimeout = 15 * time.Second

	// ReadIdleTimeout bounds the silence on a streaming body. The view
	// stream holds ~32 s and a segment ~24 s; 40 s of silence means a stuck
	// connection, not backpressure.
	ReadIdleTimeout = 40 * time.Second
)

// Session is a long-lived HTTP session with cookies and default headers.
// One Session backs one client instance; per-request header overrides are
// passed locally and never mutate the session.
type Session struct {
	stream    *http.Client // no overall deadline; bodies are long-lived
	plain     *http.Client // 15 s total deadline for one-shot requests
	jar       http.CookieJar
	userAgent string
	logger    *zap.Logger
	readIdle  time.Duration

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewSession builds a Session with a fresh cookie jar.
func NewSession(logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: connectTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Session{
		stream: &http.Client{
			Transport: transport,
			Jar:       jar,
		},
		plain: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   requestTimeout,
		},
		jar:       jar,
		userAgent: DefaultUserAgent,
		logger:    logger.With(zap.String("component", "fetch")),
		readIdle:  ReadIdleTimeout,
		breakers:  make(map[string]*breaker),
	}
}

// SetReadIdleTimeout overrides the streaming idle deadline. Used by tests.
func (s *Session) SetReadIdleTimeout(d time.Duration) {
	if d > 0 {
		s.readIdle = d
	}
}

// Jar exposes the session cookie jar (the WebSocket dialer shares it).
func (s *Session) Jar() http.CookieJar { return s.jar }

// UserAgent returns the fixed session user agent.
func (s *Session) UserAgent() string { return s.userAgent }

func (s *Session) breakerFor(rawurl string) *breaker {
	host := rawurl
	if u, err := url.Parse(rawurl); err == nil && u.Host != "" {
		host = u.Host
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.breakers[host]
	if !ok {
		br = newBreaker(host, s.logger)
		s.breakers[host] = br
	}
	return br
}

// Request performs a one-shot request with the 15 s deadline and returns
// the status code, response headers and full body without judging the
// status. extra headers are applied after the session defaults.
func (s *Session) Request(ctx context.Context, method, rawurl string, header http.Header, body io.Reader) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	for k, vs := range header {
		req.Header[k] = vs
	}

	resp, err := s.plain.Do(req)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("request", "error").Inc()
		return 0, nil, nil, &TransportError{URL: rawurl, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues("request", "error").Inc()
		return resp.StatusCode, resp.Header, nil, &TransportError{URL: rawurl, Err: err}
	}
	metrics.FetchAttempts.WithLabelValues("request", "ok").Inc()
	return resp.StatusCode, resp.Header, b, nil
}

// Get performs a one-shot GET and surfaces non-2xx as a TransportError.
func (s *Session) Get(ctx context.Context, rawurl string) ([]byte, error) {
	status, _, body, err := s.Request(ctx, http.MethodGet, rawurl, nil, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &TransportError{URL: rawurl, Status: status}
	}
	return body, nil
}

// GetJSON performs a GET and decodes the JSON body into out.
func (s *Session) GetJSON(ctx context.Context, rawurl string, out any) error {
	body, err := s.Get(ctx, rawurl)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawurl, err)
	}
	return nil
}

// GetDocument performs a GET and parses the body as HTML.
func (s *Session) GetDocument(ctx context.Context, rawurl string) (*goquery.Document, error) {
	body, err := s.Get(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawurl, err)
	}
	return doc, nil
}

// PostForm performs a form POST and returns the status, response headers
// and body. The login flow reads its result from a response header.
func (s *Session) PostForm(ctx context.Context, rawurl string, form url.Values) (int, http.Header, []byte, error) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.Request(ctx, http.MethodPost, rawurl, header, strings.NewReader(form.Encode()))
}
