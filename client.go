// Package ndgr is a client for niconico's NDGR live-comment message
// fabric. It resolves a program handle to its comment endpoints, drives
// the fabric's View and Segment streams, and delivers normalized comments
// in order, surviving the channel's program handoffs.
package ndgr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/ndgr/internal/fetch"
)

// Default service endpoints. Overridable for tests via WithBaseURLs.
const (
	defaultWatchBase   = "https://live2.nicovideo.jp"
	defaultChannelBase = "https://ch.nicovideo.jp"
	defaultCASBase     = "https://api.cas.nicovideo.jp"
	defaultAccountBase = "https://account.nicovideo.jp"

	defaultQueueSize = 256
)

// Client is the entry point. One Client holds one HTTP session (cookies
// included), so a single Login covers every subsequent operation. Clients
// are safe for concurrent use.
type Client struct {
	session *fetch.Session
	logger  *zap.Logger
	tracer  trace.Tracer

	queueSize int

	// monitorDelay yields the wait before the next program-monitor poll.
	// Tests shorten it; production waits out the wall-clock minute.
	monitorDelay func() time.Duration

	watchBase   string
	channelBase string
	casBase     string
	accountBase string

	loggedIn bool
	userID   string
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger installs a structured logger. Default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithQueueSize sets the comment delivery buffer per stream.
func WithQueueSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithBaseURLs points the client at alternative service endpoints. Empty
// strings keep the defaults. Used by tests.
func WithBaseURLs(watch, channel, cas, account string) Option {
	return func(c *Client) {
		if watch != "" {
			c.watchBase = watch
		}
		if channel != "" {
			c.channelBase = channel
		}
		if cas != "" {
			c.casBase = cas
		}
		if account != "" {
			c.accountBase = account
		}
	}
}

// New builds a Client with a fresh session.
func New(opts ...Option) *Client {
	c := &Client{
		logger:       zap.NewNop(),
		queueSize:    defaultQueueSize,
		monitorDelay: nextMinuteWake,
		watchBase:    defaultWatchBase,
		channelBase:  defaultChannelBase,
		casBase:      defaultCASBase,
		accountBase:  defaultAccountBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = fetch.NewSession(c.logger)
	c.tracer = otel.Tracer("github.com/Kocoro-lab/ndgr")
	return c
}

// Login authenticates the session against the account service. The user
// id comes back in the x-niconico-id response header; its absence means
// the credentials were refused (the service answers 200 either way).
func (c *Client) Login(ctx context.Context, mail, password string) error {
	ctx, span := c.tracer.Start(ctx, "ndgr.Login")
	defer span.End()

	form := url.Values{}
	form.Set("mail", mail)
	form.Set("password", password)

	status, header, _, err := c.session.PostForm(ctx, c.accountBase+"/api/v1/login", form)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK && status != http.StatusFound {
		return fmt.Errorf("%w: status %d", ErrLoginRejected, status)
	}
	userID := header.Get("x-niconico-id")
	if userID == "" {
		return ErrLoginRejected
	}

	c.loggedIn = true
	c.userID = userID
	c.logger.Info("logged in", zap.String("user_id", userID))
	return nil
}

// LoggedIn reports whether a Login succeeded on this client.
func (c *Client) LoggedIn() bool { return c.loggedIn }

// UserID returns the numeric account id captured at login, or "".
func (c *Client) UserID() string { return c.userID }

// opID tags one logical operation across its log lines.
func opID() string { return uuid.NewString() }
