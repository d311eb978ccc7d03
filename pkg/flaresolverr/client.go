// Package flaresolverr is a client for the FlareSolverr v1 API, used to get
// past anti-bot challenges that plain HTTP requests cannot.
package flaresolverr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/logger"
	"github.com/kerbaras/mangadl/pkg/utils"
)

const (
	DefaultURL        = "http://localhost:8191/v1"
	DefaultMaxTimeout = 60 * time.Second
)

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url,omitempty"`
	Session    string `json:"session,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

type solution struct {
	URL       string            `json:"url"`
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Response  string            `json:"response"`
	Cookies   []cookie          `json:"cookies"`
	UserAgent string            `json:"userAgent"`
}

type response struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Session  string    `json:"session"`
	Solution *solution `json:"solution"`
}

// Client holds one persistent FlareSolverr browser session, so the challenge
// is solved once and its clearance reused by later requests.
type Client struct {
	api        *utils.API
	endpoint   string
	maxTimeout time.Duration
	log        logger.Logger

	mu      sync.Mutex
	session string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.api = utils.NewAPI(cl.api.BaseURL(), c) }
}

func WithMaxTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.maxTimeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(cl *Client) { cl.log = logger.OrNop(l) }
}

// New returns a client for the API endpoint, e.g. http://localhost:8191/v1.
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid flaresolverr url %q", endpoint)
	}

	path := u.Path
	if path == "" || path == "/" {
		path = "/v1"
	}
	u.Path, u.RawQuery = "", ""

	c := &Client{
		api:        utils.NewAPI(u.String(), nil),
		endpoint:   path,
		maxTimeout: DefaultMaxTimeout,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health reports whether the service answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.api.Get(ctx, "/health", nil, &out); err != nil {
		return c.classify(err)
	}
	if out.Status != "ok" {
		return fmt.Errorf("%w: health status %q", fetch.ErrSolverUnavailable, out.Status)
	}
	return nil
}

// Solve fetches url through the browser session, creating the session on
// first use and recreating it once if the service has dropped it.
func (c *Client) Solve(ctx context.Context, target string, _ http.Header) (*fetch.Solution, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, target, session)
	if err != nil && resp != nil && sessionMissing(resp.Message) {
		c.log.Warn("flaresolverr session expired, recreating", logger.String("session", session))
		c.resetSession(session)
		if session, err = c.ensureSession(ctx); err != nil {
			return nil, err
		}
		resp, err = c.get(ctx, target, session)
	}
	if err != nil {
		return nil, err
	}
	return toSolution(resp.Solution), nil
}

// Close destroys the browser session, if any.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = ""
	c.mu.Unlock()

	if session == "" {
		return nil
	}
	var resp response
	if err := c.api.Post(ctx, c.endpoint, request{Cmd: "sessions.destroy", Session: session}, &resp); err != nil {
		return c.classify(err)
	}
	c.log.Info("destroyed flaresolverr session", logger.String("session", session))
	return nil
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, nil
	}

	var resp response
	if err := c.api.Post(ctx, c.endpoint, request{Cmd: "sessions.create"}, &resp); err != nil && resp.Status == "" {
		return "", c.classify(err)
	}
	if resp.Status != "ok" || resp.Session == "" {
		return "", fmt.Errorf("flaresolverr sessions.create: %s", resp.Message)
	}
	c.session = resp.Session
	c.log.Info("created flaresolverr session", logger.String("session", c.session))
	return c.session, nil
}

func (c *Client) resetSession(stale string) {
	c.mu.Lock()
	if c.session == stale {
		c.session = ""
	}
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, target, session string) (*response, error) {
	req := request{
		Cmd:        "request.get",
		URL:        target,
		Session:    session,
		MaxTimeout: c.maxTimeout.Milliseconds(),
	}

	var resp response
	err := c.api.Post(ctx, c.endpoint, req, &resp)
	if err != nil && resp.Status == "" {
		return nil, c.classify(err)
	}
	if resp.Status != "ok" || resp.Solution == nil {
		return &resp, fmt.Errorf("flaresolverr request.get %s: %s", target, resp.Message)
	}
	return &resp, nil
}

// classify maps transport failures to fetch.ErrSolverUnavailable.
func (c *Client) classify(err error) error {
	var httpErr *utils.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status < 500 {
		return fmt.Errorf("flaresolverr: %w", err)
	}
	return fmt.Errorf("%w: %w", fetch.ErrSolverUnavailable, err)
}

func sessionMissing(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "session does not exist")
}

func toSolution(s *solution) *fetch.Solution {
	headers := http.Header{}
	for k, v := range s.Headers {
		headers.Set(k, v)
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, ck := range s.Cookies {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			HttpOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		cookies = append(cookies, hc)
	}
	status := s.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &fetch.Solution{
		URL:       s.URL,
		Status:    status,
		Headers:   headers,
		Body:      []byte(s.Response),
		Cookies:   cookies,
		UserAgent: s.UserAgent,
	}
}
