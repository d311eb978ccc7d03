// Package fetch downloads page images with retry, per-slot pacing and a
// fallback through a challenge solver once the remote presents an anti-bot
// interstitial.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/time/rate"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/logger"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	// DefaultMaxPageSize bounds a single page body.
	DefaultMaxPageSize = 64 << 20
)

// DefaultHeaders are sent with every page request.
func DefaultHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// Page is a fetched page image.
type Page struct {
	Index       int
	Body        []byte
	ContentType string
}

// Fetcher holds the state shared by every fetch of a run: the HTTP client,
// the retry policy and whether the remote has started challenging us.
type Fetcher struct {
	client   *http.Client
	policy   Policy
	timeout  time.Duration
	headers  http.Header
	detect   ChallengeDetector
	solver   Solver
	sleep    Sleeper
	random   func() float64
	maxSize  int64
	log      logger.Logger
	requests atomic.Int64

	challenged atomic.Bool
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }
func WithPolicy(p Policy) Option { return func(f *Fetcher) { f.policy = p } }
func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }
func WithSolver(s Solver) Option { return func(f *Fetcher) { f.solver = s } }
func WithDetector(d ChallengeDetector) Option { return func(f *Fetcher) { f.detect = d } }
func WithSleeper(s Sleeper) Option { return func(f *Fetcher) { f.sleep = s } }
func WithRandom(r func() float64) Option { return func(f *Fetcher) { f.random = r } }
func WithLogger(l logger.Logger) Option { return func(f *Fetcher) { f.log = logger.OrNop(l) } }
func WithHeader(key, value string) Option { return func(f *Fetcher) { f.headers.Set(key, value) } }
func WithMaxPageSize(n int64) Option { return func(f *Fetcher) { f.maxSize = n } }

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		policy:  DefaultPolicy(),
		timeout: DefaultTimeout,
		headers: DefaultHeaders(),
		detect:  DetectChallenge,
		sleep:   Sleep,
		random:  rand.Float64,
		maxSize: DefaultMaxPageSize,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.maxSize <= 0 {
		f.maxSize = DefaultMaxPageSize
	}
	return f
}

// Challenged reports whether fetches are being routed through the solver.
func (f *Fetcher) Challenged() bool {
	return f.challenged.Load()
}

// Requests returns the number of network requests issued so far, solver
// requests included.
func (f *Fetcher) Requests() int64 {
	return f.requests.Load()
}

// Slot is one concurrent fetch lane. Each slot paces itself independently:
// consecutive requests from the same slot are at least delay apart.
type Slot struct {
	f       *Fetcher
	limiter *rate.Limiter
}

// NewSlot returns a lane that waits delay between its own requests. A slot
// must not be used by more than one goroutine at a time.
func (f *Fetcher) NewSlot(delay time.Duration) *Slot {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Slot{f: f, limiter: rate.NewLimiter(limit, 1)}
}

// Fetch downloads one page, retrying per policy. Cancelling ctx stops new
// attempts from being started; an attempt already on the wire runs to
// completion under the fetcher's own timeout.
func (s *Slot) Fetch(ctx context.Context, page data.PageRef, referer string) (*Page, error) {
	f := s.f
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= f.policy.attempts(); attempt++ {
		if attempt > 1 {
			wait := f.policy.Delay(attempt-1, f.random())
			f.log.Debug("retrying page",
				logger.Int("page", page.Index),
				logger.Int("attempt", attempt),
				logger.Duration("wait", wait),
				logger.Err(lastErr))
			if err := f.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("page %d: %w", page.Index, err)
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Index, err)
		}

		attempts++
		body, ctype, err := f.attempt(ctx, page.URL, referer)
		if err == nil {
			return &Page{Index: page.Index, Body: body, ContentType: ctype}, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}

	return nil, &PageFetchError{Index: page.Index, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url, referer string) ([]byte, string, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	if f.challenged.Load() {
		return f.viaSolver(actx, url, referer)
	}

	status, header, body, err := f.get(actx, url, referer, nil, "")
	if err != nil {
		return nil, "", err
	}
	if f.detect(status, header, body) {
		if f.challenged.CompareAndSwap(false, true) {
			f.log.Warn("challenge detected, routing fetches through solver", logger.String("url", url))
		}
		return f.viaSolver(actx, url, referer)
	}
	return checkImage(url, status, header.Get("Content-Type"), body)
}

func (f *Fetcher) viaSolver(ctx context.Context, url, referer string) ([]byte, string, error) {
	if f.solver == nil {
		return nil, "", fmt.Errorf("%w: no solver configured", ErrChallengeUnresolved)
	}

	f.requests.Add(1)
	sol, err := f.solver.Solve(ctx, url, f.requestHeaders(referer))
	if err != nil {
		if errors.Is(err, ErrSolverUnavailable) {
			return nil, "", fmt.Errorf("%w: %w", ErrChallengeUnresolved, err)
		}
		return nil, "", fmt.Errorf("solve %s: %w", url, err)
	}
	if f.detect(sol.Status, sol.Headers, sol.Body) {
		return nil, "", fmt.Errorf("%w: solver returned a challenge for %s", ErrChallengeUnresolved, url)
	}
	if sol.Status >= 400 {
		return nil, "", &StatusError{Code: sol.Status, URL: url}
	}
	if len(sol.Body) > 0 && strings.HasPrefix(mimetype.Detect(sol.Body).String(), "image/") {
		return sol.Body, sol.Headers.Get("Content-Type"), nil
	}
	if len(sol.Cookies) == 0 {
		return nil, "", fmt.Errorf("%w: solver returned markup for %s", ErrNotImage, url)
	}

	// The solver rendered the page in a browser; replay the request with the
	// clearance cookies it obtained to get the raw image bytes.
	status, header, body, err := f.get(ctx, url, referer, sol.Cookies, sol.UserAgent)
	if err != nil {
		return nil, "", err
	}
	if f.detect(status, header, body) {
		return nil, "", fmt.Errorf("%w: clearance rejected for %s", ErrChallengeUnresolved, url)
	}
	return checkImage(url, status, header.Get("Content-Type"), body)
}

func (f *Fetcher) requestHeaders(referer string) http.Header {
	h := f.headers.Clone()
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func (f *Fetcher) get(ctx context.Context, url, referer string, cookies []*http.Cookie, userAgent string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header = f.requestHeaders(referer)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	f.requests.Add(1)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxSize {
		return 0, nil, nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrPageTooLarge, url, f.maxSize)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func checkImage(url string, status int, ctype string, body []byte) ([]byte, string, error) {
	if status < 200 || status >= 300 {
		return nil, "", &StatusError{Code: status, URL: url}
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("GET %s: empty body", url)
	}
	if strings.HasPrefix(strings.ToLower(ctype), "text/html") || mimetype.Detect(body).Is("text/html") {
		return nil, "", fmt.Errorf("%w: %s", ErrNotImage, url)
	}
	return body, ctype, nil
}
