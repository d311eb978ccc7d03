package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerbaras/mangadl/pkg/data"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

const challengePage = `<html><head><title>Just a moment...</title></head><body><div id="cf-chl-widget"></div></body></html>`

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestFetcher(sleeper *recordingSleeper, opts ...Option) *Fetcher {
	base := []Option{
		WithSleeper(sleeper.Sleep),
		WithRandom(func() float64 { return 0.5 }),
		WithTimeout(5 * time.Second),
	}
	return New(append(base, opts...)...)
}

func TestFetchSuccess(t *testing.T) {
	var referer, userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{})
	page, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{Index: 2, URL: srv.URL + "/p.png"}, "https://example.com/chapters/1")
	require.NoError(t, err)

	assert.Equal(t, 2, page.Index)
	assert.Equal(t, pngBytes, page.Body)
	assert.Equal(t, "image/png", page.ContentType)
	assert.Equal(t, "https://example.com/chapters/1", referer)
	assert.Equal(t, DefaultUserAgent, userAgent)
	assert.EqualValues(t, 1, f.Requests())
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(pngBytes)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(sleeper)
	page, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")
	require.NoError(t, err)

	assert.Equal(t, pngBytes, page.Body)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, sleeper.waits)
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{})
	_, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{Index: 7, URL: srv.URL}, "")
	require.Error(t, err)

	var pfe *PageFetchError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, 7, pfe.Index)
	assert.Equal(t, 4, pfe.Attempts)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.EqualValues(t, 4, hits.Load())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{})
	_, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestFetchRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>not here</body></html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{})
	_, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{}, WithMaxPageSize(int64(len(pngBytes)-1)))
	page, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{Index: 4, URL: srv.URL}, "")
	require.Error(t, err)
	assert.Nil(t, page)
	assert.ErrorIs(t, err, ErrPageTooLarge)

	var pfe *PageFetchError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, 4, pfe.Index)
	assert.EqualValues(t, 1, hits.Load(), "an oversized page is not retried")
}

func TestFetchAcceptsBodyAtSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{}, WithMaxPageSize(int64(len(pngBytes))))
	page, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, page.Body)
}

func TestFetchChallengeWithoutSolverFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(challengePage))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(sleeper)
	_, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")

	assert.ErrorIs(t, err, ErrChallengeUnresolved)
	assert.EqualValues(t, 1, hits.Load())
	assert.Empty(t, sleeper.waits)
	assert.True(t, f.Challenged())
}

type fakeSolver struct {
	calls atomic.Int32
	solve func(url string, headers http.Header) (*Solution, error)
}

func (s *fakeSolver) Solve(_ context.Context, url string, headers http.Header) (*Solution, error) {
	s.calls.Add(1)
	return s.solve(url, headers)
}

func TestFetchChallengeReroutesSubsequentFetches(t *testing.T) {
	var direct atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		direct.Add(1)
		if c, err := r.Cookie("cf_clearance"); err == nil && c.Value == "ok" {
			w.Write(pngBytes)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(challengePage))
	}))
	defer srv.Close()

	solver := &fakeSolver{solve: func(url string, headers http.Header) (*Solution, error) {
		return &Solution{
			URL:       url,
			Status:    http.StatusOK,
			Body:      []byte("<html><body><img src='x'></body></html>"),
			Cookies:   []*http.Cookie{{Name: "cf_clearance", Value: "ok"}},
			UserAgent: "solver-agent",
		}, nil
	}}

	f := newTestFetcher(&recordingSleeper{}, WithSolver(solver))
	slot := f.NewSlot(0)

	page, err := slot.Fetch(context.Background(), data.PageRef{Index: 0, URL: srv.URL + "/0"}, "")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, page.Body)
	assert.True(t, f.Challenged())

	_, err = slot.Fetch(context.Background(), data.PageRef{Index: 1, URL: srv.URL + "/1"}, "")
	require.NoError(t, err)

	assert.EqualValues(t, 2, solver.calls.Load())
	// one challenged direct hit, then one cookie replay per page
	assert.EqualValues(t, 3, direct.Load())
}

func TestFetchSolverReturnsImageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(challengePage))
	}))
	defer srv.Close()

	solver := &fakeSolver{solve: func(url string, headers http.Header) (*Solution, error) {
		assert.Equal(t, "https://example.com/chapters/9", headers.Get("Referer"))
		return &Solution{Status: http.StatusOK, Body: pngBytes, Headers: http.Header{}}, nil
	}}

	f := newTestFetcher(&recordingSleeper{}, WithSolver(solver))
	page, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "https://example.com/chapters/9")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, page.Body)
}

func TestFetchSolverUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(challengePage))
	}))
	defer srv.Close()

	solver := &fakeSolver{solve: func(string, http.Header) (*Solution, error) {
		return nil, ErrSolverUnavailable
	}}

	f := newTestFetcher(&recordingSleeper{}, WithSolver(solver))
	_, err := f.NewSlot(0).Fetch(context.Background(), data.PageRef{URL: srv.URL}, "")

	assert.ErrorIs(t, err, ErrChallengeUnresolved)
	assert.ErrorIs(t, err, ErrSolverUnavailable)
	assert.EqualValues(t, 1, solver.calls.Load())
}

func TestFetchCancelledBeforeDispatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(pngBytes)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(&recordingSleeper{})
	_, err := f.NewSlot(time.Second).Fetch(ctx, data.PageRef{URL: srv.URL}, "")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, hits.Load())
}

func TestFetchInFlightSurvivesCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write(pngBytes)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := newTestFetcher(&recordingSleeper{})

	done := make(chan error, 1)
	var page *Page
	go func() {
		var err error
		page, err = f.NewSlot(0).Fetch(ctx, data.PageRef{URL: srv.URL}, "")
		done <- err
	}()

	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, pngBytes, page.Body)
}

func TestSlotPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(&recordingSleeper{})
	slot := f.NewSlot(100 * time.Millisecond)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := slot.Fetch(context.Background(), data.PageRef{Index: i, URL: srv.URL}, "")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)
}

func TestDetectChallenge(t *testing.T) {
	assert.True(t, DetectChallenge(403, nil, []byte(challengePage)))
	assert.True(t, DetectChallenge(503, nil, []byte("<title>Attention Required! | Cloudflare</title>")))
	assert.False(t, DetectChallenge(200, nil, []byte(challengePage)))
	assert.False(t, DetectChallenge(503, nil, []byte("upstream overloaded")))
}
