package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/logger"
)

var seriesID = regexp.MustCompile(`/series/([^/?#]+)`)

// WeebCentral scrapes series pages and chapter image lists from weebcentral.com.
type WeebCentral struct {
	client  *http.Client
	solver  fetch.Solver
	policy  fetch.Policy
	sleep   fetch.Sleeper
	detect  fetch.ChallengeDetector
	log     logger.Logger
	headers http.Header
}

type WeebCentralOption func(*WeebCentral)

func WithHTTPClient(c *http.Client) WeebCentralOption {
	return func(w *WeebCentral) { w.client = c }
}

// WithSolver routes challenged page-list requests through s.
func WithSolver(s fetch.Solver) WeebCentralOption {
	return func(w *WeebCentral) { w.solver = s }
}

func WithRetry(p fetch.Policy, sleep fetch.Sleeper) WeebCentralOption {
	return func(w *WeebCentral) {
		w.policy = p
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

func WithLogger(l logger.Logger) WeebCentralOption {
	return func(w *WeebCentral) { w.log = logger.OrNop(l) }
}

func NewWeebCentral(opts ...WeebCentralOption) *WeebCentral {
	h := http.Header{}
	h.Set("User-Agent", fetch.DefaultUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")

	w := &WeebCentral{
		client: &http.Client{Timeout: fetch.DefaultTimeout},
		policy: fetch.Policy{
			MaxAttempts: 4,
			BaseDelay:   time.Second,
			Multiplier:  2,
			MaxDelay:    8 * time.Second,
		},
		sleep:   fetch.Sleep,
		detect:  fetch.DetectChallenge,
		log:     logger.NewNop(),
		headers: h,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WeebCentral) Name() string { return "weebcentral" }

func (w *WeebCentral) GetTitle(ctx context.Context, seriesURL string) (*data.Title, error) {
	u, err := url.Parse(seriesURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, seriesURL)
	}
	m := seriesID.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, fmt.Errorf("%w: no series id in %s", ErrUnsupportedURL, seriesURL)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host}

	doc, err := w.document(ctx, seriesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("series page: %w", err)
	}

	title := &data.Title{
		ID:     m[1],
		URL:    seriesURL,
		Name:   strings.TrimSpace(doc.Find("h1").First().Text()),
		Source: w.Name(),
	}
	if title.Name == "" {
		title.Name = "Unknown Title"
	}
	doc.Find("a[href*='author=']").Each(func(_ int, s *goquery.Selection) {
		title.Authors = appendUnique(title.Authors, strings.TrimSpace(s.Text()))
	})
	doc.Find("a[href*='included_tag=']").Each(func(_ int, s *goquery.Selection) {
		title.Tags = appendUnique(title.Tags, strings.TrimSpace(s.Text()))
	})
	doc.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		if strings.Contains(li.ChildrenFiltered("strong").Text(), "Description") {
			title.Description = strings.TrimSpace(li.Find("p").First().Text())
			return false
		}
		return true
	})
	doc.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if src == "" || strings.Contains(src, "brand.png") || strings.HasPrefix(src, "/static") {
			return true
		}
		title.Cover = resolve(base, src)
		return false
	})

	listURL := base.JoinPath("series", title.ID, "full-chapter-list").String()
	list, err := w.document(ctx, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("chapter list: %w", err)
	}

	links := list.Find("a[href*='/chapters/']")
	chapters := make([]data.ChapterRef, 0, links.Length())
	links.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		name := strings.Join(strings.Fields(a.Find("span").First().Text()), " ")
		if name == "" {
			name = strings.Join(strings.Fields(a.Text()), " ")
		}
		chapters = append(chapters, data.ChapterRef{
			Number:  data.ParseChapterNumberFromName(name),
			Name:    name,
			Locator: resolve(base, href),
		})
	})
	// the list is served newest first
	slices.Reverse(chapters)
	title.Chapters = chapters

	w.log.Info("fetched title",
		logger.String("title", title.Name),
		logger.Int("chapters", len(chapters)))
	return title, nil
}

func (w *WeebCentral) GetPages(ctx context.Context, _ *data.Title, chapter data.ChapterRef) ([]data.PageRef, error) {
	base, err := url.Parse(chapter.Locator)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, chapter.Locator)
	}

	imagesURL := strings.TrimRight(chapter.Locator, "/") + "/images?is_prev=False&current_page=1&reading_style=long_strip"
	extra := http.Header{}
	extra.Set("HX-Request", "true")
	extra.Set("Referer", chapter.Locator)

	doc, err := w.document(ctx, imagesURL, extra)
	if err != nil {
		return nil, fmt.Errorf("chapter %s images: %w", chapter.Number, err)
	}

	var pages []data.PageRef
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src == "" || strings.Contains(src, "/static/") || strings.Contains(src, "broken_image") {
			return
		}
		pages = append(pages, data.PageRef{Index: len(pages), URL: resolve(base, src)})
	})
	return pages, nil
}

// document GETs target with retries and parses the HTML. A challenge answer
// is retried once through the solver when one is configured.
func (w *WeebCentral) document(ctx context.Context, target string, extra http.Header) (*goquery.Document, error) {
	var lastErr error
	attempts := w.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := w.sleep(ctx, w.policy.Delay(attempt-1, rand.Float64())); err != nil {
				return nil, err
			}
		}

		body, err := w.get(ctx, target, extra)
		if err == nil {
			return goquery.NewDocumentFromReader(bytes.NewReader(body))
		}
		lastErr = err

		var se *fetch.StatusError
		if errors.Is(err, fetch.ErrChallengeUnresolved) || (errors.As(err, &se) && !se.Retryable()) {
			break
		}
		w.log.Debug("retrying metadata request",
			logger.String("url", target),
			logger.Int("attempt", attempt),
			logger.Err(err))
	}
	return nil, lastErr
}

func (w *WeebCentral) get(ctx context.Context, target string, extra http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header = w.headers.Clone()
	for k, v := range extra {
		req.Header[k] = v
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if w.detect(resp.StatusCode, resp.Header, body) {
		if w.solver == nil {
			return nil, fmt.Errorf("%w: %s", fetch.ErrChallengeUnresolved, target)
		}
		w.log.Warn("challenge on metadata request, using solver", logger.String("url", target))
		sol, err := w.solver.Solve(ctx, target, req.Header)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", fetch.ErrChallengeUnresolved, err)
		}
		if sol.Status >= 400 || w.detect(sol.Status, sol.Headers, sol.Body) {
			return nil, fmt.Errorf("%w: solver status %d for %s", fetch.ErrChallengeUnresolved, sol.Status, target)
		}
		return sol.Body, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &fetch.StatusError{Code: resp.StatusCode, URL: target}
	}
	return body, nil
}

func resolve(base *url.URL, ref string) string {
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
