package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kerbaras/mangadl/pkg/checkpoint"
	"github.com/kerbaras/mangadl/pkg/data"
	"github.com/kerbaras/mangadl/pkg/fetch"
	"github.com/kerbaras/mangadl/pkg/integrations"
)

func createTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 20), G: uint8(y * 20), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pageServer serves PNG pages and records every path it was asked for.
type pageServer struct {
	*httptest.Server
	body []byte

	mu        sync.Mutex
	hits      []string
	status    map[string]int        // path -> forced status
	bodies    map[string][]byte     // path -> body served instead of body
	hook      func(r *http.Request) // runs before the response is written
	challenge bool                  // answer with a challenge page until cleared
}

func newPageServer(t *testing.T) *pageServer {
	ps := &pageServer{body: createTestPNG(t), status: make(map[string]int), bodies: make(map[string][]byte)}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.hits = append(ps.hits, r.URL.Path)
		code, forced := ps.status[r.URL.Path]
		body, custom := ps.bodies[r.URL.Path]
		hook, challenge := ps.hook, ps.challenge
		ps.mu.Unlock()

		if hook != nil {
			hook(r)
		}
		if _, err := r.Cookie("cf_clearance"); challenge && err != nil {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(challengeBody))
			return
		}
		if forced {
			w.WriteHeader(code)
			return
		}
		if !custom {
			body = ps.body
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pageServer) Hits() []string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]string(nil), ps.hits...)
}

func (ps *pageServer) Reset() {
	ps.mu.Lock()
	ps.hits = nil
	ps.mu.Unlock()
}

func (ps *pageServer) SetHook(hook func(*http.Request)) {
	ps.mu.Lock()
	ps.hook = hook
	ps.mu.Unlock()
}

func (ps *pageServer) SetChallenge(on bool) {
	ps.mu.Lock()
	ps.challenge = on
	ps.mu.Unlock()
}

func (ps *pageServer) SetStatus(path string, code int) {
	ps.mu.Lock()
	if code == 0 {
		delete(ps.status, path)
	} else {
		ps.status[path] = code
	}
	ps.mu.Unlock()
}

func (ps *pageServer) SetBody(path string, body []byte) {
	ps.mu.Lock()
	ps.bodies[path] = body
	ps.mu.Unlock()
}

func (ps *pageServer) pageURL(ch data.ChapterNumber, i int) string {
	return fmt.Sprintf("%s/ch%s/p%d.png", ps.URL, ch, i)
}

// fakeLister hands out a fixed number of pages per chapter from a pageServer.
type fakeLister struct {
	srv   *pageServer
	pages int
	delay time.Duration

	calls  atomic.Int32
	active atomic.Int32
	peak   atomic.Int32
}

const challengeBody = `<html><head><title>Just a moment...</title></head><body><div id="cf-chl-widget"></div></body></html>`

func (l *fakeLister) GetPages(ctx context.Context, _ *data.Title, chapter data.ChapterRef) ([]data.PageRef, error) {
	l.calls.Add(1)
	n := l.active.Add(1)
	defer l.active.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if l.delay > 0 {
		time.Sleep(l.delay)
	}

	pages := make([]data.PageRef, l.pages)
	for i := range pages {
		pages[i] = data.PageRef{Index: i, URL: l.srv.pageURL(chapter.Number, i)}
	}
	return pages, nil
}

func testTitle(chapters ...data.ChapterNumber) *data.Title {
	title := &data.Title{ID: "test-title", Name: "Test Title", URL: "https://example.com/series/test-title", Source: "test"}
	for _, n := range chapters {
		title.Chapters = append(title.Chapters, data.ChapterRef{
			Number:  n,
			Name:    "Chapter " + n.String(),
			Locator: "https://example.com/chapters/" + n.String(),
		})
	}
	return title
}

func selectAll(title *data.Title) data.SelectionSet {
	set := make(data.SelectionSet, 0, len(title.Chapters))
	for _, ch := range title.Chapters {
		set = append(set, ch.Number)
	}
	return set
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestFetcher(opts ...fetch.Option) *fetch.Fetcher {
	base := []fetch.Option{
		fetch.WithSleeper(noSleep),
		fetch.WithRandom(func() float64 { return 0.5 }),
		fetch.WithTimeout(5 * time.Second),
	}
	return fetch.New(append(base, opts...)...)
}

type testEnv struct {
	root    string
	store   *checkpoint.FileStore
	srv     *pageServer
	lister  *fakeLister
	fetcher *fetch.Fetcher
}

func newTestEnv(t *testing.T, pages int) *testEnv {
	root := t.TempDir()
	srv := newPageServer(t)
	return &testEnv{
		root:    root,
		store:   checkpoint.NewFileStore(root),
		srv:     srv,
		lister:  &fakeLister{srv: srv, pages: pages},
		fetcher: newTestFetcher(),
	}
}

func (e *testEnv) orchestrator(opts ...Option) *Orchestrator {
	base := []Option{WithDelay(0)}
	return NewOrchestrator(e.lister, e.fetcher, e.store, e.root, append(base, opts...)...)
}

func (e *testEnv) chapterDir(title *data.Title, n data.ChapterNumber) string {
	return data.Layout{Root: e.root}.ChapterDir(title.Key(), n)
}

func cbzPipeline() *integrations.Pipeline {
	return integrations.NewPipeline(integrations.BuildersFor(false, true, false), false, nil)
}

// brokenBuilder fails every build.
type brokenBuilder struct{}

func (brokenBuilder) Format() integrations.Format { return integrations.FormatPDF }

func (brokenBuilder) Build(*integrations.Bundle, string) error {
	return fmt.Errorf("encoder exploded")
}

// failingStore fails every Save of one chapter after the first allowed saves.
type failingStore struct {
	*checkpoint.FileStore
	chapter data.ChapterNumber
	allowed int32
	saves   atomic.Int32
}

func (s *failingStore) Save(titleID string, chapter data.ChapterNumber, cp *checkpoint.Checkpoint) error {
	if chapter == s.chapter && s.saves.Add(1) > s.allowed {
		return &checkpoint.IOError{Op: "write", Path: "disk full", Err: os.ErrPermission}
	}
	return s.FileStore.Save(titleID, chapter, cp)
}

// eventLog collects events in arrival order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) Types(ch data.ChapterNumber) []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []EventType
	for _, e := range l.events {
		if e.Chapter == ch && e.Type != EventRunFinished {
			out = append(out, e.Type)
		}
	}
	return out
}

// CompletedPages lists page indices of a chapter in completion order.
func (l *eventLog) CompletedPages(ch data.ChapterNumber) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, e := range l.events {
		if e.Chapter == ch && e.Type == EventPageCompleted {
			out = append(out, e.Page)
		}
	}
	return out
}

func (l *eventLog) Last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func countPrefix(paths []string, prefix string) int {
	n := 0
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func listFiles(t *testing.T, dir, pattern string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	return files
}
