package services

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kerbaras/mangadl/pkg/data"
)

// EventType identifies a progress event.
type EventType string

const (
	EventChapterStarted   EventType = "chapter_started"
	EventPageCompleted    EventType = "page_completed"
	EventPageFailed       EventType = "page_failed"
	EventChapterCompleted EventType = "chapter_completed"
	EventChapterFailed    EventType = "chapter_failed"
	EventChapterConverted EventType = "chapter_converted"
	EventConversionFailed EventType = "conversion_failed"
	EventChapterSkipped   EventType = "chapter_skipped"
	EventChapterCancelled EventType = "chapter_cancelled"
	EventRunFinished      EventType = "run_finished"
)

// Event is a structured progress update emitted during a run.
type Event struct {
	Type     EventType
	RunID    string
	Title    string
	Chapter  data.ChapterNumber
	Page     int // page index for page events
	Done     int // pages completed in the chapter so far
	Total    int // pages in the chapter
	Archives []string
	Err      error
	Summary  *Summary // set on run_finished
	Time     time.Time
}

// Observer receives progress events. Notify is called from worker
// goroutines, possibly concurrently, and must not block for long.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// ChannelObserver buffers events on a channel. When the buffer is full new
// events are dropped rather than stalling the download.
type ChannelObserver struct {
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelObserver{ch: make(chan Event, buffer)}
}

func (c *ChannelObserver) Notify(e Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (c *ChannelObserver) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events did not fit in the buffer.
func (c *ChannelObserver) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the channel. Call it only once the run has returned.
func (c *ChannelObserver) Close() {
	c.once.Do(func() { close(c.ch) })
}

type observers []Observer

func (o observers) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, obs := range o {
		obs.Notify(e)
	}
}
