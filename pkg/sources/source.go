// Package sources resolves remote titles into chapter and page lists.
package sources

import (
	"context"
	"errors"

	"github.com/kerbaras/mangadl/pkg/data"
)

// ErrUnsupportedURL is returned when a source cannot handle a title URL.
var ErrUnsupportedURL = errors.New("unsupported title url")

// Source is the metadata fetcher: it turns a title URL into a Title with an
// ascending chapter list and a chapter into its ordered pages.
type Source interface {
	Name() string
	GetTitle(ctx context.Context, url string) (*data.Title, error)
	GetPages(ctx context.Context, title *data.Title, chapter data.ChapterRef) ([]data.PageRef, error)
}
