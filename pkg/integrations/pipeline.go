package integrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/kerbaras/mangadl/pkg/logger"
)

// ErrConversionFailed matches every ConversionError.
var ErrConversionFailed = errors.New("conversion failed")

// ConversionError reports an archive that could not be produced.
type ConversionError struct {
	Format Format
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s conversion failed: %v", e.Format, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversionFailed }

// FormatOptions selects the archive formats of a pipeline.
type FormatOptions struct {
	PDF  bool
	CBZ  bool
	EPUB bool
	// PDFMaxWidth and PDFMaxHeight bound PDF pages in pixels; zero keeps
	// the source size.
	PDFMaxWidth  int
	PDFMaxHeight int
}

// Builders returns the builders of the requested formats in PDF, CBZ,
// EPUB order.
func Builders(o FormatOptions) []Builder {
	var out []Builder
	if o.PDF {
		images := NewImageProcessor()
		images.MaxWidth, images.MaxHeight = max(o.PDFMaxWidth, 0), max(o.PDFMaxHeight, 0)
		out = append(out, NewPDFBuilder(images))
	}
	if o.CBZ {
		out = append(out, NewCBZBuilder())
	}
	if o.EPUB {
		out = append(out, NewEPUBBuilder())
	}
	return out
}

// BuildersFor is Builders with unbounded PDF pages.
func BuildersFor(pdf, cbz, epub bool) []Builder {
	return Builders(FormatOptions{PDF: pdf, CBZ: cbz, EPUB: epub})
}

// Pipeline packages completed chapters and optionally removes their raw
// pages once every archive is safely on disk.
type Pipeline struct {
	builders    []Builder
	deleteAfter bool
	log         logger.Logger
}

func NewPipeline(builders []Builder, deleteAfter bool, log logger.Logger) *Pipeline {
	return &Pipeline{builders: builders, deleteAfter: deleteAfter, log: logger.OrNop(log)}
}

// Enabled reports whether any format is configured.
func (p *Pipeline) Enabled() bool {
	return p != nil && len(p.builders) > 0
}

func (p *Pipeline) Formats() []Format {
	formats := make([]Format, 0, len(p.builders))
	for _, b := range p.builders {
		formats = append(formats, b.Format())
	}
	return formats
}

// Convert writes every configured archive for the bundle and returns their
// paths. Each archive is built under a temporary name and renamed into
// place only when non-empty. Raw pages are deleted only when deletion is
// enabled and every archive succeeded.
func (p *Pipeline) Convert(b *Bundle) ([]string, error) {
	var archives []string
	var errs []error

	for _, builder := range p.builders {
		path, err := p.build(builder, b)
		if err != nil {
			p.log.Warn("conversion failed",
				logger.String("title", b.Title.Name),
				logger.String("chapter", b.Chapter.Number.String()),
				logger.String("format", string(builder.Format())),
				logger.Err(err))
			errs = append(errs, &ConversionError{Format: builder.Format(), Err: err})
			continue
		}
		archives = append(archives, path)
	}

	if len(errs) > 0 {
		return archives, errors.Join(errs...)
	}
	if p.deleteAfter && len(archives) > 0 {
		p.deletePages(b)
	}
	return archives, nil
}

func (p *Pipeline) build(builder Builder, b *Bundle) (string, error) {
	dst := b.ArchivePath(builder.Format())
	tmp := dst + ".part"
	_ = os.Remove(tmp)

	if err := builder.Build(b, tmp); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return "", err
	}
	if info.Size() == 0 {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("archive %s is empty", dst)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dst, nil
}

func (p *Pipeline) deletePages(b *Bundle) {
	for _, page := range b.Pages {
		if err := os.Remove(page); err != nil && !os.IsNotExist(err) {
			p.log.Warn("failed to delete page", logger.String("path", page), logger.Err(err))
		}
	}
	p.log.Debug("deleted raw pages",
		logger.String("chapter", b.Chapter.Number.String()),
		logger.Int("pages", len(b.Pages)))
}
