package integrations

import (
	"fmt"
	"path/filepath"

	"github.com/kerbaras/mangadl/pkg/data"
)

// Format is an archive format a finished chapter can be packaged into.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatCBZ  Format = "cbz"
	FormatEPUB Format = "epub"
)

// Bundle is a completed chapter handed over for packaging: its page files in
// page-index order and the directory archives are written to.
type Bundle struct {
	Title   *data.Title
	Chapter data.ChapterRef
	Pages   []string
	Dir     string
}

// ArchivePath is where the archive of the given format is written:
// "<dir>/<Title> - Ch<number>.<ext>".
func (b *Bundle) ArchivePath(f Format) string {
	name := fmt.Sprintf("%s - Ch%s.%s", b.Title.Key(), b.Chapter.Number, f)
	return filepath.Join(b.Dir, name)
}

func (b *Bundle) chapterTitle() string {
	if b.Chapter.Name != "" {
		return b.Chapter.Name
	}
	return "Chapter " + b.Chapter.Number.String()
}

// Builder writes one archive format. Build writes the complete archive to
// dst; the pipeline owns naming, atomic placement and verification.
type Builder interface {
	Format() Format
	Build(b *Bundle, dst string) error
}
