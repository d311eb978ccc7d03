package integrations

import (
	"fmt"
	"html"
	"strings"

	"github.com/go-shiori/go-epub"
)

// EPUBBuilder packages a chapter as a single-section EPUB with one image per page.
type EPUBBuilder struct{}

func NewEPUBBuilder() *EPUBBuilder { return &EPUBBuilder{} }

func (p *EPUBBuilder) Format() Format { return FormatEPUB }

func (p *EPUBBuilder) Build(b *Bundle, dst string) error {
	if len(b.Pages) == 0 {
		return fmt.Errorf("no pages to compile")
	}

	chapterTitle := b.chapterTitle()
	e, err := epub.NewEpub(fmt.Sprintf("%s - %s", b.Title.Name, chapterTitle))
	if err != nil {
		return fmt.Errorf("failed to create EPub: %w", err)
	}

	if len(b.Title.Authors) > 0 {
		e.SetAuthor(strings.Join(b.Title.Authors, ", "))
	}
	if b.Title.Description != "" {
		e.SetDescription(b.Title.Description)
	}
	e.SetLang("en")

	var body strings.Builder
	body.WriteString(fmt.Sprintf("<h1>%s</h1>\n", html.EscapeString(chapterTitle)))

	for i, page := range b.Pages {
		internalPath, err := e.AddImage(page, PageEntryName(i, page))
		if err != nil {
			return fmt.Errorf("failed to add image %d: %w", i+1, err)
		}
		body.WriteString(fmt.Sprintf(
			`<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>%s`,
			internalPath, i+1, "\n",
		))
	}

	if _, err := e.AddSection(body.String(), chapterTitle, "", ""); err != nil {
		return fmt.Errorf("failed to add section: %w", err)
	}

	if err := e.Write(dst); err != nil {
		return fmt.Errorf("failed to write EPub: %w", err)
	}
	return nil
}
