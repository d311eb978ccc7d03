package integrations

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// pxToPt converts pixels at 96 dpi to PDF points.
const pxToPt = 72.0 / 96.0

// PDFBuilder writes one PDF page per image, each page sized to its image.
type PDFBuilder struct {
	images *ImageProcessor
}

func NewPDFBuilder(images *ImageProcessor) *PDFBuilder {
	if images == nil {
		images = NewImageProcessor()
	}
	return &PDFBuilder{images: images}
}

func (p *PDFBuilder) Format() Format { return FormatPDF }

func (p *PDFBuilder) Build(b *Bundle, dst string) error {
	if len(b.Pages) == 0 {
		return fmt.Errorf("no pages to compile")
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: 595, Ht: 842},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(fmt.Sprintf("%s - %s", b.Title.Name, b.chapterTitle()), true)
	pdf.SetCreator("mangadl", true)
	if len(b.Title.Authors) > 0 {
		pdf.SetAuthor(b.Title.Authors[0], true)
	}

	for i, path := range b.Pages {
		img, err := p.images.Load(path)
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}

		w, h := float64(img.Width)*pxToPt, float64(img.Height)*pxToPt
		name := fmt.Sprintf("page-%04d", i+1)
		opts := fpdf.ImageOptions{ImageType: img.Type}

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
		pdf.ImageOptions(name, 0, 0, w, h, false, opts, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}

	return pdf.OutputFileAndClose(dst)
}
