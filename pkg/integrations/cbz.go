package integrations

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ComicInfo is the ComicRack metadata document read by comic readers.
type ComicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	XSI         string   `xml:"xmlns:xsi,attr"`
	XSD         string   `xml:"xmlns:xsd,attr"`
	Title       string   `xml:"Title"`
	Series      string   `xml:"Series"`
	Number      string   `xml:"Number"`
	Count       int      `xml:"Count,omitempty"`
	PageCount   int      `xml:"PageCount"`
	Writer      string   `xml:"Writer,omitempty"`
	Summary     string   `xml:"Summary,omitempty"`
	Genre       string   `xml:"Genre,omitempty"`
	Web         string   `xml:"Web,omitempty"`
	LanguageISO string   `xml:"LanguageISO"`
	Manga       string   `xml:"Manga"`
}

// NewComicInfo describes a chapter bundle.
func NewComicInfo(b *Bundle) *ComicInfo {
	return &ComicInfo{
		XSI:         "http://www.w3.org/2001/XMLSchema-instance",
		XSD:         "http://www.w3.org/2001/XMLSchema",
		Title:       b.chapterTitle(),
		Series:      b.Title.Name,
		Number:      b.Chapter.Number.String(),
		Count:       len(b.Title.Chapters),
		PageCount:   len(b.Pages),
		Writer:      strings.Join(b.Title.Authors, ", "),
		Summary:     b.Title.Description,
		Genre:       strings.Join(b.Title.Tags, ", "),
		Web:         b.Title.URL,
		LanguageISO: "en",
		Manga:       "Yes",
	}
}

// CBZBuilder writes a zip with ComicInfo.xml first followed by the pages
// renamed 0001.ext, 0002.ext, ... so that name order is page order.
type CBZBuilder struct{}

func NewCBZBuilder() *CBZBuilder { return &CBZBuilder{} }

func (c *CBZBuilder) Format() Format { return FormatCBZ }

func (c *CBZBuilder) Build(b *Bundle, dst string) error {
	if len(b.Pages) == 0 {
		return fmt.Errorf("no pages to compile")
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	info, err := xml.MarshalIndent(NewComicInfo(b), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ComicInfo.xml: %w", err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "ComicInfo.xml", Method: zip.Deflate})
	if err != nil {
		return err
	}
	if _, err := w.Write(append([]byte(xml.Header), info...)); err != nil {
		return err
	}

	for i, page := range b.Pages {
		if err := addZipEntry(zw, page, PageEntryName(i, page)); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

// PageEntryName is the archive name of the i-th (0-based) page.
func PageEntryName(i int, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%04d%s", i+1, ext)
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	// page images are already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
