package integrations

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/kerbaras/mangadl/pkg/data"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return writeFile(t, dir, name, buf.Bytes())
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return writeFile(t, dir, name, buf.Bytes())
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testBundle(t *testing.T, pages int) *Bundle {
	t.Helper()
	dir := t.TempDir()
	b := &Bundle{
		Title: &data.Title{
			Name:        "Test Title",
			URL:         "https://weebcentral.com/series/ABC/test-title",
			Description: "A story.",
			Authors:     []string{"Jane Doe"},
			Tags:        []string{"Action", "Drama"},
			Chapters:    []data.ChapterRef{{Number: 1}, {Number: 2}, {Number: 2.5}},
		},
		Chapter: data.ChapterRef{Number: 2.5, Name: "Chapter 2.5"},
		Dir:     dir,
	}
	for i := 0; i < pages; i++ {
		if i%2 == 0 {
			b.Pages = append(b.Pages, writePNG(t, dir, pageName(i, ".png"), 20+i, 30))
		} else {
			b.Pages = append(b.Pages, writeJPEG(t, dir, pageName(i, ".jpg"), 40, 20))
		}
	}
	return b
}

func pageName(i int, ext string) string {
	return fmt.Sprintf("%03d%s", i+1, ext)
}
