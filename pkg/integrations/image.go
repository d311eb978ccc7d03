package integrations

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"github.com/gabriel-vasile/mimetype"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// PageImage is a page ready to be embedded in a document.
type PageImage struct {
	Data   []byte
	Type   string // fpdf image type
	Width  int
	Height int
}

// ImageProcessor turns downloaded page files into images the PDF writer can
// embed. JPEG passes through untouched, anything else is re-encoded as JPEG.
type ImageProcessor struct {
	// MaxWidth and MaxHeight bound re-encoded pages; zero disables resizing.
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{Quality: 92}
}

// Load reads a page file and normalizes it.
func (p *ImageProcessor) Load(path string) (*PageImage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty page file", path)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if mimetype.Detect(raw).Is("image/jpeg") && p.fits(cfg.Width, cfg.Height) {
		return &PageImage{Data: raw, Type: "JPG", Width: cfg.Width, Height: cfg.Height}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to decode image: %w", path, err)
	}
	return p.encode(img)
}

func (p *ImageProcessor) fits(width, height int) bool {
	return (p.MaxWidth <= 0 || width <= p.MaxWidth) && (p.MaxHeight <= 0 || height <= p.MaxHeight)
}

// calculateDimensions scales (width, height) to fit the bounds keeping the
// aspect ratio.
func (p *ImageProcessor) calculateDimensions(width, height int) (int, int) {
	if p.fits(width, height) {
		return width, height
	}

	scale := 1.0
	if p.MaxWidth > 0 {
		scale = float64(p.MaxWidth) / float64(width)
	}
	if p.MaxHeight > 0 {
		if hs := float64(p.MaxHeight) / float64(height); hs < scale {
			scale = hs
		}
	}
	return max(1, int(float64(width)*scale)), max(1, int(float64(height)*scale))
}

func (p *ImageProcessor) encode(img image.Image) (*PageImage, error) {
	b := img.Bounds()
	w, h := p.calculateDimensions(b.Dx(), b.Dy())

	// JPEG has no alpha; flatten onto white so transparent areas stay blank.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w != b.Dx() || h != b.Dy() {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	}

	quality := p.Quality
	if quality <= 0 || quality > 100 {
		quality = 92
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return &PageImage{Data: buf.Bytes(), Type: "JPG", Width: w, Height: h}, nil
}
