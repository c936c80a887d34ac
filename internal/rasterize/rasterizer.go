package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Rasterizer turns a document into an ordered sequence of page byte
// buffers; buffer i corresponds to page i.
type Rasterizer interface {
	// Expand renders every page. ContentType describes the encoding of
	// the produced buffers.
	Expand(ctx context.Context, path string, dpi int) ([][]byte, error)
	ContentType() string
}

// ColorMode defines the color mode for rendering.
type ColorMode string

const (
	ColorRGB  ColorMode = "rgb"
	ColorGray ColorMode = "gray"
)

// FitzRasterizer renders PDF/TIFF pages to JPEG via MuPDF.
type FitzRasterizer struct {
	Quality int
	Color   ColorMode
}

// NewFitz creates a rasterizer with the given JPEG quality and color mode.
func NewFitz(quality int, color ColorMode) *FitzRasterizer {
	if quality <= 0 {
		quality = 85
	}
	if color == "" {
		color = ColorRGB
	}
	return &FitzRasterizer{Quality: quality, Color: color}
}

// ContentType is the transport content type of every expanded page.
func (r *FitzRasterizer) ContentType() string { return "image/jpeg" }

// Expand renders all pages of the document at the given DPI, in page
// order.
func (r *FitzRasterizer) Expand(ctx context.Context, path string, dpi int) ([][]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	pages := make([][]byte, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf, w, h, err := r.renderPage(doc, i, dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}
		pages = append(pages, buf)

		log.Debug().
			Int("page", i).
			Int("width", w).
			Int("height", h).
			Int("jpeg_size", len(buf)).
			Int("dpi", dpi).
			Msg("rendered page")
	}
	return pages, nil
}

func (r *FitzRasterizer) renderPage(doc *fitz.Document, page, dpi int) ([]byte, int, int, error) {
	img, err := doc.ImageDPI(page, float64(dpi))
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	var final image.Image = img
	if r.Color == ColorGray {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, image.Point{}, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode JPEG: %w", err)
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// PageCount reports the number of pages without rendering.
func (r *FitzRasterizer) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// Passthrough treats a plain raster image as a single-page document and
// transmits its bytes unmodified.
type Passthrough struct {
	Type string // native content type of the image
}

func (p *Passthrough) ContentType() string { return p.Type }

func (p *Passthrough) Expand(ctx context.Context, path string, dpi int) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return [][]byte{data}, nil
}
