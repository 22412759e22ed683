package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// Thumbnail scales img so it covers a size x size box, then crops the
// centre.
func Thumbnail(img image.Image, size int) image.Image {
	b := img.Bounds()
	var scaled image.Image
	if b.Dx() < b.Dy() {
		scaled = resize.Resize(uint(size), 0, img, resize.Lanczos3)
	} else {
		scaled = resize.Resize(0, uint(size), img, resize.Lanczos3)
	}
	sb := scaled.Bounds()
	x0 := sb.Min.X + (sb.Dx()-size)/2
	y0 := sb.Min.Y + (sb.Dy()-size)/2
	out := image.NewRGBA(image.Rect(0, 0, min(size, sb.Dx()), min(size, sb.Dy())))
	draw.Draw(out, out.Bounds(), scaled, image.Point{X: max(x0, sb.Min.X), Y: max(y0, sb.Min.Y)}, draw.Src)
	return out
}

// Scaled fits img within a size x size box, enlarging small sources.
func Scaled(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		return resize.Resize(uint(size), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(size), img, resize.Lanczos3)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
