// Package framebuffer implements the shared RGBA8 buffer that render patches
// are written into.
package framebuffer

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/junsooki/photon/internal/event"
)

var (
	// ErrOutOfBounds is returned for a patch that does not fit in the buffer.
	ErrOutOfBounds = errors.New("framebuffer: patch out of bounds")

	// ErrSize is returned for invalid buffer dimensions.
	ErrSize = errors.New("framebuffer: invalid size")
)

// FrameBuffer is a row-major RGBA8 pixel buffer with stride Width*4.
type FrameBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a zeroed buffer.
func New(width, height int) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrSize, width, height)
	}
	return &FrameBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*4),
	}, nil
}

// Wrap adopts caller-owned pixel memory without copying it.
func Wrap(width, height int, pix []byte) (*FrameBuffer, error) {
	if width <= 0 || height <= 0 || len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: %dx%d with %d bytes", ErrSize, width, height, len(pix))
	}
	return &FrameBuffer{Width: width, Height: height, Pix: pix}, nil
}

// Stride returns the number of bytes per row.
func (f *FrameBuffer) Stride() int { return f.Width * 4 }

// Bounds returns the buffer rectangle.
func (f *FrameBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Apply overwrites every pixel of the patch rectangle with the patch colour.
// There is no blending; the last write wins. A rectangle that is not fully
// inside the buffer is rejected and nothing is written.
func (f *FrameBuffer) Apply(p event.SetPixelPatch) error {
	if p.Width < 0 || p.Height < 0 || p.X < 0 || p.Y < 0 ||
		p.X > f.Width-p.Width || p.Y > f.Height-p.Height {
		return fmt.Errorf("%w: %v in %dx%d", ErrOutOfBounds, p.Rect(), f.Width, f.Height)
	}
	if p.Width == 0 || p.Height == 0 {
		return nil
	}

	stride := f.Stride()
	row := f.Pix[p.Y*stride+p.X*4 : p.Y*stride+(p.X+p.Width)*4]
	for i := 0; i < len(row); i += 4 {
		row[i] = p.R
		row[i+1] = p.G
		row[i+2] = p.B
		row[i+3] = p.A
	}
	for y := p.Y + 1; y < p.Y+p.Height; y++ {
		off := y*stride + p.X*4
		copy(f.Pix[off:off+len(row)], row)
	}
	return nil
}

// Fill sets every pixel to c.
func (f *FrameBuffer) Fill(c color.RGBA) {
	for i := 0; i < len(f.Pix); i += 4 {
		f.Pix[i] = c.R
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.B
		f.Pix[i+3] = c.A
	}
}

// FillBlack paints the buffer opaque black.
func (f *FrameBuffer) FillBlack() {
	f.Fill(color.RGBA{A: 255})
}

// At returns the colour of pixel (x, y), or transparent black outside the buffer.
func (f *FrameBuffer) At(x, y int) color.RGBA {
	if x < 0 || x >= f.Width || y < 0 || y >= f.Height {
		return color.RGBA{}
	}
	i := (y*f.Width + x) * 4
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: f.Pix[i+3]}
}

// Image returns an image.RGBA that shares Pix with the buffer.
func (f *FrameBuffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Stride(),
		Rect:   f.Bounds(),
	}
}

// Clone returns a deep copy.
func (f *FrameBuffer) Clone() *FrameBuffer {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &FrameBuffer{Width: f.Width, Height: f.Height, Pix: pix}
}
