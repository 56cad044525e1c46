package encoder

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PNGEncoder encodes frames as PNG, optionally stamping a caption in the
// top-left corner.
type PNGEncoder struct {
	enc     png.Encoder
	caption string
}

// NewPNGEncoder creates a PNG encoder with the given compression level.
func NewPNGEncoder(level png.CompressionLevel) *PNGEncoder {
	return &PNGEncoder{enc: png.Encoder{CompressionLevel: level}}
}

// SetCaption sets the text drawn on every encoded frame. Empty disables it.
func (e *PNGEncoder) SetCaption(text string) {
	e.caption = text
}

func (e *PNGEncoder) Encode(img *image.RGBA) ([]byte, error) {
	if e.caption != "" {
		img = Caption(img, e.caption)
	}
	var buf bytes.Buffer
	buf.Grow(len(img.Pix) / 4)
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var captionColor = color.RGBA{R: 255, G: 255, A: 255}

// Caption returns a copy of img with text drawn at the top-left corner.
func Caption(img *image.RGBA, text string) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(captionColor),
		Face: face,
		Dot:  fixed.P(bounds.Min.X+4, bounds.Min.Y+face.Metrics().Ascent.Ceil()+2),
	}
	d.DrawString(text)
	return out
}
