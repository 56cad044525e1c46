// Package event defines the render events produced by an engine and their
// wire form.
package event

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
)

// Type is the wire tag of an event.
type Type string

const (
	TypeSetPixel Type = "set_pixel"
	TypeUpdate   Type = "update"
	TypeFinish   Type = "finish"
)

// Event is one of SetPixelPatch, Update or Finish.
type Event interface {
	Type() Type
	isEvent()
}

// SetPixelPatch overwrites a rectangle of the frame buffer with one colour.
type SetPixelPatch struct {
	X, Y          int
	Width, Height int
	R, G, B, A    uint8
}

func (SetPixelPatch) Type() Type { return TypeSetPixel }
func (SetPixelPatch) isEvent()   {}

// Rect returns the patch rectangle.
func (p SetPixelPatch) Rect() image.Rectangle {
	return image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
}

// Color returns the patch colour.
func (p SetPixelPatch) Color() color.RGBA {
	return color.RGBA{R: p.R, G: p.G, B: p.B, A: p.A}
}

// Update asks the consumer to redraw the whole frame.
type Update struct{}

func (Update) Type() Type { return TypeUpdate }
func (Update) isEvent()   {}

// Finish is the last event of a stream. A non-nil Err marks an abnormal end.
type Finish struct {
	Err error
}

func (Finish) Type() Type { return TypeFinish }
func (Finish) isEvent()   {}

// Message is the canonical wire form of an event. Pointer fields let the
// decoder tell a missing field from a zero one.
type Message struct {
	Type   Type   `json:"type"`
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
	R      *int   `json:"r,omitempty"`
	G      *int   `json:"g,omitempty"`
	B      *int   `json:"b,omitempty"`
	A      *int   `json:"a,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToMessage converts an event to its wire form.
func ToMessage(e Event) (Message, error) {
	switch e := e.(type) {
	case SetPixelPatch:
		return Message{
			Type:   TypeSetPixel,
			X:      intPtr(e.X),
			Y:      intPtr(e.Y),
			Width:  intPtr(e.Width),
			Height: intPtr(e.Height),
			R:      intPtr(int(e.R)),
			G:      intPtr(int(e.G)),
			B:      intPtr(int(e.B)),
			A:      intPtr(int(e.A)),
		}, nil
	case Update:
		return Message{Type: TypeUpdate}, nil
	case Finish:
		m := Message{Type: TypeFinish}
		if e.Err != nil {
			m.Error = e.Err.Error()
		}
		return m, nil
	}
	return Message{}, fmt.Errorf("event: unsupported event %T", e)
}

// Encode marshals an event to JSON.
func Encode(e Event) ([]byte, error) {
	m, err := ToMessage(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func intPtr(v int) *int { return &v }
